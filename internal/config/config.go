// Package config loads the YAML configuration shared by the momentum
// binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"etfmomentum/internal/domain"
	"etfmomentum/internal/engine"
	"etfmomentum/internal/metrics"
	"etfmomentum/internal/strategy"
	"etfmomentum/internal/sweep"
)

// DefaultPath is used when MOMENTUM_CONFIG is unset.
const DefaultPath = "config/momentum.yaml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
	Gather   Gather   `yaml:"gather"`
	Backtest Backtest `yaml:"backtest"`
	Metrics  Metrics  `yaml:"metrics"`
	Sweep    Sweep    `yaml:"sweep"`
	Report   Report   `yaml:"report"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir" default:"data" validate:"required"`
	SQLitePath string `yaml:"sqlite_path" default:"data/momentum.db" validate:"required"`
}

// Server holds network listener configuration.
type Server struct {
	Host        string `yaml:"host" default:"0.0.0.0"`
	GRPCPort    int    `yaml:"grpc_port" default:"9090" validate:"gt=0,lt=65536"`
	MetricsPort int    `yaml:"metrics_port" default:"9091" validate:"gt=0,lt=65536"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url" default:"https://api.alpaca.markets" validate:"url"`
	DataURL   string `yaml:"data_url" validate:"omitempty,url"`
	Feed      string `yaml:"feed" default:"iex" validate:"oneof=sip iex"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json text"`
}

// Gather controls the ETF daily bar download.
type Gather struct {
	StartDate       string   `yaml:"start_date" default:"2015-01-01" validate:"datetime=2006-01-02"`
	Symbols         []string `yaml:"symbols"`
	SymbolsFile     string   `yaml:"symbols_file"`
	BatchSize       int      `yaml:"batch_size" default:"100" validate:"gt=0"`
	MaxWorkers      int      `yaml:"max_workers" default:"2" validate:"gt=0"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min" default:"180" validate:"gte=0"`
	Retries         int      `yaml:"retries" default:"3" validate:"gt=0"`
}

// Backtest holds the parameters of a single backtest.
type Backtest struct {
	Strategy            string   `yaml:"strategy" default:"dual-momentum" validate:"required"`
	Symbols             []string `yaml:"symbols"`
	Market              string   `yaml:"market" default:"us" validate:"required"`
	Start               string   `yaml:"start" default:"2015-01-01" validate:"datetime=2006-01-02"`
	End                 string   `yaml:"end" validate:"omitempty,datetime=2006-01-02"`
	Frequency           string   `yaml:"frequency" default:"1ME" validate:"frequency"`
	TopN                int      `yaml:"top_n" default:"3" validate:"gt=0"`
	ShortLookbackMonths int      `yaml:"short_lookback_months" default:"3" validate:"gt=0"`
	LongLookbackMonths  int      `yaml:"long_lookback_months" default:"12" validate:"gt=0"`
	FillToleranceDays   int      `yaml:"fill_tolerance_days" validate:"gte=0"`
	Benchmark           string   `yaml:"benchmark" default:"SPY"`
}

// Metrics holds the annualisation constants.
type Metrics struct {
	RiskFreeRate   float64 `yaml:"risk_free_rate" default:"0.02"`
	PeriodsPerYear float64 `yaml:"periods_per_year" default:"252" validate:"gt=0"`
}

// Sweep defines the parameter grid of a sweep.
type Sweep struct {
	Frequencies []string `yaml:"frequencies" default:"[\"1D\",\"1W\",\"2W\",\"1ME\",\"2ME\",\"1Q\",\"2Q\"]" validate:"min=1,dive,frequency"`
	MinTopN     int      `yaml:"min_top_n" default:"1" validate:"gt=0"`
	MaxTopN     int      `yaml:"max_top_n" default:"10" validate:"gtefield=MinTopN"`
	Workers     int      `yaml:"workers" default:"4" validate:"gt=0"`
}

// Report controls output files.
type Report struct {
	OutputDir string `yaml:"output_dir" default:"output" validate:"required"`
	Chart     bool   `yaml:"chart" default:"true"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config populated from struct defaults only.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Path returns MOMENTUM_CONFIG when set, otherwise DefaultPath.
func Path() string {
	if p := os.Getenv("MOMENTUM_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at path over the defaults, applies
// environment variable overrides and validates the result. An empty path
// means Path(); a missing default file yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = Path()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit && os.Getenv("MOMENTUM_CONFIG") == "":
	default:
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MOMENTUM_FREQUENCY"); v != "" {
		cfg.Backtest.Frequency = v
	}
	if v := os.Getenv("MOMENTUM_TOP_N"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MOMENTUM_TOP_N=%q is not an integer", ErrInvalid, v)
		}
		cfg.Backtest.TopN = n
	}

	// Standard Alpaca env vars used by the SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("frequency", func(fl validator.FieldLevel) bool {
		_, err := engine.ParseFrequency(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, errorMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func errorMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be less than %s", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must be a date in %s form", field, fe.Param())
	case "frequency":
		return fmt.Sprintf("%s: unsupported frequency %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

// Universe returns the configured backtest symbols or the default ETF
// universe.
func (b Backtest) Universe() []string {
	if len(b.Symbols) == 0 {
		return append([]string(nil), domain.DefaultUniverse...)
	}
	return normalizeSymbols(b.Symbols)
}

// EngineConfig converts the backtest section into an engine configuration.
func (b Backtest) EngineConfig() (engine.Config, error) {
	freq, err := engine.ParseFrequency(b.Frequency)
	if err != nil {
		return engine.Config{}, err
	}
	cfg := engine.Config{
		Frequency:           freq,
		TopN:                b.TopN,
		ShortLookbackMonths: b.ShortLookbackMonths,
		LongLookbackMonths:  b.LongLookbackMonths,
		FillTolerance:       time.Duration(b.FillToleranceDays) * 24 * time.Hour,
	}
	return cfg, cfg.Validate()
}

// Range returns the backtest date range. An empty end means today.
func (b Backtest) Range(now time.Time) (start, end time.Time, err error) {
	start, err = time.Parse(time.DateOnly, b.Start)
	if err != nil {
		return start, end, fmt.Errorf("%w: backtest.start: %v", ErrInvalid, err)
	}
	if b.End == "" {
		y, m, d := now.Date()
		return start, time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	end, err = time.Parse(time.DateOnly, b.End)
	if err != nil {
		return start, end, fmt.Errorf("%w: backtest.end: %v", ErrInvalid, err)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("%w: backtest.end %s before start %s", ErrInvalid, b.End, b.Start)
	}
	return start, end, nil
}

// Options converts the metrics section.
func (m Metrics) Options() metrics.Options {
	return metrics.Options{RiskFreeRate: m.RiskFreeRate, PeriodsPerYear: m.PeriodsPerYear}
}

// Grid converts the sweep section.
func (s Sweep) Grid() (sweep.Grid, error) {
	return sweep.ParseGrid(strings.Join(s.Frequencies, ","), s.MinTopN, s.MaxTopN)
}

// Request assembles a backtest request from the backtest and metrics
// sections.
func (c *Config) Request(now time.Time) (strategy.Request, error) {
	ecfg, err := c.Backtest.EngineConfig()
	if err != nil {
		return strategy.Request{}, err
	}
	start, end, err := c.Backtest.Range(now)
	if err != nil {
		return strategy.Request{}, err
	}
	return strategy.Request{
		Strategy:  c.Backtest.Strategy,
		Symbols:   c.Backtest.Universe(),
		Market:    c.Backtest.Market,
		Start:     start,
		End:       end,
		Engine:    ecfg,
		Benchmark: strings.ToUpper(c.Backtest.Benchmark),
		Metrics:   c.Metrics.Options(),
	}, nil
}

// Universe returns the gather universe or the default ETF universe.
func (g Gather) Universe() []string {
	if len(g.Symbols) == 0 {
		return append([]string(nil), domain.DefaultUniverse...)
	}
	return normalizeSymbols(g.Symbols)
}

// Start parses StartDate.
func (g Gather) Start() (time.Time, error) {
	return time.Parse(time.DateOnly, g.StartDate)
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
