package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"etfmomentum/internal/engine"
)

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MOMENTUM_CONFIG", "DATA_DIR", "SQLITE_PATH", "ALPACA_DATA_URL", "LOG_LEVEL",
		"MOMENTUM_FREQUENCY", "MOMENTUM_TOP_N", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "momentum.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/momentum/data"
alpaca:
  api_key: "test-key"
  feed: "sip"
backtest:
  symbols: [spy, tlt, SPY, " gld "]
  frequency: "2W"
  top_n: 2
  end: "2024-06-28"
sweep:
  frequencies: ["1ME", "1Q"]
  max_top_n: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/momentum/data" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.SQLitePath != "data/momentum.db" {
		t.Errorf("SQLitePath = %q, want default", cfg.Storage.SQLitePath)
	}
	if cfg.Alpaca.APIKey != "test-key" || cfg.Alpaca.Feed != "sip" {
		t.Errorf("Alpaca = %+v", cfg.Alpaca)
	}
	if cfg.Backtest.LongLookbackMonths != 12 || cfg.Backtest.Benchmark != "SPY" {
		t.Errorf("Backtest defaults not applied: %+v", cfg.Backtest)
	}
	if got := strings.Join(cfg.Backtest.Universe(), ","); got != "SPY,TLT,GLD" {
		t.Errorf("Universe() = %s, want SPY,TLT,GLD", got)
	}

	req, err := cfg.Request(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if req.Engine.Frequency != (engine.Frequency{N: 2, Unit: engine.Week}) || req.Engine.TopN != 2 {
		t.Errorf("engine config = %+v", req.Engine)
	}
	if req.End.Format(time.DateOnly) != "2024-06-28" || req.Start.Format(time.DateOnly) != "2015-01-01" {
		t.Errorf("range = %v..%v", req.Start, req.End)
	}
	if req.Metrics.RiskFreeRate != 0.02 || req.Metrics.PeriodsPerYear != 252 {
		t.Errorf("metrics = %+v", req.Metrics)
	}

	grid, err := cfg.Sweep.Grid()
	if err != nil {
		t.Fatal(err)
	}
	if grid.Size() != 8 {
		t.Errorf("grid size = %d, want 8", grid.Size())
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Backtest.Frequency != "1ME" || cfg.Backtest.TopN != 3 || cfg.Backtest.ShortLookbackMonths != 3 {
		t.Errorf("Backtest = %+v", cfg.Backtest)
	}
	if !cfg.Report.Chart {
		t.Error("Report.Chart should default to true")
	}
	if n := len(cfg.Backtest.Universe()); n != 30 {
		t.Errorf("default universe has %d symbols, want 30", n)
	}
	grid, err := cfg.Sweep.Grid()
	if err != nil {
		t.Fatal(err)
	}
	if grid.Size() != 70 {
		t.Errorf("default grid size = %d, want 70", grid.Size())
	}
	if _, err := cfg.Gather.Start(); err != nil {
		t.Errorf("Gather.Start: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "logging:\n  level: info\n")

	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MOMENTUM_TOP_N", "5")
	t.Setenv("MOMENTUM_FREQUENCY", "1Q")
	t.Setenv("APCA_API_KEY_ID", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("DataDir = %q, want /env/data", cfg.Storage.DataDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Backtest.TopN != 5 || cfg.Backtest.Frequency != "1Q" {
		t.Errorf("Backtest = %+v", cfg.Backtest)
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Alpaca.APIKey)
	}

	t.Setenv("MOMENTUM_TOP_N", "three")
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("Load with bad MOMENTUM_TOP_N = %v, want ErrInvalid", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"frequency", "backtest:\n  frequency: 1Y\n", "backtest.frequency"},
		{"top_n", "backtest:\n  top_n: 0\n", "backtest.top_n must be greater than 0"},
		{"feed", "alpaca:\n  feed: otc\n", "alpaca.feed must be one of: sip, iex"},
		{"sweep range", "sweep:\n  min_top_n: 5\n  max_top_n: 2\n", "sweep.max_top_n"},
		{"sweep frequency", "sweep:\n  frequencies: [1ME, 3Y]\n", "sweep.frequencies[1]"},
		{"date", "backtest:\n  start: 01/02/2015\n", "backtest.start must be a date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Load = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(explicit missing) = %v, want ErrNotExist", err)
	}
}

func TestBacktestRange(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)
	b := Backtest{Start: "2020-01-01"}
	_, end, err := b.Range(now)
	if err != nil {
		t.Fatal(err)
	}
	if !end.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("open end = %v, want today", end)
	}

	b.End = "2019-01-01"
	if _, _, err := b.Range(now); !errors.Is(err, ErrInvalid) {
		t.Errorf("Range(end before start) = %v, want ErrInvalid", err)
	}
}
