// Package engine runs the cross-sectional momentum backtest: it derives
// rebalancing dates from a price table, ranks assets over trailing windows,
// allocates equal slots to the winners and compounds the realised returns.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"etfmomentum/internal/domain"
)

// Config holds the simulation parameters.
type Config struct {
	Frequency           Frequency
	TopN                int
	ShortLookbackMonths int
	LongLookbackMonths  int
	// FillTolerance bounds how stale an as-of price may be. Zero means
	// unbounded.
	FillTolerance time.Duration
}

// DefaultConfig returns monthly rebalancing into the top 3 assets with 3 and
// 12 month lookbacks.
func DefaultConfig() Config {
	return Config{
		Frequency:           Frequency{N: 1, Unit: Month},
		TopN:                3,
		ShortLookbackMonths: 3,
		LongLookbackMonths:  12,
	}
}

// Validate reports configuration problems as errors wrapping ErrConfig.
func (c Config) Validate() error {
	if c.TopN <= 0 {
		return fmt.Errorf("%w: top_n must be positive, got %d", ErrConfig, c.TopN)
	}
	if c.ShortLookbackMonths <= 0 {
		return fmt.Errorf("%w: short lookback must be positive, got %d", ErrConfig, c.ShortLookbackMonths)
	}
	if c.LongLookbackMonths <= 0 {
		return fmt.Errorf("%w: long lookback must be positive, got %d", ErrConfig, c.LongLookbackMonths)
	}
	if c.Frequency.N < 1 || c.Frequency.Unit < Day || c.Frequency.Unit > Quarter {
		return fmt.Errorf("%w: unsupported frequency %v", ErrConfig, c.Frequency)
	}
	if c.FillTolerance < 0 {
		return fmt.Errorf("%w: negative fill tolerance %v", ErrConfig, c.FillTolerance)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// Status tags the outcome of one decision date.
type Status string

const (
	StatusActive  Status = "active"
	StatusSkipped Status = "skipped"
)

// PeriodOutcome records what happened on one active decision date.
type PeriodOutcome struct {
	Date      time.Time
	Status    Status
	Reason    string   // set when Status is StatusSkipped
	Selection []string // chosen assets in rank order
	// PeriodReturn is the portfolio return realised from the previous
	// decision date up to Date. It is 0 on the first date.
	PeriodReturn float64
}

// Result is the output of a run. Value, Weights and Outcomes all have one
// entry per active decision date.
type Result struct {
	Assets   []string
	Value    domain.Series
	Weights  domain.WeightHistory
	Outcomes []PeriodOutcome
}

// Skipped returns the number of decision dates recorded as skipped.
func (r *Result) Skipped() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusSkipped {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the diagnostics sink. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithSelector replaces the DualMomentum selection rule.
func WithSelector(s Selector) Option {
	return func(e *Engine) {
		if s != nil {
			e.selector = s
		}
	}
}

// Engine is a configured backtest over one price table. It only reads the
// table, so several engines may share it concurrently.
type Engine struct {
	table    *domain.PriceTable
	cfg      Config
	selector Selector
	eval     *Evaluator
	log      *slog.Logger
}

// New validates cfg against table and returns a ready Engine. Data quality
// issues in the table are logged as warnings and do not fail construction.
func New(table *domain.PriceTable, cfg Config, opts ...Option) (*Engine, error) {
	if table == nil || table.Len() == 0 || table.NumAssets() == 0 {
		return nil, fmt.Errorf("%w: empty price table", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		table:    table,
		cfg:      cfg,
		selector: DualMomentum{},
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.eval = NewEvaluator(table, cfg.FillTolerance)
	e.warnDataQuality()
	return e, nil
}

func (e *Engine) warnDataQuality() {
	for _, st := range e.table.Stats() {
		switch {
		case st.Observation == 0:
			e.log.Warn("asset has no prices", "symbol", st.Symbol)
		case st.Interior > 0:
			e.log.Warn("asset has interior gaps",
				"symbol", st.Symbol,
				"missing", st.Interior,
				"longest_gap", st.LongestGap,
			)
		}
		if e.cfg.FillTolerance > 0 && st.LongestGap > e.cfg.FillTolerance {
			e.log.Warn("gap exceeds fill tolerance",
				"symbol", st.Symbol,
				"longest_gap", st.LongestGap,
				"tolerance", e.cfg.FillTolerance,
			)
		}
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// ActiveDates returns the decision dates past the warmup boundary.
func (e *Engine) ActiveDates() []time.Time {
	warm := addMonths(e.table.Date(0), e.cfg.LongLookbackMonths)
	var out []time.Time
	for _, d := range DecisionDates(e.table, e.cfg.Frequency) {
		if d.Before(warm) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Run executes the backtest. Per-date failures become skipped outcomes with
// zero weights and zero return, so a run always completes. A holding period
// whose assets cannot be priced at its end returns 0 and leaves the earlier
// decision untouched.
func (e *Engine) Run() *Result {
	dates := e.ActiveDates()
	assets := e.table.Symbols()
	n := len(assets)

	res := &Result{
		Assets:   assets,
		Value:    domain.Series{Dates: dates, Values: []float64{}},
		Weights:  domain.WeightHistory{Assets: assets, Dates: append([]time.Time(nil), dates...), Rows: make([][]float64, len(dates))},
		Outcomes: make([]PeriodOutcome, len(dates)),
	}
	if len(dates) == 0 {
		e.log.Info("no decision dates after warmup",
			"first", e.table.Date(0).Format(time.DateOnly),
			"long_lookback_months", e.cfg.LongLookbackMonths,
		)
		res.Value.Dates = []time.Time{}
		res.Weights.Dates = []time.Time{}
		res.Weights.Rows = [][]float64{}
		return res
	}

	returns := make([]float64, len(dates))
	for i, d := range dates {
		if i > 0 {
			// Row i-1 is final once recorded. A holding period that cannot be
			// priced contributes 0.
			r, err := e.eval.ForwardReturn(res.Weights.Rows[i-1], dates[i-1], d)
			if err != nil {
				e.log.Warn("period return unavailable, using 0",
					"from", dates[i-1].Format(time.DateOnly),
					"to", d.Format(time.DateOnly),
					"error", err,
				)
				r = 0
			}
			returns[i] = r
			res.Outcomes[i].PeriodReturn = r
		}

		res.Outcomes[i].Date = d
		sel, err := e.decide(d)
		if err != nil {
			res.Weights.Rows[i] = make([]float64, n)
			e.skip(res, i, err)
			continue
		}
		res.Weights.Rows[i] = Allocate(sel, n, e.cfg.TopN)
		res.Outcomes[i].Status = StatusActive
		res.Outcomes[i].Selection = make([]string, len(sel))
		for k, j := range sel {
			res.Outcomes[i].Selection[k] = assets[j]
		}
	}

	res.Value.Values = Accumulate(returns)
	return res
}

func (e *Engine) decide(d time.Time) ([]int, error) {
	long, err := e.eval.Performance(d, e.cfg.LongLookbackMonths)
	if err != nil {
		return nil, fmt.Errorf("long lookback: %w", err)
	}
	short, err := e.eval.Performance(d, e.cfg.ShortLookbackMonths)
	if err != nil {
		return nil, fmt.Errorf("short lookback: %w", err)
	}
	sel := e.selector.Select(short, long, e.cfg.TopN)
	if !validateSelection(sel, e.table.NumAssets(), e.cfg.TopN) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelection, sel)
	}
	return sel, nil
}

// skip zeroes row i and marks it skipped.
func (e *Engine) skip(res *Result, i int, err error) {
	for j := range res.Weights.Rows[i] {
		res.Weights.Rows[i][j] = 0
	}
	o := &res.Outcomes[i]
	o.Status = StatusSkipped
	o.Reason = err.Error()
	o.Selection = nil
	e.log.Warn("period skipped",
		"date", res.Weights.Dates[i].Format(time.DateOnly),
		"error", err,
	)
}
