package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"etfmomentum/internal/domain"
	"etfmomentum/internal/engine"
	"etfmomentum/internal/metrics"
	"etfmomentum/internal/store"
)

// Request describes one backtest.
type Request struct {
	Strategy  string
	Symbols   []string
	Market    string
	Start     time.Time
	End       time.Time
	Engine    engine.Config
	Benchmark string // empty disables the benchmark
	Metrics   metrics.Options
}

// Report is the outcome of a backtest run.
type Report struct {
	Request          Request
	Result           *engine.Result
	Summary          metrics.Summary
	Benchmark        domain.Series
	BenchmarkSummary metrics.Summary
	// Correlation of the strategy's log returns with the benchmark's.
	Correlation float64
}

// Record converts the report into a persistable run.
func (r *Report) Record() *store.RunRecord {
	return &store.RunRecord{
		Strategy:      r.Request.Strategy,
		Frequency:     r.Request.Engine.Frequency.String(),
		TopN:          r.Request.Engine.TopN,
		ShortLookback: r.Request.Engine.ShortLookbackMonths,
		LongLookback:  r.Request.Engine.LongLookbackMonths,
		Symbols:       append([]string(nil), r.Result.Assets...),
		Benchmark:     r.Request.Benchmark,
		Skipped:       r.Result.Skipped(),
		Summary:       r.Summary,
		Value:         r.Result.Value,
		Weights:       r.Result.Weights,
	}
}

// Backtester loads prices from a bar store, runs a registered strategy
// through the engine and computes performance metrics.
type Backtester struct {
	store    store.BarStore
	registry *Registry
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from the given store and
// looks up strategies in the provided registry. The store may be nil when
// only RunTable is used.
func NewBacktester(barStore store.BarStore, registry *Registry, log *slog.Logger) *Backtester {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Backtester{
		store:    barStore,
		registry: registry,
		log:      log,
	}
}

// Run loads the requested symbols from the bar store and backtests them.
func (bt *Backtester) Run(ctx context.Context, req Request) (*Report, error) {
	if bt.store == nil {
		return nil, fmt.Errorf("backtest: no bar store configured")
	}
	if len(req.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols requested", engine.ErrConfig)
	}
	if req.Market == "" {
		req.Market = string(domain.MarketUS)
	}
	end := req.End
	if end.IsZero() {
		end = time.Now().UTC()
	}

	symbols := req.Symbols
	if req.Benchmark != "" && !slices.Contains(symbols, req.Benchmark) {
		// The benchmark is priced but never held.
		symbols = append(slices.Clone(symbols), req.Benchmark)
	}
	table, err := store.LoadPriceTable(ctx, bt.store, symbols, req.Market, req.Start, end, bt.log)
	if err != nil {
		return nil, err
	}

	universe, bench, err := splitBenchmark(table, req.Symbols, req.Benchmark)
	if err != nil {
		return nil, err
	}
	return bt.run(ctx, universe, bench, req)
}

// RunTable backtests an in-memory price table, e.g. one read from CSV. The
// benchmark, if set, must be a column of table and stays in the universe.
func (bt *Backtester) RunTable(ctx context.Context, table *domain.PriceTable, req Request) (*Report, error) {
	return bt.run(ctx, table, table, req)
}

func (bt *Backtester) run(ctx context.Context, universe, benchTable *domain.PriceTable, req Request) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Strategy == "" {
		req.Strategy = DefaultStrategy
	}
	if req.Metrics == (metrics.Options{}) {
		req.Metrics = metrics.DefaultOptions()
	}
	strat, ok := bt.registry.Get(req.Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", engine.ErrConfig, req.Strategy)
	}

	log := bt.log.With(
		"strategy", strat.Name(),
		"frequency", req.Engine.Frequency.String(),
		"top_n", req.Engine.TopN,
	)
	eng, err := engine.New(universe, req.Engine, engine.WithLogger(log), engine.WithSelector(strat))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := eng.Run()
	rep := &Report{
		Request:     req,
		Result:      res,
		Summary:     metrics.Summarize(res.Value, req.Metrics),
		Correlation: math.NaN(),
	}

	if req.Benchmark != "" && benchTable != nil {
		bench, err := metrics.Benchmark(benchTable, req.Benchmark, res.Value.Dates, 1.0)
		if err != nil {
			log.Warn("benchmark unavailable", "benchmark", req.Benchmark, "error", err)
		} else {
			rep.Benchmark = bench
			rep.BenchmarkSummary = metrics.Summarize(bench, req.Metrics)
			rep.Correlation = metrics.Correlation(res.Value.Values, bench.Values)
		}
	}

	log.Info("backtest complete",
		"dates", res.Value.Len(),
		"skipped", res.Skipped(),
		"final_value", rep.Summary.FinalValue,
		"cagr", rep.Summary.CAGR,
		"elapsed", time.Since(start),
	)
	return rep, nil
}

// splitBenchmark returns the universe table restricted to symbols and, when
// the benchmark is outside the universe, a one-column table for it. The
// universe table keeps only rows where at least one universe symbol trades.
func splitBenchmark(table *domain.PriceTable, symbols []string, benchmark string) (*domain.PriceTable, *domain.PriceTable, error) {
	if benchmark == "" || slices.Contains(symbols, benchmark) {
		return table, table, nil
	}

	var (
		keep  []string
		cols  [][]float64
		bench *domain.PriceTable
		err   error
	)
	dates := table.Dates()
	for j := 0; j < table.NumAssets(); j++ {
		col := make([]float64, table.Len())
		for i := range col {
			col[i] = table.Value(j, i)
		}
		if table.Symbol(j) == benchmark {
			bench, err = domain.NewPriceTable(dates, []string{benchmark}, [][]float64{col})
			if err != nil {
				return nil, nil, err
			}
			continue
		}
		keep = append(keep, table.Symbol(j))
		cols = append(cols, col)
	}
	if len(keep) == 0 {
		return nil, nil, fmt.Errorf("%w: no universe symbols have data", store.ErrNoPriceData)
	}

	// Rows only the benchmark has would move the universe's first date, and
	// with it the warmup boundary.
	var rows []int
	for i := range dates {
		for _, col := range cols {
			if !math.IsNaN(col[i]) {
				rows = append(rows, i)
				break
			}
		}
	}
	if len(rows) < len(dates) {
		kept := make([]time.Time, len(rows))
		for k, i := range rows {
			kept[k] = dates[i]
		}
		for j, col := range cols {
			trimmed := make([]float64, len(rows))
			for k, i := range rows {
				trimmed[k] = col[i]
			}
			cols[j] = trimmed
		}
		dates = kept
	}
	universe, err := domain.NewPriceTable(dates, keep, cols)
	if err != nil {
		return nil, nil, err
	}
	return universe, bench, nil
}
