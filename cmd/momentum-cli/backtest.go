package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"etfmomentum/internal/domain"
	"etfmomentum/internal/engine"
	"etfmomentum/internal/report"
	"etfmomentum/internal/store"
	"etfmomentum/internal/strategy"
	"etfmomentum/internal/strategy/builtins"
)

// requestFlags are shared by backtest, sweep and remote.
type requestFlags struct {
	csv       string
	symbols   string
	strategy  string
	frequency string
	topN      int
	short     int
	long      int
	start     string
	end       string
	benchmark string
}

func (f *requestFlags) register(cmd *cobra.Command, withCSV bool) {
	fs := cmd.Flags()
	if withCSV {
		fs.StringVar(&f.csv, "csv", "", "wide price CSV (Date,SYM1,SYM2,...) instead of the bar cache")
	}
	fs.StringVar(&f.symbols, "symbols", "", "comma-separated ETF universe")
	fs.StringVar(&f.strategy, "strategy", "", "strategy name")
	fs.StringVar(&f.frequency, "frequency", "", "rebalancing frequency, e.g. 1W, 2W, 1ME, 1Q")
	fs.IntVar(&f.topN, "top-n", 0, "number of ETFs to hold")
	fs.IntVar(&f.short, "short-lookback", 0, "short lookback in months")
	fs.IntVar(&f.long, "long-lookback", 0, "long lookback in months")
	fs.StringVar(&f.start, "start", "", "first date YYYY-MM-DD")
	fs.StringVar(&f.end, "end", "", "last date YYYY-MM-DD")
	fs.StringVar(&f.benchmark, "benchmark", "", "benchmark symbol, \"none\" to disable")
}

// apply overlays explicitly set flags on req.
func (f *requestFlags) apply(cmd *cobra.Command, req *strategy.Request) error {
	fs := cmd.Flags()
	if fs.Changed("symbols") {
		req.Symbols = splitList(f.symbols)
	}
	if fs.Changed("strategy") {
		req.Strategy = f.strategy
	}
	if fs.Changed("frequency") {
		freq, err := engine.ParseFrequency(f.frequency)
		if err != nil {
			return err
		}
		req.Engine.Frequency = freq
	}
	if fs.Changed("top-n") {
		req.Engine.TopN = f.topN
	}
	if fs.Changed("short-lookback") {
		req.Engine.ShortLookbackMonths = f.short
	}
	if fs.Changed("long-lookback") {
		req.Engine.LongLookbackMonths = f.long
	}
	if fs.Changed("benchmark") {
		req.Benchmark = ""
		if b := splitList(f.benchmark); len(b) == 1 && b[0] != "NONE" {
			req.Benchmark = b[0]
		}
	}
	var err error
	if fs.Changed("start") {
		if req.Start, err = time.Parse(time.DateOnly, f.start); err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
	}
	if fs.Changed("end") {
		if req.End, err = time.Parse(time.DateOnly, f.end); err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
	}
	return req.Engine.Validate()
}

var (
	btFlags   requestFlags
	btOut     string
	btSave    bool
	btNoChart bool
	btPeriods bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run one momentum backtest",
	Long: "Run the dual momentum strategy over the configured ETF universe and print\n" +
		"performance statistics. Value and weight CSVs and the equity curve chart\n" +
		"are written to the output directory.",
	Args: cobra.NoArgs,
	RunE: runBacktest,
}

func init() {
	btFlags.register(backtestCmd, true)
	backtestCmd.Flags().StringVar(&btOut, "out", "", "output directory (default report.output_dir)")
	backtestCmd.Flags().BoolVar(&btSave, "save", false, "save the run to the SQLite run store")
	backtestCmd.Flags().BoolVar(&btNoChart, "no-chart", false, "skip the equity curve chart")
	backtestCmd.Flags().BoolVar(&btPeriods, "periods", false, "print every rebalance period")
	rootCmd.AddCommand(backtestCmd)
}

func newRegistry() *strategy.Registry { return builtins.NewRegistry() }

func newBacktester() *strategy.Backtester {
	return strategy.NewBacktester(store.NewParquetStore(cfg.Storage.DataDir), newRegistry(), slog.Default())
}

// readCSVTable loads a price CSV file.
func readCSVTable(path string) (*domain.PriceTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return store.ReadPriceCSV(f)
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	req, err := cfg.Request(time.Now())
	if err != nil {
		return err
	}
	if err := btFlags.apply(cmd, &req); err != nil {
		return err
	}

	bt := newBacktester()
	var rep *strategy.Report
	if btFlags.csv != "" {
		table, err := readCSVTable(btFlags.csv)
		if err != nil {
			return fmt.Errorf("reading %s: %w", btFlags.csv, err)
		}
		rep, err = bt.RunTable(ctx, table, req)
		if err != nil {
			return err
		}
	} else if rep, err = bt.Run(ctx, req); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := report.WriteTable(out, report.Rows(rep)); err != nil {
		return err
	}
	if btPeriods {
		fmt.Fprintln(out)
		if err := report.WriteOutcomes(out, rep); err != nil {
			return err
		}
	}

	dir := cfg.Report.OutputDir
	if btOut != "" {
		dir = btOut
	}
	files, err := writeArtifacts(dir, rep, cfg.Report.Chart && !btNoChart)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintln(out, "wrote", f)
	}

	if btSave {
		id, err := saveRuns(ctx, rep)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "saved run %d\n", id[0])
	}
	return nil
}

// writeArtifacts writes the value CSV, weights CSV and, when chart is set,
// the equity curve PNG into dir.
func writeArtifacts(dir string, rep *strategy.Report, chart bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tag := fmt.Sprintf("%s_top_%d", rep.Request.Engine.Frequency, rep.Request.Engine.TopN)

	var files []string
	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
		files = append(files, path)
		return f.Close()
	}

	if err := write("portfolio_value_"+tag+".csv", func(w io.Writer) error {
		return report.WriteValueCSV(w, rep.Result.Value, rep.Benchmark, rep.Request.Benchmark)
	}); err != nil {
		return files, err
	}
	if err := write("weights_"+tag+".csv", func(w io.Writer) error {
		return report.WriteWeightsCSV(w, rep.Result.Weights)
	}); err != nil {
		return files, err
	}

	if chart {
		path, err := report.WriteEquityCurve(dir, rep)
		switch {
		case errors.Is(err, report.ErrTooShort):
			slog.Warn("equity curve skipped", "reason", err)
		case err != nil:
			return files, err
		default:
			files = append(files, path)
		}
	}
	return files, nil
}

// saveRuns persists reports to the SQLite run store and returns their IDs.
func saveRuns(ctx context.Context, reps ...*strategy.Report) ([]int64, error) {
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	defer runs.Close()

	ids := make([]int64, 0, len(reps))
	for _, rep := range reps {
		id, err := runs.SaveRun(ctx, rep.Record())
		if err != nil {
			return ids, fmt.Errorf("saving run: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
