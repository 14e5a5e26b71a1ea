package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"etfmomentum/internal/domain"
	"etfmomentum/internal/report"
	"etfmomentum/internal/store"
	"etfmomentum/internal/strategy"
	"etfmomentum/internal/sweep"
)

var (
	swFlags       requestFlags
	swFrequencies string
	swMinTopN     int
	swMaxTopN     int
	swWorkers     int
	swRank        string
	swCharts      bool
	swSave        bool
	swOut         string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Backtest every frequency and top_n combination",
	Long: "Load the price table once and backtest every combination of rebalancing\n" +
		"frequency and portfolio size in parallel. Failed cells are reported and\n" +
		"do not stop the sweep.",
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	swFlags.register(sweepCmd, true)
	fs := sweepCmd.Flags()
	fs.StringVar(&swFrequencies, "frequencies", "", "comma-separated frequencies (default sweep.frequencies)")
	fs.IntVar(&swMinTopN, "min-top-n", 0, "smallest top_n (default sweep.min_top_n)")
	fs.IntVar(&swMaxTopN, "max-top-n", 0, "largest top_n (default sweep.max_top_n)")
	fs.IntVar(&swWorkers, "workers", 0, "parallel backtests (default sweep.workers)")
	fs.StringVar(&swRank, "rank", "cagr", "statistic used to pick the best cell: cagr or sharpe")
	fs.BoolVar(&swCharts, "charts", false, "write an equity curve chart for every cell")
	fs.BoolVar(&swSave, "save", false, "save every successful cell to the SQLite run store")
	fs.StringVar(&swOut, "out", "", "chart directory (default report.output_dir)")
	rootCmd.AddCommand(sweepCmd)
}

func rankBy(name string) (func(*strategy.Report) float64, error) {
	switch name {
	case "cagr":
		return func(r *strategy.Report) float64 { return r.Summary.CAGR }, nil
	case "sharpe":
		return func(r *strategy.Report) float64 { return r.Summary.Sharpe }, nil
	default:
		return nil, fmt.Errorf("unknown --rank %q (want cagr or sharpe)", name)
	}
}

// sweepTable loads the price table shared by every cell. A benchmark that is
// not a column of the table is dropped with a warning.
func sweepTable(cmd *cobra.Command, req *strategy.Request) (*domain.PriceTable, error) {
	var table *domain.PriceTable
	var err error
	if swFlags.csv != "" {
		if table, err = readCSVTable(swFlags.csv); err != nil {
			return nil, fmt.Errorf("reading %s: %w", swFlags.csv, err)
		}
	} else {
		table, err = store.LoadPriceTable(cmd.Context(), store.NewParquetStore(cfg.Storage.DataDir),
			req.Symbols, req.Market, req.Start, req.End, slog.Default())
		if err != nil {
			return nil, err
		}
	}
	if req.Benchmark != "" {
		if _, ok := table.Column(req.Benchmark); !ok {
			slog.Warn("benchmark is not in the sweep universe, disabling", "benchmark", req.Benchmark)
			req.Benchmark = ""
		}
	}
	return table, nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	score, err := rankBy(swRank)
	if err != nil {
		return err
	}
	req, err := cfg.Request(time.Now())
	if err != nil {
		return err
	}
	if err := swFlags.apply(cmd, &req); err != nil {
		return err
	}

	sc := cfg.Sweep
	if cmd.Flags().Changed("frequencies") {
		sc.Frequencies = splitList(swFrequencies)
	}
	if cmd.Flags().Changed("min-top-n") {
		sc.MinTopN = swMinTopN
	}
	if cmd.Flags().Changed("max-top-n") {
		sc.MaxTopN = swMaxTopN
	}
	if cmd.Flags().Changed("workers") {
		sc.Workers = swWorkers
	}
	grid, err := sc.Grid()
	if err != nil {
		return err
	}

	table, err := sweepTable(cmd, &req)
	if err != nil {
		return err
	}

	bt := strategy.NewBacktester(nil, newRegistry(), slog.Default())
	cells, err := sweep.NewRunner(bt, sc.Workers, slog.Default()).Run(ctx, table, req, grid)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var rows []report.Row
	var ok []*strategy.Report
	for _, c := range cells {
		if c.Err != nil {
			fmt.Fprintf(out, "%s top %d: %v\n", c.Frequency, c.TopN, c.Err)
			continue
		}
		rows = append(rows, report.Row{
			Label:   fmt.Sprintf("%s top %d", c.Frequency, c.TopN),
			Summary: c.Report.Summary,
			Skipped: c.Report.Result.Skipped(),
		})
		ok = append(ok, c.Report)
	}
	if len(ok) == 0 {
		return fmt.Errorf("all %d sweep cells failed", len(cells))
	}
	if req.Benchmark != "" && ok[0].Benchmark.Len() > 0 {
		rows = append(rows, report.Row{Label: req.Benchmark, Summary: ok[0].BenchmarkSummary})
	}
	if err := report.WriteTable(out, rows); err != nil {
		return err
	}

	if best := sweep.Best(cells, score); best != nil {
		fmt.Fprintf(out, "\nbest by %s: %s top %d\n", swRank, best.Frequency, best.TopN)
	}

	if swCharts {
		dir := cfg.Report.OutputDir
		if swOut != "" {
			dir = swOut
		}
		for _, rep := range ok {
			path, err := report.WriteEquityCurve(dir, rep)
			if err != nil {
				slog.Warn("equity curve skipped",
					"frequency", rep.Request.Engine.Frequency.String(),
					"top_n", rep.Request.Engine.TopN,
					"error", err,
				)
				continue
			}
			fmt.Fprintln(out, "wrote", path)
		}
	}

	if swSave {
		ids, err := saveRuns(ctx, ok...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "saved %d runs\n", len(ids))
	}
	return nil
}
