package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"etfmomentum/internal/report"
	"etfmomentum/internal/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and inspect saved backtest runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent saved runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one saved run with its holdings",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openRuns() (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	return s, nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	runs, err := openRuns()
	if err != nil {
		return err
	}
	defer runs.Close()

	list, err := runs.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no saved runs")
		return nil
	}

	rows := make([]report.Row, len(list))
	for i, r := range list {
		rows[i] = report.Row{
			Label:   fmt.Sprintf("#%d %s %s top %d", r.ID, r.Strategy, r.Frequency, r.TopN),
			Summary: r.Summary,
			Skipped: r.Skipped,
		}
	}
	return report.WriteTable(cmd.OutOrStdout(), rows)
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q", args[0])
	}
	runs, err := openRuns()
	if err != nil {
		return err
	}
	defer runs.Close()

	r, err := runs.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %d  created %s\n", r.ID, r.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "strategy %s  frequency %s  top_n %d  lookback %d/%d months\n",
		r.Strategy, r.Frequency, r.TopN, r.ShortLookback, r.LongLookback)
	fmt.Fprintf(out, "universe %v\n", r.Symbols)
	if r.Benchmark != "" {
		fmt.Fprintf(out, "benchmark %s\n", r.Benchmark)
	}
	fmt.Fprintln(out)
	if err := report.WriteTable(out, []report.Row{{Label: "run", Summary: r.Summary, Skipped: r.Skipped}}); err != nil {
		return err
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tHOLDINGS")
	prev := ""
	for i, d := range r.Weights.Dates {
		var held []string
		for j, a := range r.Weights.Assets {
			if w := r.Weights.Rows[i][j]; w != 0 {
				held = append(held, fmt.Sprintf("%s %.1f%%", a, w*100))
			}
		}
		// Only print dates where the holdings change.
		if line := fmt.Sprint(held); line != prev {
			fmt.Fprintf(tw, "%s\t%s\n", d.Format(time.DateOnly), line)
			prev = line
		}
	}
	return tw.Flush()
}
