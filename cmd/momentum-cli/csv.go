package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"etfmomentum/internal/domain"
	"etfmomentum/internal/store"
)

var (
	importMarket string

	exportSymbols string
	exportStart   string
	exportEnd     string
	exportOut     string
)

var importCmd = &cobra.Command{
	Use:   "import-csv <file>",
	Short: "Load a wide price CSV into the bar cache",
	Long: "Read a Date,SYM1,SYM2,... price CSV, print missing-data statistics per\n" +
		"column and write every observation to the Parquet bar cache.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export-csv",
	Short: "Write cached closes as a wide price CSV",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	importCmd.Flags().StringVar(&importMarket, "market", string(domain.MarketUS), "market partition to write")
	rootCmd.AddCommand(importCmd)

	fs := exportCmd.Flags()
	fs.StringVar(&exportSymbols, "symbols", "", "comma-separated symbols (default backtest universe)")
	fs.StringVar(&exportStart, "start", "", "first date YYYY-MM-DD (default backtest.start)")
	fs.StringVar(&exportEnd, "end", "", "last date YYYY-MM-DD (default backtest.end or today)")
	fs.StringVar(&exportOut, "out", "", "output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}

func writeStats(w io.Writer, table *domain.PriceTable) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SYMBOL\tOBS\tLEADING NaN\tINTERIOR NaN\tLONGEST GAP\t")
	for _, st := range table.Stats() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%dd\t\n",
			st.Symbol, st.Observation, st.Leading, st.Interior, int(st.LongestGap.Hours()/24))
	}
	return tw.Flush()
}

func runImport(cmd *cobra.Command, args []string) error {
	table, err := readCSVTable(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	out := cmd.OutOrStdout()
	if err := writeStats(out, table); err != nil {
		return err
	}

	bars := store.BarsFromTable(table)
	if err := store.NewParquetStore(cfg.Storage.DataDir).WriteBars(cmd.Context(), importMarket, bars); err != nil {
		return fmt.Errorf("writing bars: %w", err)
	}
	slog.Info("csv imported", "file", args[0], "symbols", table.NumAssets(), "bars", len(bars))
	fmt.Fprintf(out, "imported %d bars for %d symbols\n", len(bars), table.NumAssets())
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	req, err := cfg.Request(time.Now())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("symbols") {
		req.Symbols = splitList(exportSymbols)
	}
	if exportStart != "" {
		if req.Start, err = time.Parse(time.DateOnly, exportStart); err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
	}
	if exportEnd != "" {
		if req.End, err = time.Parse(time.DateOnly, exportEnd); err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
	}

	table, err := store.LoadPriceTable(cmd.Context(), store.NewParquetStore(cfg.Storage.DataDir),
		req.Symbols, req.Market, req.Start, req.End, slog.Default())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := store.WritePriceCSV(w, table); err != nil {
		return err
	}
	if exportOut != "" {
		slog.Info("csv exported", "file", exportOut, "symbols", table.NumAssets(), "rows", table.Len())
	}
	return nil
}
