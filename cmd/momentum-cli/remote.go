package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"etfmomentum/internal/metrics"
	"etfmomentum/internal/report"
	"etfmomentum/pkg/momentum"
)

var (
	remoteAddr    string
	remoteFlags   requestFlags
	remoteSave    bool
	remoteTimeout time.Duration
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Run a backtest on a momentum-server over gRPC",
	Long: "Send a backtest request to a running momentum-server. Parameters that\n" +
		"are not given fall back to the server's configuration.",
	Args: cobra.NoArgs,
	RunE: runRemote,
}

func init() {
	remoteFlags.register(remoteCmd, false)
	remoteCmd.Flags().StringVar(&remoteAddr, "addr", "", "server address host:port (default server.grpc_port on localhost)")
	remoteCmd.Flags().BoolVar(&remoteSave, "save", false, "ask the server to save the run")
	remoteCmd.Flags().DurationVar(&remoteTimeout, "timeout", 2*time.Minute, "request timeout")
	rootCmd.AddCommand(remoteCmd)
}

func remoteRequest(cmd *cobra.Command) *momentum.BacktestRequest {
	fs := cmd.Flags()
	req := &momentum.BacktestRequest{Save: remoteSave}
	if fs.Changed("symbols") {
		req.Symbols = splitList(remoteFlags.symbols)
	}
	if fs.Changed("strategy") {
		req.Strategy = remoteFlags.strategy
	}
	if fs.Changed("frequency") {
		req.Frequency = remoteFlags.frequency
	}
	if fs.Changed("top-n") {
		req.TopN = remoteFlags.topN
	}
	if fs.Changed("short-lookback") {
		req.ShortLookbackMonths = remoteFlags.short
	}
	if fs.Changed("long-lookback") {
		req.LongLookbackMonths = remoteFlags.long
	}
	req.Start = remoteFlags.start
	req.End = remoteFlags.end
	req.Benchmark = remoteFlags.benchmark
	return req
}

func fromWire(s momentum.Summary, dates []string) metrics.Summary {
	out := metrics.Summary{
		FinalValue:  s.FinalValue,
		TotalReturn: s.TotalReturn,
		CAGR:        s.CAGR,
		Volatility:  s.Volatility,
		Sharpe:      s.Sharpe,
		MaxDrawdown: s.MaxDrawdown,
	}
	if len(dates) > 0 {
		out.Start, _ = time.Parse(time.DateOnly, dates[0])
		out.End, _ = time.Parse(time.DateOnly, dates[len(dates)-1])
	}
	return out
}

func runRemote(cmd *cobra.Command, _ []string) error {
	addr := remoteAddr
	if addr == "" {
		addr = fmt.Sprintf("localhost:%d", cfg.Server.GRPCPort)
	}
	client, err := momentum.NewClient(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := contextWithTimeout(cmd, remoteTimeout)
	defer cancel()
	resp, err := client.RunBacktest(ctx, remoteRequest(cmd))
	if err != nil {
		return fmt.Errorf("remote backtest: %w", err)
	}

	rows := []report.Row{{
		Label:   fmt.Sprintf("%s %s top %d", resp.Strategy, resp.Frequency, resp.TopN),
		Summary: fromWire(resp.Summary, resp.Dates),
		Skipped: resp.Skipped,
	}}
	if resp.Benchmark != "" {
		rows = append(rows, report.Row{Label: resp.Benchmark, Summary: fromWire(resp.BenchmarkSummary, resp.Dates)})
	}
	out := cmd.OutOrStdout()
	if err := report.WriteTable(out, rows); err != nil {
		return err
	}
	if resp.RunID != 0 {
		fmt.Fprintf(out, "saved run %d\n", resp.RunID)
	}
	return nil
}
