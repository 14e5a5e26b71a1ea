// Command momentum-server serves backtests over gRPC, and run history,
// health and Prometheus metrics over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	"etfmomentum/internal/api"
	"etfmomentum/internal/config"
	"etfmomentum/internal/store"
	"etfmomentum/internal/strategy"
	"etfmomentum/internal/strategy/builtins"
	"etfmomentum/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $MOMENTUM_CONFIG or "+config.DefaultPath+")")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	base, err := cfg.Request(time.Now())
	if err != nil {
		log.Fatalf("invalid backtest defaults: %v", err)
	}
	// Requests without an end date run to the latest cached bar.
	if cfg.Backtest.End == "" {
		base.End = time.Time{}
	}

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open run store: %v", err)
	}
	defer runs.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := api.NewRecorder(reg)

	bt := strategy.NewBacktester(store.NewParquetStore(cfg.Storage.DataDir), builtins.NewRegistry(), logger)
	srv := api.NewServer(bt, runs, base, rec, logger)

	gs := grpc.NewServer()
	srv.Register(gs)

	grpcLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		log.Fatalf("failed to listen for grpc: %v", err)
	}
	httpLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort))
	if err != nil {
		log.Fatalf("failed to listen for http: %v", err)
	}
	hs := &http.Server{
		Handler:           api.NewHTTPHandler(reg, runs, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("momentum-server starting",
		"grpc_port", cfg.Server.GRPCPort,
		"metrics_port", cfg.Server.MetricsPort,
		"symbols", len(base.Symbols),
	)
	if err := api.Serve(ctx, gs, grpcLis, hs, httpLis, logger); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
