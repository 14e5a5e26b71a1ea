// Command etf-daily downloads adjusted daily bars for the ETF universe into
// the Parquet bar cache. Reruns only fetch days after the newest stored bar.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"etfmomentum/internal/config"
	"etfmomentum/internal/gather/us"
	"etfmomentum/internal/store"
	"etfmomentum/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $MOMENTUM_CONFIG or "+config.DefaultPath+")")
	symbols := flag.String("symbols", "", "comma-separated symbols overriding gather.symbols")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	start, err := cfg.Gather.Start()
	if err != nil {
		log.Fatalf("invalid gather.start_date: %v", err)
	}
	if cfg.Gather.SymbolsFile != "" {
		if cfg.Gather.Symbols, err = us.LoadUniverseCSV(cfg.Gather.SymbolsFile); err != nil {
			log.Fatalf("failed to load universe: %v", err)
		}
	}
	if *symbols != "" {
		cfg.Gather.Symbols = strings.Split(*symbols, ",")
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	gatherer := us.NewETFDailyGatherer(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		cfg.Alpaca.BaseURL,
		pstore,
		us.ETFOptions{
			Symbols:         cfg.Gather.Universe(),
			Start:           start,
			BatchSize:       cfg.Gather.BatchSize,
			Workers:         cfg.Gather.MaxWorkers,
			RateLimitPerMin: cfg.Gather.RateLimitPerMin,
			Retries:         cfg.Gather.Retries,
			Feed:            cfg.Alpaca.Feed,
			StateDir:        filepath.Join(cfg.Storage.DataDir, "us", "etf"),
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	started := time.Now()
	slog.Info("starting etf-daily", "symbols", len(cfg.Gather.Universe()), "start", start.Format(time.DateOnly))
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gather error: %v", err)
	}
	slog.Info("etf-daily finished", "elapsed", time.Since(started).Round(time.Second))
}
