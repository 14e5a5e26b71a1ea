package us

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/sync/errgroup"

	"etfmomentum/internal/domain"
	"etfmomentum/internal/gather"
	"etfmomentum/internal/store"
	"etfmomentum/internal/util"
)

var _ gather.Gatherer = (*ETFDailyGatherer)(nil)

// barFetcher is the subset of the Alpaca market-data client used here.
type barFetcher interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// DailyStore is a bar store that can report its newest bar per symbol.
type DailyStore interface {
	store.BarStore
	LastBarDate(symbol, market string) (time.Time, error)
}

// ETFOptions configures an ETFDailyGatherer.
type ETFOptions struct {
	Symbols         []string
	Start           time.Time
	BatchSize       int           // symbols per API call
	Workers         int           // concurrent batches
	RateLimitPerMin int           // API calls per minute, 0 for unlimited
	Retries         int           // attempts per batch
	RetryDelay      time.Duration // first backoff, doubled per attempt
	Feed            string        // "sip" or "iex"
	StateDir        string        // progress files
}

// ETFDailyGatherer downloads split- and dividend-adjusted daily bars for a
// fixed ETF universe from the Alpaca market-data API. Each run only fetches
// days after the newest stored bar of every symbol.
type ETFDailyGatherer struct {
	fetcher barFetcher
	store   DailyStore
	endDate func(context.Context) (time.Time, error)
	opts    ETFOptions
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewETFDailyGatherer creates a gatherer using Alpaca credentials for both
// market data (dataURL) and the trading calendar (tradingURL).
func NewETFDailyGatherer(apiKey, apiSecret, dataURL, tradingURL string, s DailyStore, opts ETFOptions) *ETFDailyGatherer {
	mdOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		mdOpts.BaseURL = dataURL
	}
	cal := NewTradingCalendar(apiKey, apiSecret, tradingURL)
	return newETFDailyGatherer(marketdata.NewClient(mdOpts), s, cal.LatestFinishedDay, opts)
}

func newETFDailyGatherer(f barFetcher, s DailyStore, endDate func(context.Context) (time.Time, error), opts ETFOptions) *ETFDailyGatherer {
	if len(opts.Symbols) == 0 {
		opts.Symbols = domain.DefaultUniverse
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &ETFDailyGatherer{
		fetcher: f,
		store:   s,
		endDate: endDate,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     slog.Default().With("gatherer", "etf-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *ETFDailyGatherer) Name() string { return "etf-daily" }

// batch is a group of symbols that share a fetch range.
type batch struct {
	symbols []string
	span    gather.DateRange
}

// Run brings every symbol up to date through the latest finished trading
// day. It is resumable and a no-op once the same universe has completed for
// that day.
func (g *ETFDailyGatherer) Run(ctx context.Context) error {
	end, err := g.endDate(ctx)
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	endStr := end.Format(time.DateOnly)
	sig := universeSignature(g.opts.Symbols)

	tracker, err := newProgressTracker(g.opts.StateDir)
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	if tracker.IsCompleted(endStr, sig) {
		g.log.Info("already completed", "endDate", endStr)
		return nil
	}
	// Empty markers only hold for the end date they were recorded against.
	if last, _ := tracker.LastCompleted(); last != "" && last != endStr {
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	batches, err := g.plan(tracker, gather.DateRange{Start: g.opts.Start, End: end})
	if err != nil {
		return err
	}
	g.log.Info("starting etf-daily",
		"endDate", endStr,
		"symbols", len(g.opts.Symbols),
		"batches", len(batches),
	)

	var (
		bars    atomic.Int64
		failed  atomic.Int64
		started = time.Now()
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Workers)
	for i, b := range batches {
		eg.Go(func() error {
			n, err := g.runBatch(ectx, tracker, b)
			if err != nil {
				if ectx.Err() != nil {
					return ectx.Err()
				}
				failed.Add(1)
				g.log.Error("batch failed",
					"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
					"range", b.span.String(),
					"err", err,
				)
				return nil
			}
			bars.Add(int64(n))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}

	if err := tracker.MarkCompleted(endStr, sig); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	g.log.Info("complete",
		"bars", bars.Load(),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return nil
}

// plan groups symbols by the first day each still needs and splits the
// groups into API-sized batches.
func (g *ETFDailyGatherer) plan(tracker *progressTracker, full gather.DateRange) ([]batch, error) {
	groups := make(map[time.Time][]string)
	for _, sym := range g.opts.Symbols {
		sym = strings.ToUpper(sym)
		if tracker.IsEmpty(sym) {
			continue
		}
		last, err := g.store.LastBarDate(sym, string(domain.MarketUS))
		if err != nil {
			return nil, fmt.Errorf("last bar of %s: %w", sym, err)
		}
		span := full.Resume(last)
		if span.Empty() {
			continue
		}
		groups[span.Start] = append(groups[span.Start], sym)
	}

	starts := make([]time.Time, 0, len(groups))
	for s := range groups {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	var out []batch
	for _, s := range starts {
		syms := groups[s]
		for i := 0; i < len(syms); i += g.opts.BatchSize {
			out = append(out, batch{
				symbols: syms[i:min(i+g.opts.BatchSize, len(syms))],
				span:    gather.DateRange{Start: s, End: full.End},
			})
		}
	}
	return out, nil
}

func (g *ETFDailyGatherer) runBatch(ctx context.Context, tracker *progressTracker, b batch) (int, error) {
	var bars []domain.Bar
	err := util.Retry(ctx, g.opts.Retries, g.opts.RetryDelay, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		bars, err = g.fetch(b)
		return err
	})
	if err != nil {
		return 0, err
	}

	hit := make(map[string]struct{})
	for _, bar := range bars {
		hit[bar.Symbol] = struct{}{}
	}
	var empty []string
	for _, sym := range b.symbols {
		if _, ok := hit[sym]; !ok {
			empty = append(empty, sym)
		}
	}

	if len(bars) > 0 {
		if err := g.store.WriteBars(ctx, string(domain.MarketUS), bars); err != nil {
			return 0, fmt.Errorf("writing bars: %w", err)
		}
	}
	if len(empty) > 0 {
		g.log.Warn("symbols returned no bars", "symbols", empty, "range", b.span.String())
		if err := tracker.MarkEmpty(empty); err != nil {
			return 0, err
		}
	}
	return len(bars), nil
}

// fetch calls GetMultiBars for one batch and converts the result.
func (g *ETFDailyGatherer) fetch(b batch) ([]domain.Bar, error) {
	req := marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      b.span.Start,
		End:        b.span.End.AddDate(0, 0, 1),
	}
	if strings.EqualFold(g.opts.Feed, "iex") {
		req.Feed = marketdata.IEX
	} else {
		req.Feed = marketdata.SIP
	}

	multi, err := g.fetcher.GetMultiBars(b.symbols, req)
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, abars := range multi {
		for _, ab := range abars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
