package us

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"etfmomentum/internal/store"
)

type fetchCall struct {
	symbols []string
	start   time.Time
}

// fakeFetcher serves one bar per weekday in [Start, End) for every symbol not
// listed in missing.
type fakeFetcher struct {
	mu      sync.Mutex
	missing map[string]bool
	err     error
	calls   []fetchCall
}

func (f *fakeFetcher) GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{symbols: slices.Clone(symbols), start: req.Start})
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]marketdata.Bar)
	for _, sym := range symbols {
		if f.missing[sym] {
			continue
		}
		for d := req.Start; d.Before(req.End); d = d.AddDate(0, 0, 1) {
			if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			px := 100 + float64(d.Day())
			out[sym] = append(out[sym], marketdata.Bar{
				Timestamp: d.Add(5 * time.Hour),
				Open:      px,
				High:      px,
				Low:       px,
				Close:     px,
				Volume:    1000,
			})
		}
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func fixedEnd(d time.Time) func(context.Context) (time.Time, error) {
	return func(context.Context) (time.Time, error) { return d, nil }
}

func countBars(t *testing.T, s *store.ParquetStore, sym string) int {
	t.Helper()
	bars, err := s.ReadBars(context.Background(), sym, "us",
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	return len(bars)
}

func TestETFDailyGathererIncremental(t *testing.T) {
	dir := t.TempDir()
	s := store.NewParquetStore(dir)
	f := &fakeFetcher{missing: map[string]bool{"GONE": true}}
	opts := ETFOptions{
		Symbols:   []string{"spy", "TLT", "GONE"},
		Start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		BatchSize: 10,
		Workers:   2,
		StateDir:  filepath.Join(dir, "us", "etf"),
	}
	ctx := context.Background()

	g := newETFDailyGatherer(f, s, fixedEnd(time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)), opts)
	if g.Name() != "etf-daily" {
		t.Errorf("Name() = %q", g.Name())
	}
	if err := g.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := f.callCount(); n != 1 {
		t.Fatalf("first run made %d calls, want 1", n)
	}
	if n := countBars(t, s, "SPY"); n != 10 {
		t.Errorf("SPY bars = %d, want 10", n)
	}
	if n := countBars(t, s, "GONE"); n != 0 {
		t.Errorf("GONE bars = %d, want 0", n)
	}

	// Same end date: nothing to do.
	if err := g.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if n := f.callCount(); n != 1 {
		t.Errorf("repeat run made %d calls, want 1", n)
	}

	// A week later only the new days are requested for stored symbols.
	g = newETFDailyGatherer(f, s, fixedEnd(time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC)), opts)
	if err := g.Run(ctx); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range f.calls[1:] {
		if c.start.Equal(time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)) {
			found = true
			if strings.Join(c.symbols, ",") != "SPY,TLT" {
				t.Errorf("incremental call symbols = %v, want [SPY TLT]", c.symbols)
			}
		}
	}
	if !found {
		t.Errorf("no incremental call starting 2024-01-13 in %+v", f.calls[1:])
	}
	if n := countBars(t, s, "SPY"); n != 15 {
		t.Errorf("SPY bars after update = %d, want 15", n)
	}
	if n := countBars(t, s, "TLT"); n != 15 {
		t.Errorf("TLT bars after update = %d, want 15", n)
	}
}

func TestETFDailyGathererFailedBatch(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{err: errors.New("503 service unavailable")}
	opts := ETFOptions{
		Symbols:    []string{"SPY"},
		Start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Retries:    2,
		RetryDelay: time.Millisecond,
		StateDir:   filepath.Join(dir, "state"),
	}
	end := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	g := newETFDailyGatherer(f, store.NewParquetStore(dir), fixedEnd(end), opts)

	err := g.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "1 of 1 batches failed") {
		t.Fatalf("Run = %v, want batch failure", err)
	}
	if n := f.callCount(); n != 2 {
		t.Errorf("made %d calls, want 2 attempts", n)
	}

	tracker, err := newProgressTracker(opts.StateDir)
	if err != nil {
		t.Fatal(err)
	}
	defer tracker.Close()
	if d, _ := tracker.LastCompleted(); d != "" {
		t.Errorf("failed run marked %q completed", d)
	}
}

func TestETFDailyGathererEndDateError(t *testing.T) {
	sentinel := errors.New("calendar down")
	g := newETFDailyGatherer(&fakeFetcher{}, store.NewParquetStore(t.TempDir()),
		func(context.Context) (time.Time, error) { return time.Time{}, sentinel },
		ETFOptions{StateDir: t.TempDir()})
	if err := g.Run(context.Background()); !errors.Is(err, sentinel) {
		t.Errorf("Run = %v, want wrapped sentinel", err)
	}
	if len(g.opts.Symbols) != 30 {
		t.Errorf("default universe has %d symbols, want 30", len(g.opts.Symbols))
	}
}
