// Package store defines storage interfaces for the daily bars that feed the
// backtester and for completed backtest runs, together with Parquet, SQLite
// and CSV implementations.
package store

import (
	"context"
	"errors"
	"time"

	"etfmomentum/internal/domain"
	"etfmomentum/internal/metrics"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// RunRecord is a completed backtest: its parameters, headline statistics
// and full output series.
type RunRecord struct {
	ID            int64
	CreatedAt     time.Time
	Strategy      string
	Frequency     string
	TopN          int
	ShortLookback int
	LongLookback  int
	Symbols       []string
	Benchmark     string
	Skipped       int
	Summary       metrics.Summary
	Value         domain.Series
	Weights       domain.WeightHistory
}

// RunStore persists completed backtest runs.
type RunStore interface {
	// SaveRun inserts the run and returns its assigned ID.
	SaveRun(ctx context.Context, run *RunRecord) (int64, error)

	// GetRun loads a run with its value series and weight history.
	GetRun(ctx context.Context, id int64) (*RunRecord, error)

	// ListRuns returns the most recent runs, newest first, without series.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
