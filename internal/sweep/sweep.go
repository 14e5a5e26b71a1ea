// Package sweep runs a backtest for every combination of rebalancing
// frequency and portfolio size over one shared price table.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"etfmomentum/internal/domain"
	"etfmomentum/internal/engine"
	"etfmomentum/internal/strategy"
)

// Grid is the parameter space of a sweep.
type Grid struct {
	Frequencies []engine.Frequency
	TopN        []int
}

// DefaultGrid covers daily to semi-annual rebalancing and 1 to 10 holdings.
func DefaultGrid() Grid {
	g, _ := ParseGrid("1D,1W,2W,1ME,2ME,1Q,2Q", 1, 10)
	return g
}

// ParseGrid builds a grid from a comma-separated frequency list and an
// inclusive top_n range.
func ParseGrid(freqs string, minTopN, maxTopN int) (Grid, error) {
	var g Grid
	for _, f := range strings.Split(freqs, ",") {
		if strings.TrimSpace(f) == "" {
			continue
		}
		freq, err := engine.ParseFrequency(f)
		if err != nil {
			return Grid{}, err
		}
		g.Frequencies = append(g.Frequencies, freq)
	}
	if minTopN < 1 || maxTopN < minTopN {
		return Grid{}, fmt.Errorf("%w: top_n range %d..%d", engine.ErrConfig, minTopN, maxTopN)
	}
	for n := minTopN; n <= maxTopN; n++ {
		g.TopN = append(g.TopN, n)
	}
	if len(g.Frequencies) == 0 {
		return Grid{}, fmt.Errorf("%w: no frequencies", engine.ErrConfig)
	}
	return g, nil
}

// Size returns the number of cells in the grid.
func (g Grid) Size() int { return len(g.Frequencies) * len(g.TopN) }

// Cell is the outcome of one grid point.
type Cell struct {
	Frequency engine.Frequency
	TopN      int
	Report    *strategy.Report
	Err       error
}

// Runner executes sweeps with bounded concurrency.
type Runner struct {
	bt      *strategy.Backtester
	workers int
	log     *slog.Logger
}

// NewRunner returns a Runner using up to workers goroutines; zero or less
// means GOMAXPROCS.
func NewRunner(bt *strategy.Backtester, workers int, log *slog.Logger) *Runner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{bt: bt, workers: workers, log: log}
}

// Run backtests every grid cell against table, using base for all other
// parameters. Cells are returned frequency-major, then by top_n. A failing
// cell records its error; only cancellation aborts the sweep.
func (r *Runner) Run(ctx context.Context, table *domain.PriceTable, base strategy.Request, grid Grid) ([]Cell, error) {
	cells := make([]Cell, 0, grid.Size())
	for _, f := range grid.Frequencies {
		for _, n := range grid.TopN {
			cells = append(cells, Cell{Frequency: f, TopN: n})
		}
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range cells {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			req := base
			req.Engine.Frequency = cells[i].Frequency
			req.Engine.TopN = cells[i].TopN

			rep, err := r.bt.RunTable(gctx, table, req)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.log.Warn("sweep cell failed",
					"frequency", cells[i].Frequency.String(),
					"top_n", cells[i].TopN,
					"error", err,
				)
				cells[i].Err = err
				return nil
			}
			cells[i].Report = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.log.Info("sweep complete", "cells", len(cells), "workers", r.workers, "elapsed", time.Since(start))
	return cells, nil
}

// Best returns the successful cell with the highest value of score, or nil.
// NaN scores never win.
func Best(cells []Cell, score func(*strategy.Report) float64) *Cell {
	var best *Cell
	var bestScore float64
	for i := range cells {
		if cells[i].Report == nil {
			continue
		}
		s := score(cells[i].Report)
		if math.IsNaN(s) {
			continue
		}
		if best == nil || s > bestScore {
			best, bestScore = &cells[i], s
		}
	}
	return best
}
