package engine

import (
	"fmt"
	"math"
	"time"

	"etfmomentum/internal/domain"
)

// PerformanceVector holds one trailing simple return per table column. NaN
// marks an asset whose performance is undefined for the window.
type PerformanceVector []float64

// Defined reports whether asset j has a usable performance value.
func (p PerformanceVector) Defined(j int) bool {
	return j < len(p) && !math.IsNaN(p[j])
}

// addMonths shifts t by months calendar months, clipping the day to the end
// of the target month (Mar 31 - 1 month = Feb 28 or 29).
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := y*12 + int(m) - 1 + months
	ty, tm := floorDiv(total, 12), time.Month(total-floorDiv(total, 12)*12+1)
	if last := daysIn(ty, tm); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(ty, tm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Evaluator computes trailing-window returns over a read-only price table
// using as-of lookups that never look past the anchor.
type Evaluator struct {
	table     *domain.PriceTable
	tolerance time.Duration
}

// NewEvaluator returns an Evaluator over table. A positive tolerance bounds
// how stale an as-of price may be relative to the requested boundary.
func NewEvaluator(table *domain.PriceTable, tolerance time.Duration) *Evaluator {
	return &Evaluator{table: table, tolerance: tolerance}
}

// priceAt returns the row and value of the latest usable price of asset j at
// or before ts.
func (ev *Evaluator) priceAt(j int, ts time.Time) (int, float64, bool) {
	row, ok := ev.table.AsOf(j, ts)
	if !ok {
		return -1, math.NaN(), false
	}
	if ev.tolerance > 0 && ts.Sub(ev.table.Date(row)) > ev.tolerance {
		return -1, math.NaN(), false
	}
	return row, ev.table.Value(j, row), true
}

// Performance returns end/start - 1 for every asset over the window
// [anchor - months, anchor]. It fails with ErrEmptyWindow when no asset has a
// defined value.
func (ev *Evaluator) Performance(anchor time.Time, months int) (PerformanceVector, error) {
	if months <= 0 {
		return nil, fmt.Errorf("%w: lookback of %d months", ErrConfig, months)
	}
	start := addMonths(anchor, -months)

	perf := make(PerformanceVector, ev.table.NumAssets())
	defined := 0
	for j := range perf {
		perf[j] = math.NaN()

		endRow, end, ok := ev.priceAt(j, anchor)
		if !ok {
			continue
		}
		startRow, first, ok := ev.priceAt(j, start)
		if !ok || startRow == endRow {
			continue
		}
		r := end/first - 1
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		perf[j] = r
		defined++
	}

	if defined == 0 {
		return perf, fmt.Errorf("%w: %d months ending %s", ErrEmptyWindow, months, anchor.Format(time.DateOnly))
	}
	return perf, nil
}
