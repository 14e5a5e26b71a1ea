package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrUnorderedIndex is returned when table timestamps are not strictly
	// increasing.
	ErrUnorderedIndex = errors.New("price table index is not strictly increasing")

	// ErrInvalidPrice is returned for zero, negative or infinite prices.
	ErrInvalidPrice = errors.New("price table contains a non-positive or infinite price")
)

// PriceTable is a time-indexed, asset-column table of prices. Missing values
// (before listing, or gaps) are stored as NaN. A PriceTable is immutable
// after construction and safe for concurrent readers.
type PriceTable struct {
	dates   []time.Time
	symbols []string
	index   map[string]int
	cols    [][]float64 // cols[asset][row]
}

// NewPriceTable builds a PriceTable from a date index, the asset column names
// and one column of prices per asset. The inputs are copied.
func NewPriceTable(dates []time.Time, symbols []string, cols [][]float64) (*PriceTable, error) {
	if len(symbols) != len(cols) {
		return nil, fmt.Errorf("price table: %d symbols but %d columns", len(symbols), len(cols))
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("%w: %s follows %s", ErrUnorderedIndex,
				dates[i].Format(time.DateOnly), dates[i-1].Format(time.DateOnly))
		}
	}

	t := &PriceTable{
		dates:   append([]time.Time(nil), dates...),
		symbols: append([]string(nil), symbols...),
		index:   make(map[string]int, len(symbols)),
		cols:    make([][]float64, len(cols)),
	}
	for j, sym := range symbols {
		if _, dup := t.index[sym]; dup {
			return nil, fmt.Errorf("price table: duplicate symbol %q", sym)
		}
		t.index[sym] = j

		if len(cols[j]) != len(dates) {
			return nil, fmt.Errorf("price table: column %s has %d values, want %d", sym, len(cols[j]), len(dates))
		}
		for i, v := range cols[j] {
			if math.IsNaN(v) {
				continue
			}
			if v <= 0 || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: %s on %s = %v", ErrInvalidPrice, sym, dates[i].Format(time.DateOnly), v)
			}
		}
		t.cols[j] = append([]float64(nil), cols[j]...)
	}
	return t, nil
}

// Len returns the number of timestamps in the table.
func (t *PriceTable) Len() int { return len(t.dates) }

// NumAssets returns the number of asset columns.
func (t *PriceTable) NumAssets() int { return len(t.symbols) }

// Date returns the timestamp of row i.
func (t *PriceTable) Date(i int) time.Time { return t.dates[i] }

// Dates returns a copy of the date index.
func (t *PriceTable) Dates() []time.Time { return append([]time.Time(nil), t.dates...) }

// Symbol returns the identifier of asset column j.
func (t *PriceTable) Symbol(j int) string { return t.symbols[j] }

// Symbols returns a copy of the asset identifiers in column order.
func (t *PriceTable) Symbols() []string { return append([]string(nil), t.symbols...) }

// Column returns the column position of sym.
func (t *PriceTable) Column(sym string) (int, bool) {
	j, ok := t.index[sym]
	return j, ok
}

// Value returns the price of asset j at row i (NaN when missing).
func (t *PriceTable) Value(j, i int) float64 { return t.cols[j][i] }

// Row returns the index of the last row timestamped at or before ts, or -1
// when ts precedes the whole table.
func (t *PriceTable) Row(ts time.Time) int {
	return sort.Search(len(t.dates), func(i int) bool { return t.dates[i].After(ts) }) - 1
}

// AsOf returns the row of the latest non-missing price of asset j at or
// before ts. Rows after ts are never inspected.
func (t *PriceTable) AsOf(j int, ts time.Time) (int, bool) {
	col := t.cols[j]
	for i := t.Row(ts); i >= 0; i-- {
		if !math.IsNaN(col[i]) {
			return i, true
		}
	}
	return -1, false
}

// ColumnStats summarises missing data in one asset column.
type ColumnStats struct {
	Symbol      string
	Leading     int           // missing values before the first observation
	Interior    int           // missing values after the first observation
	LongestGap  time.Duration // widest span between consecutive observations
	Observation int           // non-missing values
}

// Stats reports missing-data statistics for every column, in column order.
func (t *PriceTable) Stats() []ColumnStats {
	out := make([]ColumnStats, len(t.symbols))
	for j, sym := range t.symbols {
		st := ColumnStats{Symbol: sym}
		last := -1
		for i, v := range t.cols[j] {
			if math.IsNaN(v) {
				if last < 0 {
					st.Leading++
				} else {
					st.Interior++
				}
				continue
			}
			if last >= 0 {
				if gap := t.dates[i].Sub(t.dates[last]); gap > st.LongestGap {
					st.LongestGap = gap
				}
			}
			st.Observation++
			last = i
		}
		out[j] = st
	}
	return out
}
