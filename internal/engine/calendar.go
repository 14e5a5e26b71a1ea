package engine

import (
	"time"

	"etfmomentum/internal/domain"
)

// DecisionDates resamples the table index at freq and returns the last
// observed timestamp of every non-empty bin, in order. Bins of N units are
// counted from the period holding the first observation.
func DecisionDates(table *domain.PriceTable, freq Frequency) []time.Time {
	if table == nil || table.Len() == 0 {
		return nil
	}
	n := freq.N
	if n < 1 {
		n = 1
	}

	origin := freq.Unit.periodIndex(table.Date(0))
	var out []time.Time
	bin := 0
	for i := 0; i < table.Len(); i++ {
		ts := table.Date(i)
		b := floorDiv(freq.Unit.periodIndex(ts)-origin, n)
		if len(out) > 0 && b == bin {
			out[len(out)-1] = ts
			continue
		}
		bin = b
		out = append(out, ts)
	}
	return out
}
