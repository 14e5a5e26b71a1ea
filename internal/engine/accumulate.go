package engine

import (
	"fmt"
	"math"
	"time"
)

// ForwardReturn is the portfolio return realised between from and to with
// weights fixed at from. Prices are taken as of each date; an asset with no
// price at either end contributes 0.
func (ev *Evaluator) ForwardReturn(weights []float64, from, to time.Time) (float64, error) {
	var (
		r       float64
		held    int
		covered int
	)
	for j, w := range weights {
		if w == 0 {
			continue
		}
		held++
		_, p0, ok := ev.priceAt(j, from)
		if !ok {
			continue
		}
		_, p1, ok := ev.priceAt(j, to)
		if !ok {
			continue
		}
		r += w * (p1/p0 - 1)
		covered++
	}

	if held > 0 && covered == 0 {
		return 0, fmt.Errorf("%w: %s to %s", ErrNoForwardPrices, from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("engine: non-finite return %v from %s to %s", r, from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return r, nil
}

// Accumulate compounds period returns into a value series seeded at 1.0.
// returns[0] is ignored: it is the seed date, which has no prior period.
func Accumulate(returns []float64) []float64 {
	if len(returns) == 0 {
		return nil
	}
	v := make([]float64, len(returns))
	v[0] = 1.0
	for k := 1; k < len(returns); k++ {
		v[k] = v[k-1] * (1 + returns[k])
	}
	return v
}
