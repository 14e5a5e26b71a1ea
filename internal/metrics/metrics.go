// Package metrics computes performance statistics over portfolio value
// series: compound annual growth, annualised volatility, Sharpe ratio and
// maximum drawdown, plus a buy-and-hold benchmark series.
package metrics

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"etfmomentum/internal/domain"
)

const daysPerYear = 365.25

// Options controls the annualisation constants.
type Options struct {
	RiskFreeRate   float64
	PeriodsPerYear float64
}

// DefaultOptions returns a 2% risk-free rate and 252 periods per year.
func DefaultOptions() Options {
	return Options{RiskFreeRate: 0.02, PeriodsPerYear: 252}
}

// Summary groups the headline statistics of one value series.
type Summary struct {
	Start       time.Time
	End         time.Time
	FinalValue  float64
	TotalReturn float64
	CAGR        float64
	Volatility  float64
	Sharpe      float64
	MaxDrawdown float64
}

// CAGR returns the compound annual growth rate between the first and last
// point, using calendar days over 365.25. It is NaN for fewer than two
// points or a zero-length span.
func CAGR(s domain.Series) float64 {
	n := s.Len()
	if n < 2 || s.Values[0] <= 0 {
		return math.NaN()
	}
	days := s.Dates[n-1].Sub(s.Dates[0]).Hours() / 24
	if days <= 0 {
		return math.NaN()
	}
	return math.Pow(s.Values[n-1]/s.Values[0], daysPerYear/days) - 1
}

// LogReturns returns ln(v[i]/v[i-1]) for consecutive points.
func LogReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		out = append(out, math.Log(values[i]/values[i-1]))
	}
	return out
}

// Volatility is the sample standard deviation of log returns scaled by
// sqrt(periodsPerYear). NaN with fewer than two returns.
func Volatility(values []float64, periodsPerYear float64) float64 {
	r := LogReturns(values)
	if len(r) < 2 {
		return math.NaN()
	}
	return stat.StdDev(r, nil) * math.Sqrt(periodsPerYear)
}

// SharpeRatio returns (cagr - rf) / vol, or NaN when vol is zero or
// undefined.
func SharpeRatio(cagr, vol, rf float64) float64 {
	if vol == 0 || math.IsNaN(vol) {
		return math.NaN()
	}
	return (cagr - rf) / vol
}

// MaxDrawdown returns the most negative value of v/cummax(v) - 1. It is 0
// for a series that never falls.
func MaxDrawdown(values []float64) float64 {
	var peak, worst float64
	for i, v := range values {
		if i == 0 || v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := v/peak - 1; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// Summarize computes every statistic for s.
func Summarize(s domain.Series, opts Options) Summary {
	sum := Summary{
		CAGR:        math.NaN(),
		Volatility:  math.NaN(),
		Sharpe:      math.NaN(),
		TotalReturn: math.NaN(),
	}
	if s.Len() == 0 {
		return sum
	}
	sum.Start = s.Dates[0]
	sum.End = s.Dates[s.Len()-1]
	sum.FinalValue = s.Last()
	if s.Values[0] > 0 {
		sum.TotalReturn = s.Last()/s.Values[0] - 1
	}
	sum.CAGR = CAGR(s)
	sum.Volatility = Volatility(s.Values, opts.PeriodsPerYear)
	sum.Sharpe = SharpeRatio(sum.CAGR, sum.Volatility, opts.RiskFreeRate)
	sum.MaxDrawdown = MaxDrawdown(s.Values)
	return sum
}

// Correlation returns the Pearson correlation of the log returns of two
// aligned series, NaN when either is too short.
func Correlation(a, b []float64) float64 {
	ra, rb := LogReturns(a), LogReturns(b)
	if len(ra) < 2 || len(ra) != len(rb) {
		return math.NaN()
	}
	return stat.Correlation(ra, rb, nil)
}

// Benchmark returns the buy-and-hold value of symbol sampled at dates, scaled
// so the first point equals seed. Prices are taken as of each date.
func Benchmark(table *domain.PriceTable, symbol string, dates []time.Time, seed float64) (domain.Series, error) {
	j, ok := table.Column(symbol)
	if !ok {
		return domain.Series{}, fmt.Errorf("benchmark %s not in price table", symbol)
	}
	out := domain.Series{
		Dates:  append([]time.Time(nil), dates...),
		Values: make([]float64, len(dates)),
	}
	if len(dates) == 0 {
		return out, nil
	}

	row, ok := table.AsOf(j, dates[0])
	if !ok {
		return domain.Series{}, fmt.Errorf("benchmark %s has no price on or before %s", symbol, dates[0].Format(time.DateOnly))
	}
	base := table.Value(j, row)
	for i, d := range dates {
		row, ok := table.AsOf(j, d)
		if !ok {
			return domain.Series{}, fmt.Errorf("benchmark %s has no price on or before %s", symbol, d.Format(time.DateOnly))
		}
		out.Values[i] = seed * table.Value(j, row) / base
	}
	return out, nil
}
