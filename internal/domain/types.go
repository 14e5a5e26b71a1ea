// Package domain defines the core data types shared across the momentum
// backtester: daily bars, the aligned price table consumed by the engine, and
// the time series the engine produces.
package domain

import "time"

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
)

// Bar is a single daily OHLCV observation for one symbol.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Series is an ordered time series of float values, e.g. a portfolio value
// curve. Dates and Values always have the same length.
type Series struct {
	Dates  []time.Time
	Values []float64
}

// Len returns the number of points in the series.
func (s Series) Len() int { return len(s.Values) }

// Last returns the final value of the series, or 0 for an empty series.
func (s Series) Last() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	return s.Values[len(s.Values)-1]
}

// WeightHistory is the per-decision-date allocation table. Rows[i] holds one
// weight per entry of Assets for Dates[i].
type WeightHistory struct {
	Assets []string
	Dates  []time.Time
	Rows   [][]float64
}

// Len returns the number of decision dates recorded.
func (h WeightHistory) Len() int { return len(h.Rows) }

// Weight returns the weight of asset on row i, or 0 if the asset is unknown.
func (h WeightHistory) Weight(i int, asset string) float64 {
	for j, a := range h.Assets {
		if a == asset {
			return h.Rows[i][j]
		}
	}
	return 0
}

// DefaultUniverse is the ETF universe used when none is configured: broad US
// and international equity, sector, bond, commodity, volatility and
// leveraged or inverse funds.
var DefaultUniverse = []string{
	"SPY", "QQQ", "IWM", "EEM", "EFA", "XLF", "HYG", "TLT", "XLE", "LQD",
	"XLV", "DIA", "GLD", "XLU", "JNK", "SOXL", "XLK", "XBI", "ARKK", "UVXY",
	"FXI", "VEA", "EWZ", "VXX", "SH", "PSQ", "TQQQ", "SQQQ", "VOO", "IVV",
}
