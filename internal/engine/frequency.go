package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PeriodUnit is the calendar unit a rebalancing frequency is counted in.
type PeriodUnit int

const (
	Day PeriodUnit = iota
	Week
	Month
	Quarter
)

func (u PeriodUnit) String() string {
	switch u {
	case Day:
		return "D"
	case Week:
		return "W"
	case Month:
		return "ME"
	case Quarter:
		return "Q"
	default:
		return "?"
	}
}

// Frequency is a rebalancing rule: every N calendar units, rebalance on the
// last observation of the bin.
type Frequency struct {
	N    int
	Unit PeriodUnit
}

// String renders the frequency in the canonical form accepted by
// ParseFrequency, e.g. "1ME" or "2W".
func (f Frequency) String() string {
	return strconv.Itoa(f.N) + f.Unit.String()
}

// ParseFrequency parses rules of the form <n><unit> where unit is one of
// D, W, M, ME, Q or QE. A missing count means 1.
func ParseFrequency(s string) (Frequency, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	i := 0
	for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
		i++
	}

	n := 1
	if i > 0 {
		v, err := strconv.Atoi(raw[:i])
		if err != nil || v < 1 {
			return Frequency{}, fmt.Errorf("%w: frequency %q: count must be >= 1", ErrConfig, s)
		}
		n = v
	}

	var unit PeriodUnit
	switch raw[i:] {
	case "D":
		unit = Day
	case "W":
		unit = Week
	case "M", "ME":
		unit = Month
	case "Q", "QE":
		unit = Quarter
	default:
		return Frequency{}, fmt.Errorf("%w: unsupported frequency %q", ErrConfig, s)
	}
	return Frequency{N: n, Unit: unit}, nil
}

// periodIndex maps a timestamp to a monotonically increasing integer that is
// constant within one calendar unit. Weeks end on Sunday.
func (u PeriodUnit) periodIndex(t time.Time) int {
	y, m, d := t.Date()
	switch u {
	case Week:
		// 1970-01-05 is the first Monday after the epoch.
		return floorDiv(civilDays(y, m, d)-4, 7)
	case Month:
		return y*12 + int(m) - 1
	case Quarter:
		return y*4 + (int(m)-1)/3
	default:
		return civilDays(y, m, d)
	}
}

func civilDays(y int, m time.Month, d int) int {
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
