// Package gather defines the interface shared by market-data collectors.
package gather

import (
	"context"
	"fmt"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns when the pass is complete
	// or ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the range contains no days.
func (r DateRange) Empty() bool { return r.End.Before(r.Start) }

// String formats the range as "start..end".
func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

// Resume returns the range still to fetch after last, the newest stored
// day. A zero last returns r unchanged.
func (r DateRange) Resume(last time.Time) DateRange {
	if last.IsZero() {
		return r
	}
	next := time.Date(last.Year(), last.Month(), last.Day()+1, 0, 0, 0, 0, time.UTC)
	if next.After(r.Start) {
		r.Start = next
	}
	return r
}
