package us

import (
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

type fakeCalendar struct {
	days []string
	err  error
}

func (f fakeCalendar) GetCalendar(alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	out := make([]alpaca.CalendarDay, len(f.days))
	for i, d := range f.days {
		out[i] = alpaca.CalendarDay{Date: d}
	}
	return out, f.err
}

func TestLatestFinishedDay(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	cal := fakeCalendar{days: []string{"2024-01-10", "2024-01-11", "2024-01-12"}}

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"during session", time.Date(2024, 1, 12, 15, 0, 0, 0, est), "2024-01-11"},
		{"after cutoff", time.Date(2024, 1, 12, 21, 0, 0, 0, est), "2024-01-12"},
		{"weekend", time.Date(2024, 1, 13, 10, 0, 0, 0, est), "2024-01-12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := latestFinishedDay(cal, tt.now)
			if err != nil {
				t.Fatal(err)
			}
			if s := got.Format(time.DateOnly); s != tt.want {
				t.Errorf("latestFinishedDay = %s, want %s", s, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("location = %v, want UTC", got.Location())
			}
		})
	}
}

func TestLatestFinishedDayErrors(t *testing.T) {
	now := time.Date(2024, 1, 12, 15, 0, 0, 0, time.UTC)
	if _, err := latestFinishedDay(fakeCalendar{}, now); err == nil {
		t.Error("expected error for empty calendar")
	}
	sentinel := errors.New("boom")
	if _, err := latestFinishedDay(fakeCalendar{err: sentinel}, now); !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want wrapped sentinel", err)
	}
}
