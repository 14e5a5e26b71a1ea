package us

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// calendarClient is the subset of the Alpaca trading client used here.
type calendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// TradingCalendar answers which US sessions have finished, using the Alpaca
// trading calendar API.
type TradingCalendar struct {
	client calendarClient
	now    func() time.Time
}

// NewTradingCalendar creates a TradingCalendar against the Alpaca trading
// API at baseURL.
func NewTradingCalendar(apiKey, apiSecret, baseURL string) *TradingCalendar {
	return &TradingCalendar{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		now: time.Now,
	}
}

// LatestFinishedDay returns the most recent trading day whose session has
// ended, as a UTC midnight. Today counts once it is past 20:05 ET, when
// extended-hours bars have settled.
func (c *TradingCalendar) LatestFinishedDay(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	return latestFinishedDay(c.client, c.now().In(et))
}

// latestFinishedDay implements LatestFinishedDay for a clock reading already
// expressed in exchange time.
func latestFinishedDay(client calendarClient, now time.Time) (time.Time, error) {
	calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -10),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(calendar) == 0 {
		return time.Time{}, errors.New("no trading days returned from calendar")
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, now.Location())

	for i := len(calendar) - 1; i >= 0; i-- {
		day, err := time.Parse(time.DateOnly, calendar[i].Date)
		if err != nil {
			continue
		}
		switch {
		case day.After(today):
			continue
		case day.Equal(today):
			if now.After(cutoff) {
				return day, nil
			}
		default:
			return day, nil
		}
	}
	return time.Time{}, errors.New("could not determine latest finished trading day")
}
