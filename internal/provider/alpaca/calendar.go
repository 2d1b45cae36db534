package alpaca

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"etfspread/internal/calendar"
)

// calendarDay is one record from the v2 calendar endpoint.
type calendarDay struct {
	Date  string `json:"date"`  // YYYY-MM-DD
	Open  string `json:"open"`  // HH:MM, exchange local time
	Close string `json:"close"` // HH:MM
}

// TradingDays lists trading days between start and end (inclusive) with
// session bounds converted to UTC. Implements calendar.Source.
func (c *Client) TradingDays(ctx context.Context, start, end string) ([]calendar.Day, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("start", start)
	query.Set("end", end)
	u := fmt.Sprintf("%s/v2/calendar?%s", c.tradingURL, query.Encode())

	var body []calendarDay
	if err := c.getJSON(ctx, u, &body); err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}

	days := make([]calendar.Day, 0, len(body))
	for _, d := range body {
		open, err := sessionBound(d.Date, d.Open, loc)
		if err != nil {
			return nil, fmt.Errorf("calendar: %w", err)
		}
		close, err := sessionBound(d.Date, d.Close, loc)
		if err != nil {
			return nil, fmt.Errorf("calendar: %w", err)
		}
		days = append(days, calendar.Day{Date: d.Date, Open: open, Close: close})
	}
	return days, nil
}

func sessionBound(date, hhmm string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad session time %q %q: %w", date, hhmm, err)
	}
	return t.UTC(), nil
}
