package calendar

import (
	"context"
	"fmt"
	"time"

	"etfspread/internal/provider"
)

// Day is one trading day with its session bounds in UTC.
type Day struct {
	Date  string // YYYY-MM-DD
	Open  time.Time
	Close time.Time
}

// Window converts the day into the fetch window [Open, Close).
func (d Day) Window() provider.Window {
	return provider.Window{Date: d.Date, Open: d.Open, Close: d.Close}
}

// Source lists trading days between two dates (inclusive).
type Source interface {
	TradingDays(ctx context.Context, start, end string) ([]Day, error)
}

// Range validates a date range and resolves it to regular trading sessions.
// Half days and holidays are excluded: only 9:30-16:00 sessions qualify,
// matching the shape the aggregation grid assumes.
func Range(ctx context.Context, src Source, start, end string) ([]Day, error) {
	from, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, &provider.ValidationError{Field: "date range", Msg: fmt.Sprintf("bad start date %q", start)}
	}
	to, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, &provider.ValidationError{Field: "date range", Msg: fmt.Sprintf("bad end date %q", end)}
	}
	if to.Before(from) {
		return nil, &provider.ValidationError{Field: "date range", Msg: fmt.Sprintf("end %s before start %s", end, start)}
	}
	days, err := src.TradingDays(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return Regular(days), nil
}

// Regular keeps only full 9:30-16:00 New York sessions. A 6.5h span alone
// is not enough: the open must sit at 9:30 local time.
func Regular(days []Day) []Day {
	loc, locErr := time.LoadLocation("America/New_York")
	out := make([]Day, 0, len(days))
	for _, d := range days {
		if d.Close.Sub(d.Open) != 6*time.Hour+30*time.Minute {
			continue
		}
		if locErr == nil {
			open := d.Open.In(loc)
			if open.Hour() != 9 || open.Minute() != 30 {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

// Weekdays is an offline Source assuming every Monday-Friday is a regular
// 9:30-16:00 session in Loc. Used when no calendar provider is configured;
// it does not know about holidays.
type Weekdays struct {
	Loc *time.Location
}

func (w Weekdays) TradingDays(_ context.Context, start, end string) ([]Day, error) {
	loc := w.Loc
	if loc == nil {
		var err error
		loc, err = time.LoadLocation("America/New_York")
		if err != nil {
			return nil, err
		}
	}
	from, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, &provider.ValidationError{Field: "date range", Msg: fmt.Sprintf("bad start date %q", start)}
	}
	to, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, &provider.ValidationError{Field: "date range", Msg: fmt.Sprintf("bad end date %q", end)}
	}

	var days []Day
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		date := d.Format("2006-01-02")
		open := time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, loc)
		days = append(days, Day{
			Date:  date,
			Open:  open.UTC(),
			Close: open.Add(6*time.Hour + 30*time.Minute).UTC(),
		})
	}
	return days, nil
}
