package calendar

import (
	"fmt"
	"sync"
	"time"
)

// Session is one trading day on an exchange.
type Session struct {
	// Date is the session date at 00:00 UTC
	Date time.Time `json:"date"`
	// Open and Close are the session bounds as UTC instants
	Open  time.Time `json:"open"`
	Close time.Time `json:"close"`
	// EarlyClose is set when the exchange closed before its regular time
	EarlyClose bool `json:"early_close,omitempty"`
}

// clock is a wall-clock time of day in the exchange location.
type clock struct {
	hour, minute int
}

// dateKey identifies a calendar date independent of location.
type dateKey struct {
	year  int
	month time.Month
	day   int
}

func keyOf(t time.Time) dateKey {
	return dateKey{t.Year(), t.Month(), t.Day()}
}

// yearRules produces the closures and early closes of a single year.
type yearRules func(year int) (holidays, earlyCloses map[dateKey]bool)

// Exchange is a rule-based trading calendar for one venue.
type Exchange struct {
	name       string
	location   *time.Location
	open       clock
	close      clock
	earlyClose clock
	firstYear  int
	lastYear   int
	rules      yearRules

	mu    sync.Mutex
	years map[int]yearTable
}

type yearTable struct {
	holidays    map[dateKey]bool
	earlyCloses map[dateKey]bool
}

// Name returns the canonical calendar name (e.g., "NYSE").
func (e *Exchange) Name() string { return e.name }

// Location returns the exchange time zone.
func (e *Exchange) Location() *time.Location { return e.location }

// Covers reports whether the calendar has rules for every date in [start, end].
func (e *Exchange) Covers(start, end time.Time) bool {
	return start.Year() >= e.firstYear && end.Year() <= e.lastYear
}

// IsHoliday reports whether the exchange is closed on a weekday because of a
// holiday or special closure.
func (e *Exchange) IsHoliday(date time.Time) bool {
	return e.table(date.Year()).holidays[keyOf(date)]
}

// Sessions lists trading sessions for the dates in [start, end], inclusive.
// Only the date part of start and end (read in UTC) is used.
func (e *Exchange) Sessions(start, end time.Time) ([]Session, error) {
	first := dateOnly(start)
	last := dateOnly(end)
	if last.Before(first) {
		return nil, fmt.Errorf("calendar %s: end %s before start %s", e.name, last.Format(time.DateOnly), first.Format(time.DateOnly))
	}
	if !e.Covers(first, last) {
		return nil, fmt.Errorf("calendar %s covers %d..%d: %w", e.name, e.firstYear, e.lastYear, ErrCalendarUnavailable)
	}

	sessions := make([]Session, 0, int(last.Sub(first).Hours()/24)+1)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		table := e.table(d.Year())
		key := keyOf(d)
		if table.holidays[key] {
			continue
		}

		closeAt := e.close
		early := table.earlyCloses[key]
		if early {
			closeAt = e.earlyClose
		}

		sessions = append(sessions, Session{
			Date:       d,
			Open:       e.at(d, e.open),
			Close:      e.at(d, closeAt),
			EarlyClose: early,
		})
	}
	return sessions, nil
}

func (e *Exchange) at(date time.Time, c clock) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.hour, c.minute, 0, 0, e.location).UTC()
}

func (e *Exchange) table(year int) yearTable {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.years[year]; ok {
		return t
	}
	holidays, early := e.rules(year)
	t := yearTable{holidays: holidays, earlyCloses: early}
	e.years[year] = t
	return t
}

func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
