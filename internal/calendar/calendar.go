// Package calendar answers which bars should exist for an instrument.
//
// Trading schedules are rule based (weekends, recurring holidays with
// observance rules, special closures and early closes) and computed per year
// on demand. Exchange identifiers coming from provider metadata are resolved
// through an alias table; anything unknown falls back to the configured
// default calendar. When neither can answer, ErrCalendarUnavailable is
// returned and callers are expected to skip completeness checking.
package calendar

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// DefaultExchange is used when no default is configured.
const DefaultExchange = "NYSE"

// ErrCalendarUnavailable signals that no calendar can describe the request.
// It is a soft signal: treat the whole requested range as one gap.
var ErrCalendarUnavailable = errors.New("calendar unavailable")

// Oracle produces the timestamps at which bars are expected to exist.
type Oracle interface {
	// ExpectedTimestamps returns the ordered, aligned timestamps for tf within
	// the dates of [start, end], or ErrCalendarUnavailable.
	ExpectedTimestamps(exchange string, tf models.Timeframe, start, end time.Time) ([]time.Time, error)

	// Location returns the time zone used to align provider timestamps.
	Location(exchange string) *time.Location
}

// exchangeAliases maps provider and market identifiers to calendar names.
var exchangeAliases = map[string]string{
	"NYSE":     "NYSE",
	"XNYS":     "NYSE",
	"NYQ":      "NYSE",
	"ASE":      "NYSE",
	"AMEX":     "NYSE",
	"XASE":     "NYSE",
	"PCX":      "NYSE",
	"ARCA":     "NYSE",
	"NYSEARCA": "NYSE",
	"BATS":     "NYSE",
	"BTS":      "NYSE",
	"NASDAQ":   "NASDAQ",
	"XNAS":     "NASDAQ",
	"NMS":      "NASDAQ",
	"NGM":      "NASDAQ",
	"NCM":      "NASDAQ",
	"NAS":      "NASDAQ",
	"XLON":     "XLON",
	"LSE":      "XLON",
	"LON":      "XLON",
}

// Registry is the built-in Oracle implementation.
type Registry struct {
	calendars       map[string]*Exchange
	defaultExchange string
	logger          *slog.Logger
}

// NewRegistry builds the registry with the NYSE, NASDAQ and XLON calendars.
// The default exchange is resolved through the alias table; an unknown default
// is accepted and makes every fallback report ErrCalendarUnavailable.
func NewRegistry(defaultExchange string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("failed to load America/New_York: %w", err)
	}
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		return nil, fmt.Errorf("failed to load Europe/London: %w", err)
	}

	nyse := newNYSE(newYork)
	nasdaq := newNYSE(newYork)
	nasdaq.name = "NASDAQ"

	if strings.TrimSpace(defaultExchange) == "" {
		defaultExchange = DefaultExchange
	}

	return &Registry{
		calendars: map[string]*Exchange{
			"NYSE":   nyse,
			"NASDAQ": nasdaq,
			"XLON":   newXLON(london),
		},
		defaultExchange: canonical(defaultExchange),
		logger:          logger,
	}, nil
}

// Names returns the registered calendar names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.calendars))
	for name := range r.calendars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the calendar registered for exchange without falling back.
func (r *Registry) Lookup(exchange string) (*Exchange, bool) {
	cal, ok := r.calendars[canonical(exchange)]
	return cal, ok
}

// Sessions lists trading sessions for exchange, falling back to the default
// calendar when the exchange is unknown or cannot cover the dates.
func (r *Registry) Sessions(exchange string, start, end time.Time) ([]Session, error) {
	for _, cal := range r.candidates(exchange) {
		sessions, err := cal.Sessions(start, end)
		if err == nil {
			return sessions, nil
		}
		if !errors.Is(err, ErrCalendarUnavailable) {
			return nil, err
		}
		r.logger.Debug("calendar cannot cover range, trying fallback",
			"calendar", cal.Name(),
			"start", start.Format(time.DateOnly),
			"end", end.Format(time.DateOnly))
	}
	return nil, fmt.Errorf("no calendar for exchange %q (default %q): %w", exchange, r.defaultExchange, ErrCalendarUnavailable)
}

// ExpectedTimestamps implements Oracle.
//
// Daily bars are keyed by session date, monthly bars by the first day of each
// month that has at least one session, and intraday bars by every clock
// boundary of the step that falls inside trading hours: open <= t < close.
// With a 09:30 open the first hourly slot is 10:00 local time.
func (r *Registry) ExpectedTimestamps(exchange string, tf models.Timeframe, start, end time.Time) ([]time.Time, error) {
	if !tf.Valid() {
		return nil, &models.ValidationError{Field: "timeframe", Message: fmt.Sprintf("invalid timeframe %q", tf)}
	}

	sessions, err := r.Sessions(exchange, start, end)
	if err != nil {
		return nil, err
	}

	switch {
	case tf == models.Timeframe1Day:
		out := make([]time.Time, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, s.Date)
		}
		return out, nil

	case tf == models.Timeframe1Month:
		out := make([]time.Time, 0, len(sessions)/20+1)
		for _, s := range sessions {
			period := time.Date(s.Date.Year(), s.Date.Month(), 1, 0, 0, 0, 0, time.UTC)
			if n := len(out); n == 0 || !out[n-1].Equal(period) {
				out = append(out, period)
			}
		}
		return out, nil

	default:
		step := tf.Step()
		var out []time.Time
		loc := r.Location(exchange)
		for _, s := range sessions {
			first := tf.Floor(s.Open, loc)
			if first.Before(s.Open) {
				first = first.Add(step)
			}
			for t := first; t.Before(s.Close); t = t.Add(step) {
				out = append(out, t)
			}
		}
		return out, nil
	}
}

// Location implements Oracle. Unknown exchanges use the default calendar's
// location, then UTC.
func (r *Registry) Location(exchange string) *time.Location {
	if cals := r.candidates(exchange); len(cals) > 0 {
		return cals[0].Location()
	}
	return time.UTC
}

// candidates lists the calendars to try for exchange in order: the exchange's
// own calendar, then the default if different.
func (r *Registry) candidates(exchange string) []*Exchange {
	var out []*Exchange
	name := canonical(exchange)
	if cal, ok := r.calendars[name]; ok {
		out = append(out, cal)
	} else if name != "" {
		r.logger.Debug("unknown exchange, using default calendar", "exchange", exchange, "default", r.defaultExchange)
	}
	if name != r.defaultExchange {
		if cal, ok := r.calendars[r.defaultExchange]; ok {
			out = append(out, cal)
		}
	}
	return out
}

func canonical(exchange string) string {
	key := strings.ToUpper(strings.TrimSpace(exchange))
	if name, ok := exchangeAliases[key]; ok {
		return name
	}
	return key
}
