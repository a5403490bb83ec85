package models

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is the sampling granularity of stored bars.
type Timeframe string

const (
	Timeframe5Min   Timeframe = "5min"
	Timeframe15Min  Timeframe = "15min"
	Timeframe1Hour  Timeframe = "1h"
	Timeframe1Day   Timeframe = "1d"
	Timeframe1Month Timeframe = "1month"
)

// AllTimeframes lists every supported timeframe in ascending granularity.
var AllTimeframes = []Timeframe{
	Timeframe5Min,
	Timeframe15Min,
	Timeframe1Hour,
	Timeframe1Day,
	Timeframe1Month,
}

// timeframeAliases maps accepted spellings (lower-cased) to canonical timeframes.
// The mixed-case tokens used by older clients ("5Min", "1H", "1D", "1Month") are
// folded in by the lower-casing in ParseTimeframe.
var timeframeAliases = map[string]Timeframe{
	"5min":   Timeframe5Min,
	"5m":     Timeframe5Min,
	"15min":  Timeframe15Min,
	"15m":    Timeframe15Min,
	"1h":     Timeframe1Hour,
	"60min":  Timeframe1Hour,
	"1hour":  Timeframe1Hour,
	"1d":     Timeframe1Day,
	"1day":   Timeframe1Day,
	"1month": Timeframe1Month,
	"1mo":    Timeframe1Month,
	"1mon":   Timeframe1Month,
}

// ParseTimeframe converts a user supplied token into a Timeframe.
// Unknown tokens yield a *ValidationError.
func ParseTimeframe(token string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(token))
	if tf, ok := timeframeAliases[key]; ok {
		return tf, nil
	}
	return "", &ValidationError{
		Field:   "timeframe",
		Message: fmt.Sprintf("unsupported timeframe %q (expected one of 5min, 15min, 1h, 1d, 1month)", token),
	}
}

// String returns the canonical token.
func (tf Timeframe) String() string {
	return string(tf)
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe5Min, Timeframe15Min, Timeframe1Hour, Timeframe1Day, Timeframe1Month:
		return true
	}
	return false
}

// IsIntraday reports whether bars subdivide a trading session.
func (tf Timeframe) IsIntraday() bool {
	return tf == Timeframe5Min || tf == Timeframe15Min || tf == Timeframe1Hour
}

// Step returns the fixed duration of an intraday bar. Session based
// timeframes return a nominal value: 24h for daily and 30 days for monthly.
// Use Next for calendar-exact stepping.
func (tf Timeframe) Step() time.Duration {
	switch tf {
	case Timeframe5Min:
		return 5 * time.Minute
	case Timeframe15Min:
		return 15 * time.Minute
	case Timeframe1Hour:
		return time.Hour
	case Timeframe1Day:
		return 24 * time.Hour
	case Timeframe1Month:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Next returns the nominal successor of t: t plus one step, or one calendar
// month later for the monthly timeframe.
func (tf Timeframe) Next(t time.Time) time.Time {
	if tf == Timeframe1Month {
		return t.AddDate(0, 1, 0)
	}
	return t.Add(tf.Step())
}

// TableName returns the storage table that holds bars of this timeframe.
func (tf Timeframe) TableName() string {
	switch tf {
	case Timeframe5Min:
		return "bars_5min"
	case Timeframe15Min:
		return "bars_15min"
	case Timeframe1Hour:
		return "bars_1h"
	case Timeframe1Day:
		return "bars_1d"
	case Timeframe1Month:
		return "bars_1month"
	}
	return ""
}

// Align snaps a provider timestamp onto the storage grid for this timeframe.
//
// Daily bars are keyed by 00:00 UTC of the session date and monthly bars by
// 00:00 UTC of the first day of the month. A timestamp that is already at UTC
// midnight is taken to carry its session date; anything else is converted to
// the exchange location before the date is read. Intraday timestamps are
// floored to their bucket with Floor, so an hourly bar stamped 10:30 and one
// stamped 10:00 both land on the 10:00 slot.
func (tf Timeframe) Align(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	switch tf {
	case Timeframe1Day, Timeframe1Month:
		u := t.UTC()
		local := u
		if u.Hour() != 0 || u.Minute() != 0 || u.Second() != 0 || u.Nanosecond() != 0 {
			local = t.In(loc)
		}
		day := local.Day()
		if tf == Timeframe1Month {
			day = 1
		}
		return time.Date(local.Year(), local.Month(), day, 0, 0, 0, 0, time.UTC)
	default:
		return tf.Floor(t, loc)
	}
}

// Floor returns the start of the intraday bucket holding t, measured on the
// wall clock of loc, in UTC. Buckets are multiples of Step from local
// midnight. Session based timeframes return t in UTC unchanged.
func (tf Timeframe) Floor(t time.Time, loc *time.Location) time.Time {
	if !tf.IsIntraday() {
		return t.UTC()
	}
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	elapsed := local.Sub(midnight)
	return midnight.Add(elapsed - elapsed%tf.Step()).UTC()
}
