package models

import (
	"fmt"
	"time"
)

// UnobtainableRange records that no provider in the chain returned data for
// [Start, End] as of CreatedAt. It is a negative-cache entry: ranges covered by
// it are excluded from completeness checks.
type UnobtainableRange struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Timeframe Timeframe `json:"timeframe" db:"timeframe"`
	Start     time.Time `json:"start" db:"start_ts"`
	End       time.Time `json:"end" db:"end_ts"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewUnobtainableRange builds a range record stamped with the current time.
func NewUnobtainableRange(symbol string, tf Timeframe, start, end time.Time, reason string) (*UnobtainableRange, error) {
	r := &UnobtainableRange{
		Symbol:    NormalizeSymbol(symbol),
		Timeframe: tf,
		Start:     start.UTC(),
		End:       end.UTC(),
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks identity fields and bounds.
func (r *UnobtainableRange) Validate() error {
	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if !r.Timeframe.Valid() {
		return &ValidationError{Field: "timeframe", Message: fmt.Sprintf("invalid timeframe %q", r.Timeframe)}
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return &ValidationError{Field: "range", Message: "start and end are required"}
	}
	if r.End.Before(r.Start) {
		return &ValidationError{Field: "range", Message: "end must not be before start"}
	}
	return nil
}

// Contains reports whether t lies within the range, bounds inclusive.
func (r UnobtainableRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Overlaps reports whether the range intersects [start, end].
func (r UnobtainableRange) Overlaps(start, end time.Time) bool {
	return !r.Start.After(end) && !r.End.Before(start)
}

// Stale reports whether the entry is older than ttl at now. A non-positive ttl
// means entries never go stale.
func (r UnobtainableRange) Stale(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(r.CreatedAt) > ttl
}
