// Package gaps decides which expected bars are missing and collapses them into
// contiguous ranges that can be requested from a provider in one call.
//
// FindMissing and Group are pure functions. Planner combines them with a
// calendar and a store to produce the gap ranges for one (symbol, timeframe)
// request.
package gaps

import (
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// contiguityTolerance absorbs small provider clock skew around the nominal step.
const contiguityTolerance = 60 * time.Second

// dailyAdjacency lets a daily range span a weekend plus one holiday.
const dailyAdjacency = 4 * 24 * time.Hour

// Range is one contiguous run of missing timestamps, inclusive at both ends.
type Range struct {
	Start time.Time
	End   time.Time
	Count int
}

// TimestampSet holds stored timestamps keyed by their UTC instant.
type TimestampSet map[int64]struct{}

// NewTimestampSet builds a set from timestamps.
func NewTimestampSet(ts ...time.Time) TimestampSet {
	set := make(TimestampSet, len(ts))
	for _, t := range ts {
		set.Add(t)
	}
	return set
}

// Add inserts t.
func (s TimestampSet) Add(t time.Time) {
	s[t.UTC().UnixNano()] = struct{}{}
}

// Contains reports whether t is in the set.
func (s TimestampSet) Contains(t time.Time) bool {
	_, ok := s[t.UTC().UnixNano()]
	return ok
}

// FindMissing returns the expected timestamps that are neither stored nor
// inside an unobtainable range, preserving the input order.
func FindMissing(expected []time.Time, existing TimestampSet, unobtainable []models.UnobtainableRange) []time.Time {
	missing := make([]time.Time, 0)
	for _, t := range expected {
		if existing.Contains(t) {
			continue
		}
		if covered(t, unobtainable) {
			continue
		}
		missing = append(missing, t)
	}
	return missing
}

func covered(t time.Time, ranges []models.UnobtainableRange) bool {
	for i := range ranges {
		if ranges[i].Contains(t) {
			return true
		}
	}
	return false
}

// Group merges sorted missing timestamps into the minimal list of ranges
// under the timeframe's adjacency rule.
func Group(missing []time.Time, tf models.Timeframe) []Range {
	if len(missing) == 0 {
		return nil
	}

	ranges := make([]Range, 0, 1)
	current := Range{Start: missing[0], End: missing[0], Count: 1}
	for _, t := range missing[1:] {
		if Contiguous(current.End, t, tf) {
			current.End = t
			current.Count++
			continue
		}
		ranges = append(ranges, current)
		current = Range{Start: t, End: t, Count: 1}
	}
	return append(ranges, current)
}

// Contiguous reports whether next directly follows prev for tf.
func Contiguous(prev, next time.Time, tf models.Timeframe) bool {
	delta := next.Sub(prev)
	switch tf {
	case models.Timeframe1Day:
		return delta > 0 && delta <= dailyAdjacency
	case models.Timeframe1Month:
		return within(next.Sub(prev.AddDate(0, 1, 0)), contiguityTolerance)
	default:
		return within(delta-tf.Step(), contiguityTolerance)
	}
}

func within(d, tolerance time.Duration) bool {
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
