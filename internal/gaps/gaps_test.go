package gaps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func hours(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func TestFindMissing(t *testing.T) {
	expected := []time.Time{day("2025-01-02"), day("2025-01-03"), day("2025-01-06"), day("2025-01-07")}

	tests := []struct {
		name         string
		existing     TimestampSet
		unobtainable []models.UnobtainableRange
		want         []time.Time
	}{
		{
			name:     "nothing stored",
			existing: NewTimestampSet(),
			want:     expected,
		},
		{
			name:     "set difference preserves order",
			existing: NewTimestampSet(day("2025-01-03"), day("2025-01-07")),
			want:     []time.Time{day("2025-01-02"), day("2025-01-06")},
		},
		{
			name:     "everything stored",
			existing: NewTimestampSet(expected...),
			want:     []time.Time{},
		},
		{
			name:     "stored timestamps outside expected are ignored",
			existing: NewTimestampSet(day("2024-12-31"), day("2025-01-02")),
			want:     []time.Time{day("2025-01-03"), day("2025-01-06"), day("2025-01-07")},
		},
		{
			name:     "unobtainable bounds are inclusive",
			existing: NewTimestampSet(),
			unobtainable: []models.UnobtainableRange{
				{Symbol: "SPY", Timeframe: models.Timeframe1Day, Start: day("2025-01-03"), End: day("2025-01-06")},
			},
			want: []time.Time{day("2025-01-02"), day("2025-01-07")},
		},
		{
			name:     "stored and unobtainable combine",
			existing: NewTimestampSet(day("2025-01-02")),
			unobtainable: []models.UnobtainableRange{
				{Symbol: "SPY", Timeframe: models.Timeframe1Day, Start: day("2025-01-07"), End: day("2025-01-07")},
			},
			want: []time.Time{day("2025-01-03"), day("2025-01-06")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindMissing(expected, tt.existing, tt.unobtainable)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindMissing_EmptyExpected(t *testing.T) {
	got := FindMissing(nil, NewTimestampSet(day("2025-01-02")), nil)
	assert.Empty(t, got)
}

func TestFindMissing_DisjointSetsReturnExpected(t *testing.T) {
	expected := hours(time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC), 7)
	stored := NewTimestampSet(hours(time.Date(2025, 1, 3, 14, 30, 0, 0, time.UTC), 7)...)

	assert.Equal(t, expected, FindMissing(expected, stored, nil))
}

func TestTimestampSet_NormalisesZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	set := NewTimestampSet(time.Date(2025, 1, 2, 9, 30, 0, 0, ny))
	assert.True(t, set.Contains(time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)))
}

func TestGroup(t *testing.T) {
	open := time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		missing []time.Time
		tf      models.Timeframe
		want    []Range
	}{
		{
			name:    "empty",
			missing: nil,
			tf:      models.Timeframe1Day,
			want:    nil,
		},
		{
			name:    "single timestamp is a degenerate range",
			missing: []time.Time{day("2025-01-02")},
			tf:      models.Timeframe1Day,
			want:    []Range{{Start: day("2025-01-02"), End: day("2025-01-02"), Count: 1}},
		},
		{
			name:    "daily range spans a weekend",
			missing: []time.Time{day("2025-01-03"), day("2025-01-06"), day("2025-01-07")},
			tf:      models.Timeframe1Day,
			want:    []Range{{Start: day("2025-01-03"), End: day("2025-01-07"), Count: 3}},
		},
		{
			name:    "daily gap of four days stays contiguous",
			missing: []time.Time{day("2025-04-17"), day("2025-04-21")},
			tf:      models.Timeframe1Day,
			want:    []Range{{Start: day("2025-04-17"), End: day("2025-04-21"), Count: 2}},
		},
		{
			name:    "daily gap of five days splits",
			missing: []time.Time{day("2025-01-02"), day("2025-01-07"), day("2025-01-08")},
			tf:      models.Timeframe1Day,
			want: []Range{
				{Start: day("2025-01-02"), End: day("2025-01-02"), Count: 1},
				{Start: day("2025-01-07"), End: day("2025-01-08"), Count: 2},
			},
		},
		{
			name: "hourly hole splits exactly at the hole",
			missing: []time.Time{
				open, open.Add(time.Hour),
				open.Add(5 * time.Hour), open.Add(6 * time.Hour),
			},
			tf: models.Timeframe1Hour,
			want: []Range{
				{Start: open, End: open.Add(time.Hour), Count: 2},
				{Start: open.Add(5 * time.Hour), End: open.Add(6 * time.Hour), Count: 2},
			},
		},
		{
			name:    "five minute tolerance",
			missing: []time.Time{open, open.Add(5*time.Minute + 30*time.Second), open.Add(11 * time.Minute)},
			tf:      models.Timeframe5Min,
			want: []Range{
				{Start: open, End: open.Add(11 * time.Minute), Count: 3},
			},
		},
		{
			name:    "fifteen minute step mismatch splits",
			missing: []time.Time{open, open.Add(30 * time.Minute)},
			tf:      models.Timeframe15Min,
			want: []Range{
				{Start: open, End: open, Count: 1},
				{Start: open.Add(30 * time.Minute), End: open.Add(30 * time.Minute), Count: 1},
			},
		},
		{
			name:    "monthly uses calendar months",
			missing: []time.Time{day("2025-01-01"), day("2025-02-01"), day("2025-03-01"), day("2025-05-01")},
			tf:      models.Timeframe1Month,
			want: []Range{
				{Start: day("2025-01-01"), End: day("2025-03-01"), Count: 3},
				{Start: day("2025-05-01"), End: day("2025-05-01"), Count: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Group(tt.missing, tt.tf))
		})
	}
}

func TestGroup_CoversEveryTimestamp(t *testing.T) {
	open := time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)
	missing := append(hours(open, 3), hours(open.Add(24*time.Hour), 4)...)

	ranges := Group(missing, models.Timeframe1Hour)
	require.Len(t, ranges, 2)

	total := 0
	for _, r := range ranges {
		total += r.Count
		assert.False(t, r.End.Before(r.Start))
	}
	assert.Equal(t, len(missing), total)
	assert.Equal(t, missing[0], ranges[0].Start)
	assert.Equal(t, missing[len(missing)-1], ranges[1].End)
}

func TestContiguous(t *testing.T) {
	assert.False(t, Contiguous(day("2025-01-31"), day("2025-02-28"), models.Timeframe1Day))
	assert.True(t, Contiguous(day("2025-01-01"), day("2025-02-01"), models.Timeframe1Month))
	assert.False(t, Contiguous(day("2025-01-01"), day("2025-03-01"), models.Timeframe1Month))
	assert.False(t, Contiguous(day("2025-01-03"), day("2025-01-03"), models.Timeframe1Day))
}
