package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		token    string
		expected Timeframe
	}{
		{"5min", Timeframe5Min},
		{"5Min", Timeframe5Min},
		{"15MIN", Timeframe15Min},
		{"1H", Timeframe1Hour},
		{"60min", Timeframe1Hour},
		{" 1d ", Timeframe1Day},
		{"1D", Timeframe1Day},
		{"1Month", Timeframe1Month},
		{"1mo", Timeframe1Month},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			tf, err := ParseTimeframe(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tf)
			assert.True(t, tf.Valid())
		})
	}

	for _, bad := range []string{"", "1w", "2h", "minute", "1week"} {
		t.Run("invalid_"+bad, func(t *testing.T) {
			_, err := ParseTimeframe(bad)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestTimeframe_Properties(t *testing.T) {
	assert.True(t, Timeframe5Min.IsIntraday())
	assert.True(t, Timeframe1Hour.IsIntraday())
	assert.False(t, Timeframe1Day.IsIntraday())
	assert.False(t, Timeframe1Month.IsIntraday())

	assert.Equal(t, 15*time.Minute, Timeframe15Min.Step())
	assert.Equal(t, "bars_1month", Timeframe1Month.TableName())
	assert.Equal(t, "", Timeframe("2h").TableName())

	jan31 := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), Timeframe1Month.Next(jan31))
	assert.Equal(t, jan31.Add(time.Hour), Timeframe1Hour.Next(jan31))
}

func TestTimeframe_Align(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name     string
		tf       Timeframe
		in       time.Time
		expected time.Time
	}{
		{
			name:     "daily_utc_midnight_kept",
			tf:       Timeframe1Day,
			in:       time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "daily_exchange_midnight",
			tf:       Timeframe1Day,
			in:       time.Date(2025, 1, 2, 5, 0, 0, 0, time.UTC),
			expected: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "daily_session_open",
			tf:       Timeframe1Day,
			in:       time.Date(2025, 1, 2, 9, 30, 0, 0, ny),
			expected: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "monthly_first_session",
			tf:       Timeframe1Month,
			in:       time.Date(2025, 2, 3, 14, 30, 0, 0, time.UTC),
			expected: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "intraday_to_utc",
			tf:       Timeframe5Min,
			in:       time.Date(2025, 1, 2, 9, 35, 0, 0, ny),
			expected: time.Date(2025, 1, 2, 14, 35, 0, 0, time.UTC),
		},
		{
			name:     "intraday_drops_seconds",
			tf:       Timeframe5Min,
			in:       time.Date(2025, 1, 2, 14, 35, 0, 500, time.UTC),
			expected: time.Date(2025, 1, 2, 14, 35, 0, 0, time.UTC),
		},
		{
			name:     "hourly_session_open_to_clock_hour",
			tf:       Timeframe1Hour,
			in:       time.Date(2025, 1, 2, 9, 30, 0, 0, ny),
			expected: time.Date(2025, 1, 2, 14, 0, 0, 0, time.UTC),
		},
		{
			name:     "hourly_clock_hour_kept",
			tf:       Timeframe1Hour,
			in:       time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC),
			expected: time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC),
		},
		{
			name:     "quarter_hour_mid_bucket",
			tf:       Timeframe15Min,
			in:       time.Date(2025, 1, 2, 14, 44, 59, 0, time.UTC),
			expected: time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.tf.Align(tt.in, ny)
			assert.True(t, tt.expected.Equal(got), "expected %s, got %s", tt.expected, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestTimeframe_Floor(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// a half-hour offset zone buckets on its own wall clock
	in := time.Date(2025, 1, 2, 4, 10, 0, 0, time.UTC) // 09:40 IST
	assert.Equal(t, time.Date(2025, 1, 2, 3, 30, 0, 0, time.UTC), Timeframe1Hour.Floor(in, kolkata))
	assert.Equal(t, time.Date(2025, 1, 2, 4, 0, 0, 0, time.UTC), Timeframe1Hour.Floor(in, nil))

	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, day, Timeframe1Day.Floor(day, kolkata))
}
