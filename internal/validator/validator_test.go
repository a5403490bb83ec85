package validator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func bar(d int, closePrice float64, volume int64) models.Bar {
	return models.Bar{
		Symbol:    "SPY",
		Timeframe: models.Timeframe1Day,
		Timestamp: day(d),
		Open:      closePrice,
		High:      closePrice + 1,
		Low:       closePrice - 1,
		Close:     closePrice,
		Volume:    volume,
	}
}

func newTestValidator() *Validator {
	return NewValidator(DefaultConfig(), slog.New(slog.DiscardHandler))
}

func TestValidateBars_Clean(t *testing.T) {
	bars := []models.Bar{bar(2, 100, 1000), bar(3, 101, 1200), bar(6, 99, 900)}

	report, err := newTestValidator().ValidateBars(context.Background(), "SPY", models.Timeframe1Day, bars)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Bars)
	assert.Empty(t, report.Anomalies)
	assert.Zero(t, report.FlaggedBars)
	assert.Equal(t, 1.0, report.Score)
	assert.Empty(t, report.Severity)
}

func TestValidateBars_Anomalies(t *testing.T) {
	broken := bar(7, 100, 1000)
	broken.High = 90

	bars := []models.Bar{
		bar(2, 100, 1000),
		bar(3, 160, 1000),  // +60% close
		bar(6, 161, 50000), // 50x volume
		broken,             // high below low
		bar(8, 100, 0),     // zero volume
		bar(8, 100, 1000),  // duplicate
		bar(3, 100, 1000),  // out of order
	}

	report, err := newTestValidator().ValidateBars(context.Background(), "SPY", models.Timeframe1Day, bars)
	require.NoError(t, err)

	counts := report.Counts()
	assert.Equal(t, 1, counts[AnomalyPriceSpike])
	assert.Equal(t, 1, counts[AnomalyVolumeSurge])
	assert.Equal(t, 1, counts[AnomalyLogicError])
	assert.Equal(t, 1, counts[AnomalyZeroVolume])
	assert.Equal(t, 1, counts[AnomalyDuplicate])
	assert.Equal(t, 1, counts[AnomalyOutOfOrder])

	assert.Equal(t, SeverityCritical, report.Severity)
	assert.Equal(t, 6, report.FlaggedBars)
	assert.InDelta(t, 1.0/7.0, report.Score, 1e-9)

	spike := report.Anomalies[0]
	assert.Equal(t, AnomalyPriceSpike, spike.Type)
	assert.Equal(t, SeverityWarning, spike.Severity)
	assert.Equal(t, day(3), spike.Timestamp)
	assert.True(t, spike.Value.Equal(decimal.NewFromFloat(0.6)))
}

func TestValidateBars_Thresholds(t *testing.T) {
	bars := []models.Bar{bar(2, 100, 1000), bar(3, 250, 1000)}

	v := NewValidator(Config{PriceSpikeThreshold: 0.5}, nil)
	report, err := v.ValidateBars(context.Background(), "SPY", models.Timeframe1Day, bars)
	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, SeverityError, report.Anomalies[0].Severity)

	v = NewValidator(Config{PriceSpikeThreshold: 2}, nil)
	report, err = v.ValidateBars(context.Background(), "SPY", models.Timeframe1Day, bars)
	require.NoError(t, err)
	assert.Empty(t, report.Anomalies)
}

func TestValidateBars_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestValidator().ValidateBars(ctx, "SPY", models.Timeframe1Day, []models.Bar{bar(2, 100, 1)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShouldEscalateSeverity(t *testing.T) {
	assert.True(t, ShouldEscalateSeverity("", SeverityInfo))
	assert.True(t, ShouldEscalateSeverity(SeverityWarning, SeverityCritical))
	assert.False(t, ShouldEscalateSeverity(SeverityError, SeverityWarning))
	assert.False(t, ShouldEscalateSeverity(SeverityError, SeverityError))
}
