// Package validator reports data-quality anomalies in stored bar series.
//
// The acquisition engine stores whatever a provider returns. This package
// is the after-the-fact check: it reads a series back and flags bars that
// break OHLC logic, sudden close-to-close moves, volume surges, zero-volume
// sessions and sequence problems such as duplicates.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// AnomalyType classifies an anomaly.
type AnomalyType string

const (
	AnomalyLogicError  AnomalyType = "logic_error"
	AnomalyPriceSpike  AnomalyType = "price_spike"
	AnomalyVolumeSurge AnomalyType = "volume_surge"
	AnomalyZeroVolume  AnomalyType = "zero_volume"
	AnomalyOutOfOrder  AnomalyType = "out_of_order"
	AnomalyDuplicate   AnomalyType = "duplicate"
)

// Severity ranks anomalies.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// ShouldEscalateSeverity reports whether proposed outranks current.
func ShouldEscalateSeverity(current, proposed Severity) bool {
	return severityRank[proposed] > severityRank[current]
}

// Anomaly is one finding against one bar.
type Anomaly struct {
	Type        AnomalyType     `json:"type"`
	Severity    Severity        `json:"severity"`
	Timestamp   time.Time       `json:"timestamp"`
	Value       decimal.Decimal `json:"value"`
	Threshold   decimal.Decimal `json:"threshold"`
	Description string          `json:"description"`
}

// Config holds detection thresholds.
type Config struct {
	// PriceSpikeThreshold is the absolute close-to-close return that counts
	// as a spike; 0.5 flags moves of more than 50% in one bar.
	PriceSpikeThreshold float64
	// VolumeSurgeThreshold is the volume ratio to the previous bar.
	VolumeSurgeThreshold float64
	// FlagZeroVolume reports bars that traded nothing.
	FlagZeroVolume bool
}

// DefaultConfig returns thresholds suited to daily equity bars.
func DefaultConfig() Config {
	return Config{
		PriceSpikeThreshold:  0.5,
		VolumeSurgeThreshold: 10,
		FlagZeroVolume:       true,
	}
}

// Report summarizes one series.
type Report struct {
	Symbol      string           `json:"symbol"`
	Timeframe   models.Timeframe `json:"timeframe"`
	Bars        int              `json:"bars"`
	FlaggedBars int              `json:"flagged_bars"`
	Score       float64          `json:"score"`
	Severity    Severity         `json:"severity,omitempty"`
	Anomalies   []Anomaly        `json:"anomalies"`
}

// Counts tallies anomalies by type.
func (r *Report) Counts() map[AnomalyType]int {
	out := make(map[AnomalyType]int)
	for _, a := range r.Anomalies {
		out[a.Type]++
	}
	return out
}

// Validator runs quality checks over bar series.
type Validator struct {
	config Config
	spike  decimal.Decimal
	surge  decimal.Decimal
	logger *slog.Logger
}

// NewValidator creates a validator. Non-positive thresholds fall back to
// DefaultConfig.
func NewValidator(cfg Config, logger *slog.Logger) *Validator {
	defaults := DefaultConfig()
	if cfg.PriceSpikeThreshold <= 0 {
		cfg.PriceSpikeThreshold = defaults.PriceSpikeThreshold
	}
	if cfg.VolumeSurgeThreshold <= 0 {
		cfg.VolumeSurgeThreshold = defaults.VolumeSurgeThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		config: cfg,
		spike:  decimal.NewFromFloat(cfg.PriceSpikeThreshold),
		surge:  decimal.NewFromFloat(cfg.VolumeSurgeThreshold),
		logger: logger,
	}
}

// ValidateBars checks a series of one symbol and timeframe. Bars must be in
// ascending timestamp order as stored; violations are reported, not fixed.
func (v *Validator) ValidateBars(ctx context.Context, symbol string, tf models.Timeframe, bars []models.Bar) (*Report, error) {
	report := &Report{
		Symbol:    symbol,
		Timeframe: tf,
		Bars:      len(bars),
		Score:     1,
		Anomalies: []Anomaly{},
	}

	flagged := make(map[int]bool)
	add := func(i int, a Anomaly) {
		flagged[i] = true
		report.Anomalies = append(report.Anomalies, a)
		if ShouldEscalateSeverity(report.Severity, a.Severity) {
			report.Severity = a.Severity
		}
	}

	for i := range bars {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		bar := bars[i]
		if err := bar.Validate(); err != nil {
			add(i, Anomaly{
				Type:        AnomalyLogicError,
				Severity:    SeverityCritical,
				Timestamp:   bar.Timestamp,
				Description: err.Error(),
			})
		}
		if v.config.FlagZeroVolume && bar.Volume == 0 {
			add(i, Anomaly{
				Type:        AnomalyZeroVolume,
				Severity:    SeverityInfo,
				Timestamp:   bar.Timestamp,
				Description: "bar has zero volume",
			})
		}

		if i == 0 {
			continue
		}
		prev := bars[i-1]

		switch {
		case bar.Timestamp.Equal(prev.Timestamp):
			add(i, Anomaly{
				Type:        AnomalyDuplicate,
				Severity:    SeverityError,
				Timestamp:   bar.Timestamp,
				Description: "timestamp repeats the previous bar",
			})
			continue
		case bar.Timestamp.Before(prev.Timestamp):
			add(i, Anomaly{
				Type:        AnomalyOutOfOrder,
				Severity:    SeverityError,
				Timestamp:   bar.Timestamp,
				Description: fmt.Sprintf("timestamp precedes previous bar at %s", prev.Timestamp.Format(time.RFC3339)),
			})
			continue
		}

		if a, ok := v.priceSpike(prev, bar); ok {
			add(i, a)
		}
		if a, ok := v.volumeSurge(prev, bar); ok {
			add(i, a)
		}
	}

	report.FlaggedBars = len(flagged)
	if len(bars) > 0 {
		report.Score = 1 - float64(len(flagged))/float64(len(bars))
	}

	v.logger.Debug("bar series validated",
		"symbol", symbol,
		"timeframe", tf,
		"bars", report.Bars,
		"anomalies", len(report.Anomalies),
		"score", report.Score)

	return report, nil
}

// priceSpike compares the absolute close-to-close return with the threshold.
func (v *Validator) priceSpike(prev, bar models.Bar) (Anomaly, bool) {
	if prev.Close <= 0 || bar.Close <= 0 {
		return Anomaly{}, false
	}
	previous := decimal.NewFromFloat(prev.Close)
	change := decimal.NewFromFloat(bar.Close).Sub(previous).Div(previous).Abs()
	if !change.GreaterThan(v.spike) {
		return Anomaly{}, false
	}

	severity := SeverityWarning
	if change.GreaterThan(v.spike.Mul(decimal.NewFromInt(2))) {
		severity = SeverityError
	}
	return Anomaly{
		Type:      AnomalyPriceSpike,
		Severity:  severity,
		Timestamp: bar.Timestamp,
		Value:     change.Round(4),
		Threshold: v.spike,
		Description: fmt.Sprintf("close moved %s%% from %v to %v",
			change.Mul(decimal.NewFromInt(100)).StringFixed(1), prev.Close, bar.Close),
	}, true
}

// volumeSurge compares the volume ratio to the previous bar with the threshold.
func (v *Validator) volumeSurge(prev, bar models.Bar) (Anomaly, bool) {
	if prev.Volume <= 0 {
		return Anomaly{}, false
	}
	ratio := decimal.NewFromInt(bar.Volume).Div(decimal.NewFromInt(prev.Volume))
	if !ratio.GreaterThan(v.surge) {
		return Anomaly{}, false
	}
	return Anomaly{
		Type:        AnomalyVolumeSurge,
		Severity:    SeverityWarning,
		Timestamp:   bar.Timestamp,
		Value:       ratio.Round(2),
		Threshold:   v.surge,
		Description: fmt.Sprintf("volume %d is %sx the previous bar", bar.Volume, ratio.StringFixed(1)),
	}, true
}
