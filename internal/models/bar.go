package models

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV data point for an instrument at a specific timestamp and timeframe.
// Bars are written once and never mutated.
type Bar struct {
	// Symbol is the upper-cased instrument symbol (e.g., "SPY")
	Symbol string `json:"symbol" db:"symbol"`

	// Timeframe is the sampling granularity of the bar
	Timeframe Timeframe `json:"timeframe" db:"-"`

	// Timestamp is the aligned bar open time in UTC
	Timestamp time.Time `json:"timestamp" db:"ts"`

	Open   float64 `json:"open" db:"open"`
	High   float64 `json:"high" db:"high"`
	Low    float64 `json:"low" db:"low"`
	Close  float64 `json:"close" db:"close"`
	Volume int64   `json:"volume" db:"volume"`
}

// NewBar creates a bar for symbol and validates its price relationships.
//
// Example:
//
//	bar, err := NewBar("spy", Timeframe1Day, ts, 585.1, 590.2, 581.4, 589.0, 51_200_000)
func NewBar(symbol string, tf Timeframe, ts time.Time, open, high, low, closePrice float64, volume int64) (*Bar, error) {
	bar := &Bar{
		Symbol:    NormalizeSymbol(symbol),
		Timeframe: tf,
		Timestamp: ts.UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}

	if err := bar.Validate(); err != nil {
		return nil, err
	}
	return bar, nil
}

// Validate rejects structurally impossible bars: missing identity, non-finite
// or non-positive prices, negative volume, and OHLC relationships that cannot
// hold for any real trading period. Price comparisons are done in decimal.
func (b *Bar) Validate() error {
	if strings.TrimSpace(b.Symbol) == "" {
		return &ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if b.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp is required"}
	}
	if b.Volume < 0 {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("volume must be non-negative, got %d", b.Volume)}
	}

	prices := map[string]float64{"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close}
	for field, v := range prices {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: field, Message: "price must be finite"}
		}
		if v <= 0 {
			return &ValidationError{Field: field, Message: fmt.Sprintf("price must be positive, got %v", v)}
		}
	}

	open := decimal.NewFromFloat(b.Open)
	high := decimal.NewFromFloat(b.High)
	low := decimal.NewFromFloat(b.Low)
	closePrice := decimal.NewFromFloat(b.Close)

	if high.LessThan(low) {
		return &ValidationError{Field: "high", Message: "high must be greater than or equal to low"}
	}
	if high.LessThan(decimal.Max(open, closePrice)) {
		return &ValidationError{Field: "high", Message: "high must be greater than or equal to open and close"}
	}
	if low.GreaterThan(decimal.Min(open, closePrice)) {
		return &ValidationError{Field: "low", Message: "low must be less than or equal to open and close"}
	}

	return nil
}

// SortBarsDescending orders bars newest first, in place.
func SortBarsDescending(bars []Bar) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.After(bars[j].Timestamp) })
}

// SortBarsAscending orders bars oldest first, in place.
func SortBarsAscending(bars []Bar) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
}
