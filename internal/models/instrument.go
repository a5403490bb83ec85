package models

import (
	"strings"
	"time"
)

// Instrument is a tradable symbol and, when known, its listing venue.
// Symbols are case-insensitive; the stored form is upper case.
type Instrument struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Exchange  *string   `json:"exchange,omitempty" db:"exchange"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeSymbol trims and upper-cases a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NewInstrument returns an instrument with no exchange assigned.
func NewInstrument(symbol string) *Instrument {
	now := time.Now().UTC()
	return &Instrument{
		Symbol:    NormalizeSymbol(symbol),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ExchangeOrEmpty returns the exchange identifier, or "" when unknown.
func (i *Instrument) ExchangeOrEmpty() string {
	if i == nil || i.Exchange == nil {
		return ""
	}
	return *i.Exchange
}
