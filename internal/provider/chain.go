package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// ErrNoProviders is returned by a chain with nothing configured. It is not
// exhaustion: no source was asked, so nothing may be marked unobtainable.
var ErrNoProviders = errors.New("no providers configured")

// Attempt records one provider call made while resolving a gap.
type Attempt struct {
	Provider string        `json:"provider"`
	Kind     Kind          `json:"kind,omitempty"`
	Err      error         `json:"-"`
	Bars     int           `json:"bars"`
	Duration time.Duration `json:"duration"`
}

// ChainResult is the winning provider's normalised bars.
type ChainResult struct {
	Provider string
	Bars     []models.Bar
	Attempts []Attempt
}

// ExhaustedError is returned when every provider failed for a request.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("provider chain exhausted after %d attempts: %s", len(e.Attempts), e.Reason())
}

// Reason is the human readable text stored with the unobtainable range.
func (e *ExhaustedError) Reason() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %s (%v)", a.Provider, a.Kind, rootCause(a.Err)))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Kind))
		}
	}
	return "no provider returned data: " + strings.Join(parts, "; ")
}

func rootCause(err error) error {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err
	}
	return err
}

// Conclusive reports whether at least one provider was actually called. A
// chain whose every provider was skipped proves nothing about the data.
func (e *ExhaustedError) Conclusive() bool {
	for _, a := range e.Attempts {
		if a.Kind != KindSkipped {
			return true
		}
	}
	return false
}

// IsExhausted reports whether err is an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// Chain tries providers strictly in order until one returns bars.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a chain over providers in priority order.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{providers: providers, logger: logger}
}

// Names returns the provider names in priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of providers in the chain.
func (c *Chain) Len() int {
	return len(c.providers)
}

// Fetch walks the chain for req. The first provider that yields at least one
// valid bar inside the request range wins. Every failure kind advances to the
// next provider. When ctx ends during an attempt the walk stops with the
// context error; that is never reported as exhaustion.
func (c *Chain) Fetch(ctx context.Context, req FetchRequest) (*ChainResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	attempts := make([]Attempt, 0, len(c.providers))
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := p.Name()
		started := time.Now()
		raw, err := p.Fetch(ctx, req)
		elapsed := time.Since(started)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%s: %w", name, ctxErr)
			}
		}

		var bars []models.Bar
		if err == nil {
			bars = c.normalize(name, req, raw)
			if len(bars) == 0 {
				err = NoData(name)
			}
		}

		if err == nil {
			attempts = append(attempts, Attempt{Provider: name, Bars: len(bars), Duration: elapsed})
			c.logger.Debug("provider returned bars",
				"provider", name,
				"symbol", req.Symbol,
				"timeframe", req.Timeframe,
				"bars", len(bars),
				"raw", len(raw),
				"duration", elapsed)
			return &ChainResult{Provider: name, Bars: bars, Attempts: attempts}, nil
		}

		fe := Classify(name, err)
		attempts = append(attempts, Attempt{Provider: name, Kind: fe.Kind, Err: fe, Duration: elapsed})

		attrs := []any{
			"provider", name,
			"symbol", req.Symbol,
			"timeframe", req.Timeframe,
			"start", req.Start,
			"end", req.End,
			"kind", fe.Kind,
			"error", fe.Err,
		}
		switch fe.Kind {
		case KindFatal:
			c.logger.Error("provider failed, trying next", attrs...)
		case KindTransient:
			c.logger.Warn("provider failed, trying next", attrs...)
		case KindSkipped:
			c.logger.Info("provider skipped, trying next", attrs...)
		default:
			c.logger.Debug("provider had nothing, trying next", attrs...)
		}
	}

	return nil, &ExhaustedError{Attempts: attempts}
}

// normalize aligns timestamps to the storage grid, stamps identity, drops
// bars outside the request, outside the trading session or failing
// validation, and removes duplicates.
// The result is in ascending order.
func (c *Chain) normalize(provider string, req FetchRequest, raw []models.Bar) []models.Bar {
	if len(raw) == 0 {
		return nil
	}

	symbol := models.NormalizeSymbol(req.Symbol)
	start, end := req.Start.UTC(), req.End.UTC()
	seen := make(map[int64]struct{}, len(raw))
	out := make([]models.Bar, 0, len(raw))
	outside, offSession, invalid := 0, 0, 0

	for _, b := range raw {
		b.Symbol = symbol
		b.Timeframe = req.Timeframe
		b.Timestamp = req.Timeframe.Align(b.Timestamp, req.Location)

		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			outside++
			continue
		}
		if req.InSession != nil && req.Timeframe.IsIntraday() && !req.InSession(b.Timestamp) {
			offSession++
			continue
		}
		if err := b.Validate(); err != nil {
			invalid++
			c.logger.Warn("dropping invalid bar",
				"provider", provider,
				"symbol", symbol,
				"timestamp", b.Timestamp,
				"error", err)
			continue
		}

		key := b.Timestamp.UnixNano()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, b)
	}

	if outside > 0 || offSession > 0 || invalid > 0 {
		c.logger.Debug("provider bars filtered",
			"provider", provider,
			"kept", len(out),
			"outside_range", outside,
			"outside_session", offSession,
			"invalid", invalid)
	}

	models.SortBarsAscending(out)
	return out
}
