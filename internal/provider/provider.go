// Package provider defines the bar provider contract and the ordered
// fallback chain that resolves a gap through several external data sources.
//
// Every adapter answers the same question: which bars exist for a symbol and
// timeframe between two instants. Adapters report failures as FetchError
// values whose Kind tells the chain how the failure should be interpreted;
// every kind advances the chain to the next provider.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/johnayoung/go-ohlcv-ingest/internal/errors"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// Provider fetches historical bars from one external data source.
type Provider interface {
	// Name identifies the provider in logs and unobtainable reasons.
	Name() string

	// Fetch returns the bars available for the request. An empty result
	// with a nil error is reported by the chain as NoData. Timestamps may be
	// returned as the source reports them; the chain aligns them.
	Fetch(ctx context.Context, req FetchRequest) ([]models.Bar, error)
}

// FetchRequest describes the bars one gap needs.
type FetchRequest struct {
	Symbol    string
	Timeframe models.Timeframe

	// Start and End are the first and last bar timestamps wanted, inclusive.
	// Daily and monthly requests carry dates at 00:00 UTC.
	Start time.Time
	End   time.Time

	// Location is the exchange time zone, used to align daily bars that a
	// source reports at a local session time.
	Location *time.Location

	// InSession, when set, reports whether an aligned intraday timestamp is a
	// trading slot. Bars it rejects, such as pre-market bars, are dropped.
	InSession func(time.Time) bool
}

// Validate checks the request before it reaches an adapter.
func (r FetchRequest) Validate() error {
	if models.NormalizeSymbol(r.Symbol) == "" {
		return &models.ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if !r.Timeframe.Valid() {
		return &models.ValidationError{Field: "timeframe", Message: fmt.Sprintf("invalid timeframe %q", r.Timeframe)}
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return &models.ValidationError{Field: "range", Message: "start and end are required"}
	}
	if r.End.Before(r.Start) {
		return &models.ValidationError{Field: "range", Message: "end must not be before start"}
	}
	return nil
}

// Window returns the half-open interval [from, until) that covers every bar
// of the request.
func (r FetchRequest) Window() (from, until time.Time) {
	return r.Start.UTC(), r.Timeframe.Next(r.End.UTC())
}

// Kind classifies a provider failure.
type Kind string

const (
	// KindUnsupported means the provider cannot serve this symbol or timeframe
	KindUnsupported Kind = "unsupported"
	// KindNoData means the call succeeded but returned no usable bars
	KindNoData Kind = "no_data"
	// KindTransient covers network, timeout, rate limit and server failures
	KindTransient Kind = "transient"
	// KindFatal covers malformed responses and configuration problems
	KindFatal Kind = "fatal"
	// KindSkipped means the provider was never called, e.g. its circuit is open
	KindSkipped Kind = "skipped"
)

// ErrNoData is wrapped by NoData failures that have no more specific cause.
var ErrNoData = errors.New("no data returned")

// FetchError is a classified provider failure.
type FetchError struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Unsupported builds an Unsupported failure for provider.
func Unsupported(provider, format string, args ...any) *FetchError {
	return &FetchError{Provider: provider, Kind: KindUnsupported, Err: fmt.Errorf(format, args...)}
}

// NoData builds a NoData failure for provider.
func NoData(provider string) *FetchError {
	return &FetchError{Provider: provider, Kind: KindNoData, Err: ErrNoData}
}

// Classify turns any adapter error into a FetchError. Errors that already
// carry a kind keep it. An open circuit is Skipped. Everything else is
// classified by error type: network, timeout, rate limit and server errors
// are transient, and authentication, bad request, configuration and
// validation errors are fatal.
func Classify(provider string, err error) *FetchError {
	if err == nil {
		return nil
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Provider == "" {
			return &FetchError{Provider: provider, Kind: fe.Kind, Err: fe.Err}
		}
		return fe
	}

	var ve *models.ValidationError
	if errors.As(err, &ve) {
		return &FetchError{Provider: provider, Kind: KindFatal, Err: err}
	}

	switch {
	case apperrors.GetErrorType(err) == apperrors.ErrorTypeCircuitOpen:
		return &FetchError{Provider: provider, Kind: KindSkipped, Err: err}
	case apperrors.IsRetryable(err):
		return &FetchError{Provider: provider, Kind: KindTransient, Err: err}
	}

	errorType := apperrors.ClassifyType(err)
	if apperrors.IsTransientType(errorType) || errorType == apperrors.ErrorTypeUnknown {
		return &FetchError{Provider: provider, Kind: KindTransient, Err: err}
	}
	return &FetchError{Provider: provider, Kind: KindFatal, Err: err}
}

// KindOf returns the kind of err as Classify would assign it.
func KindOf(err error) Kind {
	if fe := Classify("", err); fe != nil {
		return fe.Kind
	}
	return ""
}

// callWithContext runs fn for clients that take no context and returns as
// soon as ctx ends. The abandoned call finishes in the background and its
// result is dropped.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
