package provider

import (
	"context"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-ingest/internal/errors"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// breakerProvider skips a provider while its circuit is open.
type breakerProvider struct {
	Provider
	breaker *apperrors.CircuitBreaker
}

// WithCircuitBreaker wraps p so that repeated transient or fatal failures
// open a circuit. While open, Fetch fails fast with a Skipped error and the
// chain moves on. NoData and Unsupported results do not count as failures.
func WithCircuitBreaker(p Provider, cfg config.CircuitBreakerConfig) Provider {
	return &breakerProvider{
		Provider: p,
		breaker:  apperrors.NewCircuitBreaker(p.Name(), cfg),
	}
}

func (b *breakerProvider) Fetch(ctx context.Context, req FetchRequest) ([]models.Bar, error) {
	var (
		bars     []models.Bar
		fetchErr error
		called   bool
	)

	err := b.breaker.Call(func() error {
		called = true
		bars, fetchErr = b.Provider.Fetch(ctx, req)
		if fetchErr == nil || ctx.Err() != nil {
			return nil
		}
		switch KindOf(fetchErr) {
		case KindNoData, KindUnsupported:
			return nil
		}
		return fetchErr
	})

	if !called {
		return nil, Classify(b.Name(), err)
	}
	return bars, fetchErr
}

// State reports the circuit state of a provider wrapped by WithCircuitBreaker.
func State(p Provider) (apperrors.CircuitState, bool) {
	if b, ok := p.(*breakerProvider); ok {
		return b.breaker.GetState(), true
	}
	return apperrors.CircuitClosed, false
}
