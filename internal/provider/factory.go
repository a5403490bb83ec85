package provider

import (
	"fmt"
	"log/slog"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-ingest/internal/errors"
)

// NewChainFromConfig builds the chain from the enabled providers in their
// configured order. Providers flagged with circuit_breaker are wrapped with
// the shared breaker settings.
func NewChainFromConfig(cfg *config.AppConfig, logger *slog.Logger) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	retrier := apperrors.NewErrorClassifier(cfg.ErrorHandling, logger)

	var providers []Provider
	for _, pc := range cfg.EnabledProviders() {
		p, err := newProvider(pc, retrier, logger.With("provider", pc.Name))
		if err != nil {
			return nil, err
		}
		if pc.CircuitBreaker {
			p = WithCircuitBreaker(p, cfg.ErrorHandling.CircuitBreakerConfig)
		}
		providers = append(providers, p)
	}

	chain := NewChain(logger, providers...)
	logger.Info("provider chain configured", "providers", chain.Names())
	return chain, nil
}

func newProvider(pc config.ProviderConfig, retrier *apperrors.ErrorClassifier, logger *slog.Logger) (Provider, error) {
	switch pc.Name {
	case config.ProviderYahoo:
		return NewYahooAdapter(pc, logger), nil
	case config.ProviderAlpaca:
		return NewAlpacaAdapter(pc, logger)
	case config.ProviderPolygon:
		return NewPolygonAdapter(pc, logger)
	case config.ProviderTiingo:
		return NewTiingoAdapter(pc, retrier, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", pc.Name)
	}
}
