package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
)

func TestNewChainFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers = []config.ProviderConfig{
		{Name: config.ProviderTiingo, Enabled: true, APIKey: "t", CircuitBreaker: true},
		{Name: config.ProviderYahoo, Enabled: true},
		{Name: config.ProviderPolygon, Enabled: false},
		{Name: config.ProviderAlpaca, Enabled: true, APIKey: "k", APISecret: "s"},
	}

	chain, err := NewChainFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"tiingo", "yahoo", "alpaca"}, chain.Names())

	_, wrapped := State(chain.providers[0])
	assert.True(t, wrapped)
	_, wrapped = State(chain.providers[1])
	assert.False(t, wrapped)
}

func TestNewChainFromConfigErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers = []config.ProviderConfig{{Name: "finage", Enabled: true}}
	_, err := NewChainFromConfig(cfg, nil)
	assert.ErrorContains(t, err, "unknown provider")

	cfg.Providers = []config.ProviderConfig{{Name: config.ProviderPolygon, Enabled: true}}
	_, err = NewChainFromConfig(cfg, nil)
	assert.ErrorContains(t, err, "api key is required")
}
