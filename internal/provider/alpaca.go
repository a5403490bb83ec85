package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// alpacaBars is the part of *marketdata.Client the adapter uses.
type alpacaBars interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaAdapter reads bars from the Alpaca market data API.
type AlpacaAdapter struct {
	client  alpacaBars
	feed    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewAlpacaAdapter creates the Alpaca adapter. Key and secret are required.
func NewAlpacaAdapter(cfg config.ProviderConfig, logger *slog.Logger) (*AlpacaAdapter, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("alpaca: api key and secret are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}

	return &AlpacaAdapter{
		client:  marketdata.NewClient(opts),
		feed:    cfg.Feed,
		timeout: cfg.TimeoutDuration(),
		logger:  logger,
	}, nil
}

// Name implements Provider.
func (a *AlpacaAdapter) Name() string { return config.ProviderAlpaca }

// Fetch implements Provider.
func (a *AlpacaAdapter) Fetch(ctx context.Context, req FetchRequest) ([]models.Bar, error) {
	tf, err := alpacaTimeFrame(req.Timeframe)
	if err != nil {
		return nil, err
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	// End is exclusive on Alpaca's side, which matches the window. Intraday
	// bars include extended hours; the chain keeps session slots only.
	from, until := req.Window()
	barsReq := marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Start:      from,
		End:        until,
		Adjustment: marketdata.Raw,
	}
	if a.feed != "" {
		barsReq.Feed = marketdata.Feed(a.feed)
	}

	symbol := models.NormalizeSymbol(req.Symbol)
	a.logger.Debug("fetching bars from alpaca",
		"symbol", symbol,
		"timeframe", tf.String(),
		"from", from,
		"until", until,
		"feed", a.feed)

	return callWithContext(ctx, func() ([]models.Bar, error) {
		raw, err := a.client.GetBars(symbol, barsReq)
		if err != nil {
			return nil, fmt.Errorf("get bars for %s: %w", symbol, err)
		}

		bars := make([]models.Bar, 0, len(raw))
		for _, ab := range raw {
			bars = append(bars, models.Bar{
				Timestamp: ab.Timestamp.UTC(),
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    int64(ab.Volume),
			})
		}
		return bars, nil
	})
}

// alpacaTimeFrame maps a timeframe onto Alpaca's amount and unit.
func alpacaTimeFrame(tf models.Timeframe) (marketdata.TimeFrame, error) {
	switch tf {
	case models.Timeframe5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case models.Timeframe15Min:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case models.Timeframe1Hour:
		return marketdata.NewTimeFrame(1, marketdata.Hour), nil
	case models.Timeframe1Day:
		return marketdata.NewTimeFrame(1, marketdata.Day), nil
	case models.Timeframe1Month:
		return marketdata.NewTimeFrame(1, marketdata.Month), nil
	}
	return marketdata.TimeFrame{}, Unsupported(config.ProviderAlpaca, "timeframe %q", tf)
}
