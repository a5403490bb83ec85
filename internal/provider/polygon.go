package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	barmodels "github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// PolygonAdapter reads aggregates from the Polygon REST API.
type PolygonAdapter struct {
	client  *polygon.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewPolygonAdapter creates the Polygon adapter. An API key is required.
// cfg.RateLimit is in requests per minute; zero disables the limiter.
func NewPolygonAdapter(cfg config.ProviderConfig, logger *slog.Logger) (*PolygonAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("polygon: api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PolygonAdapter{
		client:  polygon.New(cfg.APIKey),
		limiter: perMinuteLimiter(cfg.RateLimit),
		timeout: cfg.TimeoutDuration(),
		logger:  logger,
	}, nil
}

// Name implements Provider.
func (p *PolygonAdapter) Name() string { return config.ProviderPolygon }

// Fetch implements Provider.
func (p *PolygonAdapter) Fetch(ctx context.Context, req FetchRequest) ([]barmodels.Bar, error) {
	multiplier, span, err := polygonTimespan(req.Timeframe)
	if err != nil {
		return nil, err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	from, until := req.Window()
	params := &models.ListAggsParams{
		Ticker:     barmodels.NormalizeSymbol(req.Symbol),
		Multiplier: multiplier,
		Timespan:   span,
		From:       models.Millis(from),
		To:         models.Millis(until.Add(-time.Millisecond)),
	}

	p.logger.Debug("fetching aggregates from polygon",
		"ticker", params.Ticker,
		"multiplier", multiplier,
		"timespan", span,
		"from", from,
		"until", until)

	iter := p.client.ListAggs(ctx, params)
	var bars []barmodels.Bar
	for iter.Next() {
		bars = append(bars, aggToBar(iter.Item()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list aggregates for %s: %w", params.Ticker, err)
	}
	return bars, nil
}

func aggToBar(agg models.Agg) barmodels.Bar {
	return barmodels.Bar{
		Timestamp: time.Time(agg.Timestamp).UTC(),
		Open:      agg.Open,
		High:      agg.High,
		Low:       agg.Low,
		Close:     agg.Close,
		Volume:    int64(agg.Volume),
	}
}

// polygonTimespan maps a timeframe onto Polygon's multiplier and timespan.
func polygonTimespan(tf barmodels.Timeframe) (int, models.Timespan, error) {
	switch tf {
	case barmodels.Timeframe5Min:
		return 5, models.Minute, nil
	case barmodels.Timeframe15Min:
		return 15, models.Minute, nil
	case barmodels.Timeframe1Hour:
		return 1, models.Hour, nil
	case barmodels.Timeframe1Day:
		return 1, models.Day, nil
	case barmodels.Timeframe1Month:
		return 1, models.Month, nil
	}
	return 0, "", Unsupported(config.ProviderPolygon, "timeframe %q", tf)
}

// perMinuteLimiter returns a limiter allowing perMinute requests per minute
// with a burst of one, or an unlimited limiter when perMinute <= 0.
func perMinuteLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}
