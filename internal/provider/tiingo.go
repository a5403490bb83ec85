package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-ingest/internal/errors"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

const (
	tiingoBaseURL = "https://api.tiingo.com"

	tiingoDailyEndpoint = "/tiingo/daily/%s/prices"
	tiingoIEXEndpoint   = "/iex/%s/prices"

	tiingoDateLayout = "2006-01-02"
)

// TiingoAdapter reads end-of-day prices and IEX intraday prices from Tiingo.
type TiingoAdapter struct {
	client  *resty.Client
	limiter *rate.Limiter
	retrier *apperrors.ErrorClassifier
	logger  *slog.Logger
}

type tiingoPrice struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// NewTiingoAdapter creates the Tiingo adapter. An API token is required.
// Requests are rate limited per minute and retried with the retrier's policy
// for the "tiingo" component; a nil retrier makes a single attempt.
func NewTiingoAdapter(cfg config.ProviderConfig, retrier *apperrors.ErrorClassifier, logger *slog.Logger) (*TiingoAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tiingo: api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = tiingoBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Token "+cfg.APIKey)
	if timeout := cfg.TimeoutDuration(); timeout > 0 {
		client.SetTimeout(timeout)
	}

	return &TiingoAdapter{
		client:  client,
		limiter: perMinuteLimiter(cfg.RateLimit),
		retrier: retrier,
		logger:  logger,
	}, nil
}

// Name implements Provider.
func (t *TiingoAdapter) Name() string { return config.ProviderTiingo }

// Fetch implements Provider.
func (t *TiingoAdapter) Fetch(ctx context.Context, req FetchRequest) ([]models.Bar, error) {
	endpoint, freq, err := tiingoResample(req.Timeframe)
	if err != nil {
		return nil, err
	}

	symbol := models.NormalizeSymbol(req.Symbol)
	path := fmt.Sprintf(endpoint, symbol)
	params := map[string]string{
		"startDate":    req.Start.UTC().Format(tiingoDateLayout),
		"endDate":      req.End.UTC().Format(tiingoDateLayout),
		"resampleFreq": freq,
		"format":       "json",
	}
	if req.Timeframe.IsIntraday() {
		params["columns"] = "open,high,low,close,volume"
	}

	t.logger.Debug("fetching prices from tiingo",
		"symbol", symbol,
		"path", path,
		"resample", freq,
		"start_date", params["startDate"],
		"end_date", params["endDate"])

	var prices []tiingoPrice
	call := func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}

		resp, err := t.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get(path)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode() == http.StatusNotFound {
			return Unsupported(t.Name(), "unknown ticker %s", symbol)
		}
		if resp.IsError() {
			return &apperrors.StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
		}

		if err := json.Unmarshal(resp.Body(), &prices); err != nil {
			return fmt.Errorf("failed to parse prices response: %w", err)
		}
		return nil
	}

	if t.retrier != nil {
		err = t.retrier.Retry(ctx, t.Name(), "fetch", call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	bars := make([]models.Bar, 0, len(prices))
	for _, p := range prices {
		bars = append(bars, models.Bar{
			Timestamp: p.Date.UTC(),
			Open:      p.Open,
			High:      p.High,
			Low:       p.Low,
			Close:     p.Close,
			Volume:    int64(p.Volume),
		})
	}
	return bars, nil
}

// tiingoResample picks the endpoint and resample frequency for a timeframe.
func tiingoResample(tf models.Timeframe) (string, string, error) {
	switch tf {
	case models.Timeframe5Min:
		return tiingoIEXEndpoint, "5min", nil
	case models.Timeframe15Min:
		return tiingoIEXEndpoint, "15min", nil
	case models.Timeframe1Hour:
		return tiingoIEXEndpoint, "1hour", nil
	case models.Timeframe1Day:
		return tiingoDailyEndpoint, "daily", nil
	case models.Timeframe1Month:
		return tiingoDailyEndpoint, "monthly", nil
	}
	return "", "", Unsupported(config.ProviderTiingo, "timeframe %q", tf)
}
