package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// chartIter is the part of *chart.Iter the adapter reads.
type chartIter interface {
	Next() bool
	Bar() *finance.ChartBar
	Err() error
}

// YahooAdapter reads bars from the Yahoo Finance chart API. It needs no
// credentials.
type YahooAdapter struct {
	timeout time.Duration
	logger  *slog.Logger
	chart   func(*chart.Params) chartIter
}

// NewYahooAdapter creates the Yahoo adapter.
func NewYahooAdapter(cfg config.ProviderConfig, logger *slog.Logger) *YahooAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &YahooAdapter{
		timeout: cfg.TimeoutDuration(),
		logger:  logger,
		chart: func(p *chart.Params) chartIter {
			return chart.Get(p)
		},
	}
}

// Name implements Provider.
func (y *YahooAdapter) Name() string { return config.ProviderYahoo }

// Fetch implements Provider.
func (y *YahooAdapter) Fetch(ctx context.Context, req FetchRequest) ([]models.Bar, error) {
	interval, err := yahooInterval(req.Timeframe)
	if err != nil {
		return nil, err
	}

	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	from, until := req.Window()
	params := &chart.Params{
		Symbol:   yahooSymbol(req.Symbol),
		Start:    datetime.New(&from),
		End:      datetime.New(&until),
		Interval: interval,
	}

	y.logger.Debug("fetching chart from yahoo",
		"symbol", params.Symbol,
		"interval", interval,
		"from", from,
		"until", until)

	return callWithContext(ctx, func() ([]models.Bar, error) {
		iter := y.chart(params)

		var bars []models.Bar
		for iter.Next() {
			b := iter.Bar()
			if b == nil {
				continue
			}
			bars = append(bars, models.Bar{
				Timestamp: time.Unix(int64(b.Timestamp), 0).UTC(),
				Open:      b.Open.InexactFloat64(),
				High:      b.High.InexactFloat64(),
				Low:       b.Low.InexactFloat64(),
				Close:     b.Close.InexactFloat64(),
				Volume:    int64(b.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("chart request for %s failed: %w", params.Symbol, err)
		}
		return bars, nil
	})
}

// yahooInterval maps a timeframe onto the chart API interval vocabulary.
func yahooInterval(tf models.Timeframe) (datetime.Interval, error) {
	switch tf {
	case models.Timeframe5Min:
		return datetime.FiveMins, nil
	case models.Timeframe15Min:
		return datetime.FifteenMins, nil
	case models.Timeframe1Hour:
		return datetime.OneHour, nil
	case models.Timeframe1Day:
		return datetime.OneDay, nil
	case models.Timeframe1Month:
		return datetime.OneMonth, nil
	}
	return "", Unsupported(config.ProviderYahoo, "timeframe %q", tf)
}

// yahooSymbol converts share-class notation (BRK.B) to Yahoo's (BRK-B).
func yahooSymbol(symbol string) string {
	return strings.ReplaceAll(models.NormalizeSymbol(symbol), ".", "-")
}
