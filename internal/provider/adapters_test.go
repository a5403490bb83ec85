package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	polygonmodels "github.com/polygon-io/client-go/rest/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

type fakeChartIter struct {
	bars []*finance.ChartBar
	pos  int
	err  error
}

func (f *fakeChartIter) Next() bool {
	if f.pos >= len(f.bars) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeChartIter) Bar() *finance.ChartBar { return f.bars[f.pos-1] }
func (f *fakeChartIter) Err() error             { return f.err }

func TestYahooAdapterFetch(t *testing.T) {
	open := time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)

	var captured *chart.Params
	adapter := NewYahooAdapter(config.ProviderConfig{Name: config.ProviderYahoo}, nil)
	adapter.chart = func(p *chart.Params) chartIter {
		captured = p
		return &fakeChartIter{bars: []*finance.ChartBar{{
			Open:      decimal.RequireFromString("585.10"),
			High:      decimal.RequireFromString("590.20"),
			Low:       decimal.RequireFromString("581.40"),
			Close:     decimal.RequireFromString("589.00"),
			Volume:    51200000,
			Timestamp: int(open.Unix()),
		}}}
	}

	req := dailyRequest()
	req.Symbol = "brk.b"
	bars, err := adapter.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, bars, 1)

	assert.Equal(t, "BRK-B", captured.Symbol)
	assert.Equal(t, datetime.OneDay, captured.Interval)
	assert.Equal(t, open, bars[0].Timestamp)
	assert.InDelta(t, 585.10, bars[0].Open, 1e-9)
	assert.Equal(t, int64(51200000), bars[0].Volume)
}

func TestYahooAdapterError(t *testing.T) {
	adapter := NewYahooAdapter(config.ProviderConfig{Name: config.ProviderYahoo}, nil)
	adapter.chart = func(*chart.Params) chartIter {
		return &fakeChartIter{err: errors.New("remote-error: No data found, symbol may be delisted")}
	}

	_, err := adapter.Fetch(context.Background(), dailyRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPY")
}

func TestYahooInterval(t *testing.T) {
	for tf, want := range map[models.Timeframe]datetime.Interval{
		models.Timeframe5Min:   datetime.FiveMins,
		models.Timeframe15Min:  datetime.FifteenMins,
		models.Timeframe1Hour:  datetime.OneHour,
		models.Timeframe1Day:   datetime.OneDay,
		models.Timeframe1Month: datetime.OneMonth,
	} {
		got, err := yahooInterval(tf)
		require.NoError(t, err)
		assert.Equal(t, want, got, tf)
	}

	_, err := yahooInterval("2h")
	assert.Equal(t, KindUnsupported, KindOf(err))
}

type fakeAlpacaClient struct {
	symbol string
	req    marketdata.GetBarsRequest
	bars   []marketdata.Bar
	err    error
}

func (f *fakeAlpacaClient) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.symbol, f.req = symbol, req
	return f.bars, f.err
}

func TestAlpacaAdapterFetch(t *testing.T) {
	_, err := NewAlpacaAdapter(config.ProviderConfig{Name: config.ProviderAlpaca, APIKey: "key"}, nil)
	require.Error(t, err)

	adapter, err := NewAlpacaAdapter(config.ProviderConfig{
		Name:      config.ProviderAlpaca,
		APIKey:    "key",
		APISecret: "secret",
		Feed:      "iex",
	}, nil)
	require.NoError(t, err)

	ts := time.Date(2025, 1, 2, 5, 0, 0, 0, time.UTC)
	fake := &fakeAlpacaClient{bars: []marketdata.Bar{
		{Timestamp: ts, Open: 585.1, High: 590.2, Low: 581.4, Close: 589, Volume: 51200000},
	}}
	adapter.client = fake

	bars, err := adapter.Fetch(context.Background(), dailyRequest())
	require.NoError(t, err)
	require.Len(t, bars, 1)

	assert.Equal(t, "SPY", fake.symbol)
	assert.Equal(t, jan2, fake.req.Start)
	assert.Equal(t, jan3.AddDate(0, 0, 1), fake.req.End)
	assert.Equal(t, marketdata.NewTimeFrame(1, marketdata.Day), fake.req.TimeFrame)
	assert.Equal(t, ts, bars[0].Timestamp)
	assert.Equal(t, int64(51200000), bars[0].Volume)

	fake.err = errors.New("unauthorized")
	_, err = adapter.Fetch(context.Background(), dailyRequest())
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
}

func TestAlpacaTimeFrame(t *testing.T) {
	tf, err := alpacaTimeFrame(models.Timeframe15Min)
	require.NoError(t, err)
	assert.Equal(t, marketdata.NewTimeFrame(15, marketdata.Min), tf)

	tf, err = alpacaTimeFrame(models.Timeframe1Month)
	require.NoError(t, err)
	assert.Equal(t, marketdata.NewTimeFrame(1, marketdata.Month), tf)

	_, err = alpacaTimeFrame("1w")
	assert.Equal(t, KindUnsupported, KindOf(err))
}

func TestPolygonTimespan(t *testing.T) {
	tests := []struct {
		tf         models.Timeframe
		multiplier int
		span       polygonmodels.Timespan
	}{
		{models.Timeframe5Min, 5, polygonmodels.Minute},
		{models.Timeframe15Min, 15, polygonmodels.Minute},
		{models.Timeframe1Hour, 1, polygonmodels.Hour},
		{models.Timeframe1Day, 1, polygonmodels.Day},
		{models.Timeframe1Month, 1, polygonmodels.Month},
	}
	for _, tt := range tests {
		m, span, err := polygonTimespan(tt.tf)
		require.NoError(t, err)
		assert.Equal(t, tt.multiplier, m)
		assert.Equal(t, tt.span, span)
	}

	_, _, err := polygonTimespan("")
	assert.Equal(t, KindUnsupported, KindOf(err))
}

func TestPolygonAdapterRequiresKey(t *testing.T) {
	_, err := NewPolygonAdapter(config.ProviderConfig{Name: config.ProviderPolygon}, nil)
	require.Error(t, err)

	adapter, err := NewPolygonAdapter(config.ProviderConfig{Name: config.ProviderPolygon, APIKey: "k", RateLimit: 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, config.ProviderPolygon, adapter.Name())
}

func TestAggToBar(t *testing.T) {
	ts := time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)
	bar := aggToBar(polygonmodels.Agg{
		Open:      585.1,
		High:      590.2,
		Low:       581.4,
		Close:     589,
		Volume:    1234.0,
		Timestamp: polygonmodels.Millis(ts),
	})
	assert.Equal(t, ts, bar.Timestamp)
	assert.Equal(t, int64(1234), bar.Volume)
	assert.Equal(t, 589.0, bar.Close)
}

func TestPerMinuteLimiter(t *testing.T) {
	unlimited := perMinuteLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow())
	}

	limited := perMinuteLimiter(60)
	assert.True(t, limited.Allow())
	assert.False(t, limited.Allow())
}
