package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// createTestBars generates count consecutive bars starting at start.
func createTestBars(symbol string, tf models.Timeframe, count int, start time.Time) []models.Bar {
	bars := make([]models.Bar, count)
	ts := start.UTC()
	for i := 0; i < count; i++ {
		open := 100.0 + float64(i)
		bars[i] = models.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Timestamp: ts,
			Open:      open,
			High:      open + 2,
			Low:       open - 1,
			Close:     open + 1,
			Volume:    int64(1000 + i),
		}
		ts = tf.Next(ts)
	}
	return bars
}

// runStoreSuite exercises the Store contract shared by every backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	t.Run("upsert ignores duplicates", func(t *testing.T) {
		s := newStore(t)
		bars := createTestBars("SPY", models.Timeframe1Day, 3, day)

		n, err := s.Upsert(ctx, bars)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.Upsert(ctx, bars)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		changed := bars[0]
		changed.Close = 999
		changed.High = 1000
		n, err = s.Upsert(ctx, []models.Bar{changed})
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		got, err := s.Query(ctx, QueryRequest{Symbol: "SPY", Timeframe: models.Timeframe1Day, Order: OrderAsc})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, bars[0].Close, got[0].Close, "existing rows are never replaced")
	})

	t.Run("duplicates within one batch count once", func(t *testing.T) {
		s := newStore(t)
		bars := createTestBars("QQQ", models.Timeframe1Day, 2, day)
		bars = append(bars, bars[0])

		n, err := s.Upsert(ctx, bars)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("empty batch", func(t *testing.T) {
		s := newStore(t)
		n, err := s.Upsert(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("timeframes are isolated", func(t *testing.T) {
		s := newStore(t)
		open := time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)
		_, err := s.Upsert(ctx, createTestBars("SPY", models.Timeframe1Hour, 7, open))
		require.NoError(t, err)
		_, err = s.Upsert(ctx, createTestBars("SPY", models.Timeframe1Day, 1, day))
		require.NoError(t, err)

		hourly, err := s.Query(ctx, QueryRequest{Symbol: "SPY", Timeframe: models.Timeframe1Hour})
		require.NoError(t, err)
		assert.Len(t, hourly, 7)

		daily, err := s.Query(ctx, QueryRequest{Symbol: "SPY", Timeframe: models.Timeframe1Day})
		require.NoError(t, err)
		assert.Len(t, daily, 1)

		none, err := s.Query(ctx, QueryRequest{Symbol: "SPY", Timeframe: models.Timeframe5Min})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("query order bounds and limit", func(t *testing.T) {
		s := newStore(t)
		bars := createTestBars("spy", models.Timeframe1Day, 10, day)
		_, err := s.Upsert(ctx, bars)
		require.NoError(t, err)

		desc, err := s.Query(ctx, QueryRequest{Symbol: "SPY", Timeframe: models.Timeframe1Day, Limit: 3})
		require.NoError(t, err)
		require.Len(t, desc, 3)
		assert.True(t, desc[0].Timestamp.Equal(bars[9].Timestamp))
		assert.True(t, desc[2].Timestamp.Equal(bars[7].Timestamp))
		assert.Equal(t, "SPY", desc[0].Symbol)
		assert.Equal(t, models.Timeframe1Day, desc[0].Timeframe)

		ranged, err := s.Query(ctx, QueryRequest{
			Symbol:    "SPY",
			Timeframe: models.Timeframe1Day,
			Start:     bars[2].Timestamp,
			End:       bars[4].Timestamp,
			Order:     OrderAsc,
		})
		require.NoError(t, err)
		require.Len(t, ranged, 3)
		assert.True(t, ranged[0].Timestamp.Equal(bars[2].Timestamp))
		assert.True(t, ranged[2].Timestamp.Equal(bars[4].Timestamp))
	})

	t.Run("query validation", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Query(ctx, QueryRequest{Timeframe: models.Timeframe1Day})
		require.Error(t, err)
		assert.True(t, models.IsValidationError(err))

		_, err = s.Query(ctx, QueryRequest{Symbol: "SPY", Timeframe: "2d"})
		require.Error(t, err)
	})

	t.Run("invalid timeframe rejected on upsert", func(t *testing.T) {
		s := newStore(t)
		bars := createTestBars("SPY", models.Timeframe1Day, 1, day)
		bars[0].Timeframe = "weekly"
		_, err := s.Upsert(ctx, bars)
		require.Error(t, err)
	})

	t.Run("unobtainable ranges", func(t *testing.T) {
		s := newStore(t)
		r, err := models.NewUnobtainableRange("SPY", models.Timeframe1Day, day, day.AddDate(0, 0, 2), "all providers exhausted")
		require.NoError(t, err)

		require.NoError(t, s.RecordUnobtainable(ctx, *r))
		require.NoError(t, s.RecordUnobtainable(ctx, *r), "recording twice is not an error")

		got, err := s.ListUnobtainable(ctx, "SPY", models.Timeframe1Day, day.AddDate(0, 0, 1), day.AddDate(0, 0, 10))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Start.Equal(day))
		assert.Equal(t, "all providers exhausted", got[0].Reason)

		none, err := s.ListUnobtainable(ctx, "SPY", models.Timeframe1Day, day.AddDate(0, 0, 3), day.AddDate(0, 0, 10))
		require.NoError(t, err)
		assert.Empty(t, none)

		other, err := s.ListUnobtainable(ctx, "SPY", models.Timeframe1Hour, day, day.AddDate(0, 0, 10))
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("instruments", func(t *testing.T) {
		s := newStore(t)

		missing, err := s.GetInstrument(ctx, "SPY")
		require.NoError(t, err)
		assert.Nil(t, missing)

		inst, err := s.EnsureInstrument(ctx, "spy")
		require.NoError(t, err)
		require.NotNil(t, inst)
		assert.Equal(t, "SPY", inst.Symbol)
		assert.Nil(t, inst.Exchange)

		again, err := s.EnsureInstrument(ctx, "SPY")
		require.NoError(t, err)
		assert.Equal(t, "SPY", again.Symbol)

		require.NoError(t, s.SetExchange(ctx, "SPY", "NYSEARCA"))
		got, err := s.GetInstrument(ctx, "SPY")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "NYSEARCA", got.ExchangeOrEmpty())

		require.NoError(t, s.SetExchange(ctx, "AAPL", "NASDAQ"))
		created, err := s.GetInstrument(ctx, "AAPL")
		require.NoError(t, err)
		require.NotNil(t, created)
		assert.Equal(t, "NASDAQ", created.ExchangeOrEmpty())
	})

	t.Run("concurrent upserts", func(t *testing.T) {
		s := newStore(t)
		const workers = 8

		var wg sync.WaitGroup
		counts := make([]int, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				// every worker writes the same 5 bars plus 5 of its own
				shared := createTestBars("SPY", models.Timeframe1Day, 5, day)
				own := createTestBars(fmt.Sprintf("SYM%d", id), models.Timeframe1Day, 5, day)
				n, err := s.Upsert(ctx, append(shared, own...))
				assert.NoError(t, err)
				counts[id] = n
			}(i)
		}
		wg.Wait()

		total := 0
		for _, n := range counts {
			total += n
		}
		assert.Equal(t, 5+workers*5, total)
	})

	t.Run("health check", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.HealthCheck(ctx))
	})
}
