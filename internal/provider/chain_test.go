package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-ingest/internal/errors"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// MockProvider is a testify mock implementing Provider.
type MockProvider struct {
	mock.Mock
	name string
}

func newMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Fetch(ctx context.Context, req FetchRequest) ([]models.Bar, error) {
	args := m.Called(ctx, req)
	bars, _ := args.Get(0).([]models.Bar)
	return bars, args.Error(1)
}

var (
	jan2 = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	jan3 = time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
)

func dailyRequest() FetchRequest {
	return FetchRequest{Symbol: "spy", Timeframe: models.Timeframe1Day, Start: jan2, End: jan3}
}

func rawBar(ts time.Time, price float64) models.Bar {
	return models.Bar{Timestamp: ts, Open: price, High: price + 2, Low: price - 2, Close: price + 1, Volume: 1000}
}

func TestChainFirstProviderWins(t *testing.T) {
	first := newMockProvider("first")
	second := newMockProvider("second")
	req := dailyRequest()

	first.On("Fetch", mock.Anything, req).Return([]models.Bar{rawBar(jan3, 590), rawBar(jan2, 585)}, nil).Once()

	chain := NewChain(nil, first, second)
	result, err := chain.Fetch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "first", result.Provider)
	require.Len(t, result.Bars, 2)
	assert.Equal(t, jan2, result.Bars[0].Timestamp)
	assert.Equal(t, "SPY", result.Bars[0].Symbol)
	assert.Equal(t, models.Timeframe1Day, result.Bars[0].Timeframe)
	require.Len(t, result.Attempts, 1)

	first.AssertExpectations(t)
	second.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestChainFallsBackOnEveryKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		bars []models.Bar
		kind Kind
	}{
		{"no data", nil, nil, KindNoData},
		{"unsupported", Unsupported("first", "timeframe"), nil, KindUnsupported},
		{"transient", &apperrors.StatusError{StatusCode: 503}, nil, KindTransient},
		{"fatal", &apperrors.StatusError{StatusCode: 401}, nil, KindFatal},
		{"only bars outside range", nil, []models.Bar{rawBar(jan3.AddDate(0, 0, 5), 600)}, KindNoData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := newMockProvider("first")
			second := newMockProvider("second")
			req := dailyRequest()

			first.On("Fetch", mock.Anything, req).Return(tt.bars, tt.err).Once()
			second.On("Fetch", mock.Anything, req).Return([]models.Bar{rawBar(jan2, 585)}, nil).Once()

			result, err := NewChain(nil, first, second).Fetch(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, "second", result.Provider)
			require.Len(t, result.Attempts, 2)
			assert.Equal(t, tt.kind, result.Attempts[0].Kind)
			first.AssertExpectations(t)
			second.AssertExpectations(t)
		})
	}
}

func TestChainExhausted(t *testing.T) {
	first := newMockProvider("yahoo")
	second := newMockProvider("alpaca")
	req := dailyRequest()

	first.On("Fetch", mock.Anything, req).Return(nil, nil).Once()
	second.On("Fetch", mock.Anything, req).Return(nil, errors.New("connection refused")).Once()

	result, err := NewChain(nil, first, second).Fetch(context.Background(), req)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, IsExhausted(err))

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, KindNoData, exhausted.Attempts[0].Kind)
	assert.Equal(t, KindTransient, exhausted.Attempts[1].Kind)
	assert.Contains(t, exhausted.Reason(), "yahoo: no_data")
	assert.Contains(t, exhausted.Reason(), "alpaca: transient (connection refused)")
}

func TestChainAllSkippedIsInconclusive(t *testing.T) {
	cfg := config.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: "1h", HalfOpenRequests: 1}
	req := dailyRequest()

	var wrapped []Provider
	for _, name := range []string{"yahoo", "alpaca"} {
		inner := newMockProvider(name)
		inner.On("Fetch", mock.Anything, req).Return(nil, &apperrors.StatusError{StatusCode: 503}).Once()
		p := WithCircuitBreaker(inner, cfg)
		_, err := p.Fetch(context.Background(), req)
		require.Error(t, err)
		wrapped = append(wrapped, p)
	}

	_, err := NewChain(nil, wrapped...).Fetch(context.Background(), req)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, KindSkipped, exhausted.Attempts[0].Kind)
	assert.Equal(t, KindSkipped, exhausted.Attempts[1].Kind)
	assert.False(t, exhausted.Conclusive())

	exhausted.Attempts[1].Kind = KindTransient
	assert.True(t, exhausted.Conclusive())
}

func TestChainDeadlineIsNotExhaustion(t *testing.T) {
	first := newMockProvider("slow")
	second := newMockProvider("never")
	req := dailyRequest()

	ctx, cancel := context.WithCancel(context.Background())
	first.On("Fetch", mock.Anything, req).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()

	_, err := NewChain(nil, first, second).Fetch(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsExhausted(err))
	second.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestChainCanceledBeforeStart(t *testing.T) {
	first := newMockProvider("first")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChain(nil, first).Fetch(ctx, dailyRequest())
	assert.ErrorIs(t, err, context.Canceled)
	first.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestChainNoProviders(t *testing.T) {
	_, err := NewChain(nil).Fetch(context.Background(), dailyRequest())
	assert.ErrorIs(t, err, ErrNoProviders)
	assert.False(t, IsExhausted(err))
}

func TestChainRejectsInvalidRequest(t *testing.T) {
	first := newMockProvider("first")
	req := dailyRequest()
	req.End = req.Start.AddDate(0, 0, -1)

	_, err := NewChain(nil, first).Fetch(context.Background(), req)
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
	first.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestChainNormalize(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	chain := NewChain(nil)
	req := dailyRequest()
	req.Location = ny

	// 14:30 UTC is the NYSE open; daily bars are keyed by the session date.
	open := time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)
	// midnight New York time reported in UTC
	midnightET := time.Date(2025, 1, 3, 5, 0, 0, 0, time.UTC)

	bad := rawBar(jan3, 590)
	bad.High = 1

	raw := []models.Bar{
		rawBar(midnightET, 590),
		rawBar(open, 585),
		rawBar(jan2, 999), // duplicate of the aligned open bar
		bad,
		rawBar(jan2.AddDate(0, 0, -1), 580),
	}

	bars := chain.normalize("test", req, raw)
	require.Len(t, bars, 2)
	assert.Equal(t, jan2, bars[0].Timestamp)
	assert.Equal(t, 585.0, bars[0].Open)
	assert.Equal(t, jan3, bars[1].Timestamp)
	assert.Equal(t, "SPY", bars[1].Symbol)
}

func TestChainNormalizeDropsBarsOutsideSession(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// hourly slots of Jan 2 2025 on the NYSE: 15:00Z through 20:00Z
	slots := make(map[time.Time]bool)
	for h := 15; h <= 20; h++ {
		slots[time.Date(2025, 1, 2, h, 0, 0, 0, time.UTC)] = true
	}

	req := FetchRequest{
		Symbol:    "SPY",
		Timeframe: models.Timeframe1Hour,
		Start:     time.Date(2025, 1, 2, 14, 0, 0, 0, time.UTC),
		End:       time.Date(2025, 1, 2, 20, 0, 0, 0, time.UTC),
		Location:  ny,
		InSession: func(ts time.Time) bool { return slots[ts] },
	}

	// 08:00 and 09:00 ET are pre-market buckets, 09:30 floors into 09:00
	raw := []models.Bar{
		rawBar(time.Date(2025, 1, 2, 13, 0, 0, 0, time.UTC), 580),
		rawBar(time.Date(2025, 1, 2, 14, 0, 0, 0, time.UTC), 583),
		rawBar(time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC), 585),
		rawBar(time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC), 586),
		rawBar(time.Date(2025, 1, 2, 20, 0, 0, 0, time.UTC), 590),
	}

	bars := NewChain(nil).normalize("alpaca", req, raw)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC), bars[0].Timestamp)
	assert.Equal(t, 586.0, bars[0].Open)
	assert.Equal(t, time.Date(2025, 1, 2, 20, 0, 0, 0, time.UTC), bars[1].Timestamp)

	delete(slots, time.Date(2025, 1, 2, 20, 0, 0, 0, time.UTC))
	bars = NewChain(nil).normalize("alpaca", req, raw)
	assert.Len(t, bars, 1)

	// without a session check every bar in range is kept
	req.InSession = nil
	bars = NewChain(nil).normalize("alpaca", req, raw)
	assert.Len(t, bars, 3)
}

func TestChainNames(t *testing.T) {
	chain := NewChain(nil, newMockProvider("a"), newMockProvider("b"))
	assert.Equal(t, []string{"a", "b"}, chain.Names())
	assert.Equal(t, 2, chain.Len())
}
