package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-ingest/internal/errors"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"fetch error keeps kind", NoData("x"), KindNoData},
		{"wrapped fetch error", fmt.Errorf("outer: %w", Unsupported("x", "5min")), KindUnsupported},
		{"rate limited", &apperrors.StatusError{StatusCode: 429}, KindTransient},
		{"server error", &apperrors.StatusError{StatusCode: 500}, KindTransient},
		{"timeout", context.DeadlineExceeded, KindTransient},
		{"network", errors.New("dial tcp: no such host"), KindTransient},
		{"unknown", errors.New("something odd"), KindTransient},
		{"auth", &apperrors.StatusError{StatusCode: 403}, KindFatal},
		{"bad request", &apperrors.StatusError{StatusCode: 400}, KindFatal},
		{"malformed", errors.New("failed to parse prices response: unexpected token"), KindFatal},
		{"validation", &models.ValidationError{Field: "symbol", Message: "required"}, KindFatal},
		{"circuit open", &apperrors.ClassifiedError{Err: errors.New("open"), Type: apperrors.ErrorTypeCircuitOpen, Retryable: true}, KindSkipped},
		{"marked retryable", &apperrors.ClassifiedError{Err: errors.New("failed to parse"), Type: apperrors.ErrorTypeTemporary, Retryable: true}, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := Classify("p", tt.err)
			require.NotNil(t, fe)
			assert.Equal(t, tt.want, fe.Kind)
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}

	assert.Nil(t, Classify("p", nil))
}

func TestClassifyFillsProvider(t *testing.T) {
	fe := Classify("yahoo", &FetchError{Kind: KindNoData, Err: ErrNoData})
	assert.Equal(t, "yahoo", fe.Provider)
	assert.ErrorIs(t, fe, ErrNoData)
	assert.Equal(t, "yahoo: no_data: no data returned", fe.Error())
}

func TestFetchRequestWindow(t *testing.T) {
	tests := []struct {
		name      string
		tf        models.Timeframe
		start     time.Time
		end       time.Time
		wantUntil time.Time
	}{
		{
			name:      "daily adds one day",
			tf:        models.Timeframe1Day,
			start:     time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			end:       time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
			wantUntil: time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly adds one calendar month",
			tf:        models.Timeframe1Month,
			start:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			end:       time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			wantUntil: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "hourly adds one bar",
			tf:        models.Timeframe1Hour,
			start:     time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC),
			end:       time.Date(2025, 1, 2, 20, 30, 0, 0, time.UTC),
			wantUntil: time.Date(2025, 1, 2, 21, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := FetchRequest{Symbol: "SPY", Timeframe: tt.tf, Start: tt.start, End: tt.end}
			from, until := req.Window()
			assert.Equal(t, tt.start, from)
			assert.Equal(t, tt.wantUntil, until)
		})
	}
}

func TestFetchRequestValidate(t *testing.T) {
	valid := dailyRequest()
	require.NoError(t, valid.Validate())

	noSymbol := valid
	noSymbol.Symbol = "  "
	assert.True(t, models.IsValidationError(noSymbol.Validate()))

	badTF := valid
	badTF.Timeframe = "2h"
	assert.True(t, models.IsValidationError(badTF.Validate()))

	noStart := valid
	noStart.Start = time.Time{}
	assert.True(t, models.IsValidationError(noStart.Validate()))
}

func TestCallWithContext(t *testing.T) {
	t.Run("returns result", func(t *testing.T) {
		v, err := callWithContext(context.Background(), func() (int, error) { return 7, nil })
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("abandons on context end", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		release := make(chan struct{})
		defer close(release)

		v, err := callWithContext(ctx, func() ([]models.Bar, error) {
			<-release
			return []models.Bar{{}}, nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Nil(t, v)
	})
}

func TestCircuitBreakerProvider(t *testing.T) {
	inner := newMockProvider("polygon")
	req := dailyRequest()
	p := WithCircuitBreaker(inner, config.CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  "1h",
		HalfOpenRequests: 1,
	})
	assert.Equal(t, "polygon", p.Name())

	// NoData is not a failure
	inner.On("Fetch", mock.Anything, req).Return(nil, nil).Once()
	_, err := p.Fetch(context.Background(), req)
	require.NoError(t, err)

	serverErr := &apperrors.StatusError{StatusCode: 502}
	inner.On("Fetch", mock.Anything, req).Return(nil, serverErr).Twice()
	for i := 0; i < 2; i++ {
		_, err = p.Fetch(context.Background(), req)
		assert.ErrorIs(t, err, serverErr)
	}

	state, ok := State(p)
	require.True(t, ok)
	assert.Equal(t, apperrors.CircuitOpen, state)

	// open circuit fails fast without calling the provider
	_, err = p.Fetch(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, KindSkipped, KindOf(err))
	assert.Equal(t, apperrors.ErrorTypeCircuitOpen, apperrors.GetErrorType(err))
	inner.AssertNumberOfCalls(t, "Fetch", 3)

	_, wrapped := State(inner)
	assert.False(t, wrapped)
}
