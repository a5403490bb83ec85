package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
)

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newTestServer(cfg config.MetricsConfig) *Server {
	return NewServer(cfg, slog.New(slog.DiscardHandler))
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	store := new(MockHealthChecker)
	store.On("HealthCheck", mock.Anything).Return(nil).Once()
	store.On("HealthCheck", mock.Anything).Return(errors.New("database is closed")).Once()

	s := newTestServer(config.MetricsConfig{})
	s.RegisterHealthChecker("storage", store)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var body map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &body))
	assert.Equal(t, "healthy", body["status"])

	body = nil
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/health", &body))
	assert.Equal(t, "unhealthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "database is closed", checks["storage"].(map[string]any)["error"])

	store.AssertExpectations(t)
	assert.Equal(t, int64(2), s.GetSnapshot().RequestCount)
	assert.Equal(t, int64(1), s.GetSnapshot().ErrorCount)
}

func TestMetricsEndpoint(t *testing.T) {
	calls := 0
	s := newTestServer(config.MetricsConfig{})
	s.RegisterSource("acquisition", func() any {
		calls++
		return map[string]int{"requests": calls}
	})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var body map[string]map[string]int
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/metrics", &body))
	assert.Equal(t, 1, body["acquisition"]["requests"])

	var snapshot Snapshot
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/debug/metrics", &snapshot))
	assert.Positive(t, snapshot.System.GoroutineCount)
	assert.Contains(t, snapshot.Sources, "acquisition")

	resp, err := http.Post(ts.URL+"/metrics", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerLifecycle(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(config.MetricsConfig{Enabled: false, Address: "127.0.0.1:0"})
		require.NoError(t, s.Start(context.Background()))
		assert.Empty(t, s.Addr())
		assert.NoError(t, s.Stop(context.Background()))
	})

	t.Run("enabled", func(t *testing.T) {
		s := newTestServer(config.MetricsConfig{Enabled: true, Address: "127.0.0.1:0"})
		require.NoError(t, s.Start(context.Background()))
		require.NotEmpty(t, s.Addr())

		var body map[string]any
		assert.Equal(t, http.StatusOK, getJSON(t, "http://"+s.Addr()+"/health", &body))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))

		_, err := http.Get("http://" + s.Addr() + "/health")
		assert.Error(t, err)
	})

	t.Run("bad address", func(t *testing.T) {
		s := newTestServer(config.MetricsConfig{Enabled: true, Address: "not-an-address"})
		assert.Error(t, s.Start(context.Background()))
	})
}
