// Package metrics serves health and activity metrics for long-running
// processes over HTTP.
//
// Components register a health checker or a snapshot source by name. The
// server exposes:
//
//	/health         200 when every checker passes, 503 otherwise
//	/metrics        the latest value of every source, keyed by name
//	/debug/metrics  sources plus Go runtime statistics
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
)

// HealthChecker is implemented by storage.Store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Source returns a JSON-encodable snapshot, such as acquisition.Metrics.
type Source func() any

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is everything the server knows at one point in time.
type Snapshot struct {
	Timestamp    time.Time      `json:"timestamp"`
	Uptime       time.Duration  `json:"uptime"`
	Sources      map[string]any `json:"sources"`
	System       SystemMetrics  `json:"system"`
	RequestCount int64          `json:"request_count"`
	ErrorCount   int64          `json:"error_count"`
}

// SystemMetrics represents system-level metrics
type SystemMetrics struct {
	GoroutineCount int    `json:"goroutine_count"`
	GCPauseNs      uint64 `json:"gc_pause_ns"`
	NumGC          uint32 `json:"num_gc"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	HeapSys        uint64 `json:"heap_sys"`
	HeapInuse      uint64 `json:"heap_inuse"`
	StackInuse     uint64 `json:"stack_inuse"`
}

// Server is the metrics HTTP endpoint.
type Server struct {
	config    config.MetricsConfig
	logger    *slog.Logger
	startTime time.Time

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	sources  map[string]Source

	server   *http.Server
	listener net.Listener

	requestCount int64
	errorCount   int64
}

// NewServer creates a metrics server. Nothing listens until Start.
func NewServer(cfg config.MetricsConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
		checkers:  make(map[string]HealthChecker),
		sources:   make(map[string]Source),
	}
}

// RegisterHealthChecker adds a named dependency to /health.
func (s *Server) RegisterHealthChecker(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// RegisterSource adds a named snapshot to /metrics.
func (s *Server) RegisterSource(name string, source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = source
}

// Handler returns the HTTP routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /debug/metrics", s.handleDebugMetrics)
	return s.count(mux)
}

// Start binds the configured address and serves in the background. A
// disabled server does nothing.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Debug("metrics server disabled")
		return nil
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("metrics server starting", "addr", listener.Addr().String())
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	s.logger.Info("metrics server stopped")
	return nil
}

// Check runs every registered health checker.
func (s *Server) Check(ctx context.Context) (map[string]HealthStatus, bool) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checkers))
	for name := range s.checkers {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	healthy := true
	out := make(map[string]HealthStatus, len(names))
	for _, name := range names {
		s.mu.RLock()
		checker := s.checkers[name]
		s.mu.RUnlock()

		start := time.Now()
		err := checker.HealthCheck(ctx)
		status := HealthStatus{Status: "healthy", Duration: time.Since(start)}
		if err != nil {
			healthy = false
			status.Status = "unhealthy"
			status.Error = err.Error()
		}
		out[name] = status
	}
	return out, healthy
}

// GetSnapshot evaluates every source.
func (s *Server) GetSnapshot() Snapshot {
	s.mu.RLock()
	sources := make(map[string]any, len(s.sources))
	for name, source := range s.sources {
		sources[name] = source()
	}
	s.mu.RUnlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Snapshot{
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime),
		Sources:   sources,
		System: SystemMetrics{
			GoroutineCount: runtime.NumGoroutine(),
			GCPauseNs:      m.PauseTotalNs,
			NumGC:          m.NumGC,
			HeapAlloc:      m.HeapAlloc,
			HeapSys:        m.HeapSys,
			HeapInuse:      m.HeapInuse,
			StackInuse:     m.StackInuse,
		},
		RequestCount: atomic.LoadInt64(&s.requestCount),
		ErrorCount:   atomic.LoadInt64(&s.errorCount),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks, healthy := s.Check(r.Context())

	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(s.startTime).String(),
		"checks":    checks,
	}
	code := http.StatusOK
	if !healthy {
		body["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, body)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.GetSnapshot().Sources)
}

func (s *Server) handleDebugMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.GetSnapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode metrics response", "error", err)
	}
}

// count tallies requests and non-2xx responses.
func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= 300 {
			atomic.AddInt64(&s.errorCount, 1)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
