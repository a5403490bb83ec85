package acquisition

import (
	"sync/atomic"
	"time"
)

// Metrics is a snapshot of orchestrator activity since construction.
type Metrics struct {
	Requests            int64         `json:"requests"`
	Rejected            int64         `json:"rejected"`
	GapsFound           int64         `json:"gaps_found"`
	GapsResolved        int64         `json:"gaps_resolved"`
	GapsUnobtainable    int64         `json:"gaps_unobtainable"`
	GapsAbandoned       int64         `json:"gaps_abandoned"`
	ProviderAttempts    int64         `json:"provider_attempts"`
	BarsStored          int64         `json:"bars_stored"`
	PersistenceFailures int64         `json:"persistence_failures"`
	SuccessRate         float64       `json:"success_rate"`
	AvgDuration         time.Duration `json:"avg_duration"`
	InFlightKeys        int           `json:"in_flight_keys"`
	Uptime              time.Duration `json:"uptime"`
}

// metricsCollector tracks acquisition statistics with atomic counters.
type metricsCollector struct {
	requests            int64
	rejected            int64
	succeeded           int64
	gapsFound           int64
	gapsResolved        int64
	gapsUnobtainable    int64
	gapsAbandoned       int64
	providerAttempts    int64
	barsStored          int64
	persistenceFailures int64

	totalDuration int64 // nanoseconds
	durationCount int64

	startTime time.Time
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{startTime: time.Now()}
}

func (m *metricsCollector) recordRejected() {
	atomic.AddInt64(&m.rejected, 1)
}

// recordRequest records a completed EnsureData call.
func (m *metricsCollector) recordRequest(ok bool, gaps int, duration time.Duration) {
	atomic.AddInt64(&m.requests, 1)
	if ok {
		atomic.AddInt64(&m.succeeded, 1)
	}
	atomic.AddInt64(&m.gapsFound, int64(gaps))
	atomic.AddInt64(&m.totalDuration, duration.Nanoseconds())
	atomic.AddInt64(&m.durationCount, 1)
}

func (m *metricsCollector) recordAttempts(n int) {
	atomic.AddInt64(&m.providerAttempts, int64(n))
}

func (m *metricsCollector) recordResolved(stored int) {
	atomic.AddInt64(&m.gapsResolved, 1)
	atomic.AddInt64(&m.barsStored, int64(stored))
}

func (m *metricsCollector) recordUnobtainable() {
	atomic.AddInt64(&m.gapsUnobtainable, 1)
}

func (m *metricsCollector) recordAbandoned(persistence bool) {
	atomic.AddInt64(&m.gapsAbandoned, 1)
	if persistence {
		atomic.AddInt64(&m.persistenceFailures, 1)
	}
}

func (m *metricsCollector) snapshot() Metrics {
	requests := atomic.LoadInt64(&m.requests)
	succeeded := atomic.LoadInt64(&m.succeeded)
	totalDuration := atomic.LoadInt64(&m.totalDuration)
	durationCount := atomic.LoadInt64(&m.durationCount)

	var successRate float64
	if requests > 0 {
		successRate = float64(succeeded) / float64(requests)
	}

	var avg time.Duration
	if durationCount > 0 {
		avg = time.Duration(totalDuration / durationCount)
	}

	return Metrics{
		Requests:            requests,
		Rejected:            atomic.LoadInt64(&m.rejected),
		GapsFound:           atomic.LoadInt64(&m.gapsFound),
		GapsResolved:        atomic.LoadInt64(&m.gapsResolved),
		GapsUnobtainable:    atomic.LoadInt64(&m.gapsUnobtainable),
		GapsAbandoned:       atomic.LoadInt64(&m.gapsAbandoned),
		ProviderAttempts:    atomic.LoadInt64(&m.providerAttempts),
		BarsStored:          atomic.LoadInt64(&m.barsStored),
		PersistenceFailures: atomic.LoadInt64(&m.persistenceFailures),
		SuccessRate:         successRate,
		AvgDuration:         avg,
		Uptime:              time.Since(m.startTime),
	}
}
