// Package collector keeps a watchlist of symbols current by re-running the
// acquisition engine on a timeframe-aligned schedule.
//
// Every (symbol, timeframe) pair is a job. A job first runs when the
// scheduler starts and afterwards at each boundary of its timeframe, when a
// new bar has just completed. Each run ensures the trailing lookback window,
// so bars that were missing because a provider lagged are picked up again
// on the next run.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johnayoung/go-ohlcv-ingest/internal/acquisition"
	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	"github.com/johnayoung/go-ohlcv-ingest/internal/logger"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// Ensurer is satisfied by *acquisition.Orchestrator.
type Ensurer interface {
	EnsureDetailed(ctx context.Context, req acquisition.Request) (*acquisition.Result, error)
}

// SchedulerConfig configures the scheduler behavior
type SchedulerConfig struct {
	Symbols           []string
	Timeframes        []models.Timeframe
	Lookback          time.Duration
	TickInterval      time.Duration
	MaxConcurrentJobs int
	JobTimeout        time.Duration

	// Settle is how long after a bar ends a job waits before expecting it,
	// so a provider that publishes late is not recorded as unobtainable.
	// Zero waits one step for intraday timeframes and not at all for daily
	// and monthly ones, whose boundaries fall hours after the close.
	Settle time.Duration
}

// DefaultSchedulerConfig returns a configuration with sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Timeframes:        []models.Timeframe{models.Timeframe1Day},
		Lookback:          7 * 24 * time.Hour,
		TickInterval:      time.Minute,
		MaxConcurrentJobs: 4,
		JobTimeout:        5 * time.Minute,
	}
}

// ConfigFromApp builds a SchedulerConfig from the [schedule] and
// [acquisition] sections.
func ConfigFromApp(sc config.ScheduleConfig, ac config.AcquisitionConfig) (SchedulerConfig, error) {
	cfg := DefaultSchedulerConfig()
	cfg.Symbols = sc.Symbols

	if len(sc.Timeframes) > 0 {
		cfg.Timeframes = cfg.Timeframes[:0]
		for _, token := range sc.Timeframes {
			tf, err := models.ParseTimeframe(token)
			if err != nil {
				return SchedulerConfig{}, err
			}
			cfg.Timeframes = append(cfg.Timeframes, tf)
		}
	}
	if d := sc.LookbackDuration(); d > 0 {
		cfg.Lookback = d
	}
	if d := sc.TickDuration(); d > 0 {
		cfg.TickInterval = d
	}
	if d, ok := sc.SettleDuration(); ok {
		cfg.Settle = d
	}
	if ac.MaxConcurrentKeys > 0 {
		cfg.MaxConcurrentJobs = ac.MaxConcurrentKeys
	}
	if d := ac.TimeoutDuration(); d > 0 {
		cfg.JobTimeout = d
	}
	return cfg, nil
}

// Job is one scheduled (symbol, timeframe) pair.
type Job struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Timeframe models.Timeframe `json:"timeframe"`

	mu       sync.RWMutex
	nextRun  time.Time
	lastRun  time.Time
	lastOK   bool
	lastErr  error
	runCount int64
}

// JobStatus is a point-in-time view of a Job.
type JobStatus struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Timeframe models.Timeframe `json:"timeframe"`
	NextRun   time.Time        `json:"next_run"`
	LastRun   time.Time        `json:"last_run,omitempty"`
	LastOK    bool             `json:"last_ok"`
	LastError string           `json:"last_error,omitempty"`
	Runs      int64            `json:"runs"`
}

// NextRun returns the next scheduled run time
func (j *Job) NextRun() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.nextRun
}

func (j *Job) setNextRun(t time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextRun = t
}

func (j *Job) finish(at time.Time, ok bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastRun = at
	j.lastOK = ok
	j.lastErr = err
	j.runCount++
}

// Status returns a snapshot of the job.
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := JobStatus{
		ID:        j.ID,
		Symbol:    j.Symbol,
		Timeframe: j.Timeframe,
		NextRun:   j.nextRun,
		LastRun:   j.lastRun,
		LastOK:    j.lastOK,
		Runs:      j.runCount,
	}
	if j.lastErr != nil {
		s.LastError = j.lastErr.Error()
	}
	return s
}

// SchedulerStats provides scheduler performance metrics
type SchedulerStats struct {
	TotalJobs      int       `json:"total_jobs"`
	RunningJobs    int       `json:"running_jobs"`
	CompletedJobs  int64     `json:"completed_jobs"`
	IncompleteJobs int64     `json:"incomplete_jobs"`
	FailedJobs     int64     `json:"failed_jobs"`
	LastRunTime    time.Time `json:"last_run_time"`
	NextRunTime    time.Time `json:"next_run_time"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	MemoryUsageMB  float64   `json:"memory_usage_mb"`
}

// Scheduler runs ensure jobs for a watchlist.
type Scheduler struct {
	config  SchedulerConfig
	ensurer Ensurer
	logger  *slog.Logger
	now     func() time.Time

	isRunning int32
	startTime time.Time

	jobs []*Job

	runningJobs    int32
	completedJobs  int64
	incompleteJobs int64
	failedJobs     int64
	lastRunTime    time.Time
	statsMu        sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler with one job per symbol and timeframe.
// Every job is due immediately.
func NewScheduler(cfg SchedulerConfig, ensurer Ensurer, log *slog.Logger) (*Scheduler, error) {
	if ensurer == nil {
		return nil, errors.New("scheduler requires an ensurer")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("scheduler requires at least one symbol")
	}
	defaults := DefaultSchedulerConfig()
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = defaults.Timeframes
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaults.Lookback
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = defaults.MaxConcurrentJobs
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaults.JobTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{
		config:  cfg,
		ensurer: ensurer,
		logger:  log,
		now:     time.Now,
	}
	for _, symbol := range cfg.Symbols {
		for _, tf := range cfg.Timeframes {
			s.jobs = append(s.jobs, &Job{
				ID:        fmt.Sprintf("%s|%s", symbol, tf),
				Symbol:    symbol,
				Timeframe: tf,
			})
		}
	}
	return s, nil
}

// Start launches the scheduling loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.isRunning, 0, 1) {
		return errors.New("scheduler is already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.startTime = s.now()

	s.logger.Info("scheduler started",
		"jobs", len(s.jobs),
		"lookback", s.config.Lookback,
		"tick_interval", s.config.TickInterval)

	go s.schedulingLoop(ctx)
	return nil
}

// Stop cancels running jobs and waits for the loop to exit or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.isRunning, 1, 0) {
		return nil
	}
	s.cancel()

	select {
	case <-s.done:
		s.logger.Info("scheduler stopped",
			"completed_jobs", atomic.LoadInt64(&s.completedJobs),
			"failed_jobs", atomic.LoadInt64(&s.failedJobs))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	return atomic.LoadInt32(&s.isRunning) == 1
}

// Done is closed when the scheduling loop exits.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) schedulingLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.RunDue(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunDue(ctx)
		case <-ctx.Done():
			s.logger.Debug("scheduling loop cancelled")
			return
		}
	}
}

// RunDue runs every job whose next run time has passed and waits for them.
// It returns the number of jobs run.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()

	var due []*Job
	for _, job := range s.jobs {
		if !job.NextRun().After(now) {
			due = append(due, job)
		}
	}
	if len(due) == 0 {
		return 0
	}

	s.statsMu.Lock()
	s.lastRunTime = now
	s.statsMu.Unlock()

	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrentJobs)
	for _, job := range due {
		g.Go(func() error {
			s.executeJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(due)
}

func (s *Scheduler) executeJob(ctx context.Context, job *Job) {
	atomic.AddInt32(&s.runningJobs, 1)
	defer atomic.AddInt32(&s.runningJobs, -1)

	now := s.now()
	req := acquisition.Request{
		Symbol:    job.Symbol,
		Timeframe: job.Timeframe.String(),
		Start:     now.Add(-s.config.Lookback),
		End:       now,
		AsOf:      now.Add(-s.settle(job.Timeframe)),
	}

	ctx = logger.WithOperation(ctx, "scheduled_ensure")
	ctx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	var result *acquisition.Result
	err := logger.TimedOperation(ctx, s.logger.With("job", job.ID), "scheduled_ensure", func() error {
		var err error
		result, err = s.ensurer.EnsureDetailed(ctx, req)
		return err
	})
	switch {
	case err != nil:
		atomic.AddInt64(&s.failedJobs, 1)
	case !result.OK:
		atomic.AddInt64(&s.incompleteJobs, 1)
		_, unobtainable, unresolved := result.Counts()
		s.logger.Warn("scheduled ensure incomplete",
			"job", job.ID,
			"unobtainable", unobtainable,
			"unresolved", unresolved)
	default:
		atomic.AddInt64(&s.completedJobs, 1)
		s.logger.Debug("scheduled ensure completed",
			"job", job.ID,
			"bars_stored", result.BarsStored)
	}

	job.finish(now, err == nil && result.OK, err)
	job.setNextRun(nextBoundary(now, job.Timeframe))
}

// settle returns the configured settle delay, or the default for tf.
func (s *Scheduler) settle(tf models.Timeframe) time.Duration {
	if s.config.Settle > 0 {
		return s.config.Settle
	}
	if tf.IsIntraday() {
		return tf.Step()
	}
	return 0
}

// Jobs returns the status of every job ordered by ID.
func (s *Scheduler) Jobs() []JobStatus {
	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Status())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Stats returns the current scheduler statistics
func (s *Scheduler) Stats() SchedulerStats {
	s.statsMu.RLock()
	lastRun := s.lastRunTime
	s.statsMu.RUnlock()

	var next time.Time
	for _, job := range s.jobs {
		if t := job.NextRun(); next.IsZero() || t.Before(next) {
			next = t
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var uptime int64
	if s.IsRunning() {
		uptime = int64(s.now().Sub(s.startTime).Seconds())
	}

	return SchedulerStats{
		TotalJobs:      len(s.jobs),
		RunningJobs:    int(atomic.LoadInt32(&s.runningJobs)),
		CompletedJobs:  atomic.LoadInt64(&s.completedJobs),
		IncompleteJobs: atomic.LoadInt64(&s.incompleteJobs),
		FailedJobs:     atomic.LoadInt64(&s.failedJobs),
		LastRunTime:    lastRun,
		NextRunTime:    next,
		UptimeSeconds:  uptime,
		MemoryUsageMB:  float64(mem.Alloc) / (1024 * 1024),
	}
}

// nextBoundary returns the first instant after current at which another bar
// of tf has completed: the next step boundary for intraday timeframes,
// midnight UTC for daily and the first of the next month for monthly.
func nextBoundary(current time.Time, tf models.Timeframe) time.Time {
	current = current.UTC()
	switch tf {
	case models.Timeframe1Day:
		return time.Date(current.Year(), current.Month(), current.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	case models.Timeframe1Month:
		return time.Date(current.Year(), current.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		step := tf.Step()
		return current.Truncate(step).Add(step)
	}
}
