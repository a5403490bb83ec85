// Package acquisition drives on-demand gap filling: it plans what is missing
// for a (symbol, timeframe, date range), resolves each gap through the
// provider chain, persists what it gets and records what nobody could supply.
//
// At most one acquisition runs per (symbol, timeframe) key at a time. A
// caller that waits for the key re-plans after it gets it, so it never asks
// a provider for bars the previous holder already stored or gave up on.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johnayoung/go-ohlcv-ingest/internal/calendar"
	"github.com/johnayoung/go-ohlcv-ingest/internal/config"
	"github.com/johnayoung/go-ohlcv-ingest/internal/gaps"
	"github.com/johnayoung/go-ohlcv-ingest/internal/logger"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
	"github.com/johnayoung/go-ohlcv-ingest/internal/provider"
	"github.com/johnayoung/go-ohlcv-ingest/internal/storage"
)

const (
	// DefaultLimit is used by QueryBars when the request has no limit.
	DefaultLimit = 100

	// MaxLimit caps the number of bars QueryBars returns.
	MaxLimit = 200

	// DefaultTimeout bounds a single EnsureData call.
	DefaultTimeout = 2 * time.Minute

	// DefaultMaxConcurrentKeys bounds EnsureBatch parallelism.
	DefaultMaxConcurrentKeys = 4
)

// Fetcher resolves one gap. *provider.Chain implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req provider.FetchRequest) (*provider.ChainResult, error)
}

// Config tunes the orchestrator.
type Config struct {
	// Timeout is applied on top of the caller's context. Zero disables it.
	Timeout time.Duration

	// UnobtainableTTL ignores unobtainable ranges older than this. Zero keeps
	// them forever.
	UnobtainableTTL time.Duration

	MaxConcurrentKeys int
	DefaultLimit      int
	MaxLimit          int
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		MaxConcurrentKeys: DefaultMaxConcurrentKeys,
		DefaultLimit:      DefaultLimit,
		MaxLimit:          MaxLimit,
	}
}

// ConfigFromApp converts the acquisition section of the application config.
func ConfigFromApp(c config.AcquisitionConfig) Config {
	cfg := DefaultConfig()
	if c.Timeout != "" {
		cfg.Timeout = c.TimeoutDuration()
	}
	cfg.UnobtainableTTL = c.TTL()
	if c.MaxConcurrentKeys > 0 {
		cfg.MaxConcurrentKeys = c.MaxConcurrentKeys
	}
	if c.DefaultLimit > 0 {
		cfg.DefaultLimit = c.DefaultLimit
	}
	if c.MaxLimit > 0 {
		cfg.MaxLimit = c.MaxLimit
	}
	return cfg
}

// Request names a symbol, a timeframe token and an inclusive date range.
// Only the dates of Start and End are used.
type Request struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	End       time.Time
	Limit     int

	// AsOf, when set and earlier than now, is the instant a bar must have
	// ended by to be expected. Later bars are left to a future call.
	AsOf time.Time
}

// String implements fmt.Stringer.
func (r Request) String() string {
	return fmt.Sprintf("%s %s %s..%s", r.Symbol, r.Timeframe,
		r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

// Result describes one EnsureDetailed call.
type Result struct {
	TraceID             string             `json:"trace_id"`
	Symbol              string             `json:"symbol"`
	Timeframe           models.Timeframe   `json:"timeframe"`
	Start               time.Time          `json:"start"`
	End                 time.Time          `json:"end"`
	Exchange            string             `json:"exchange,omitempty"`
	Expected            int                `json:"expected"`
	Stored              int                `json:"stored"`
	Missing             int                `json:"missing"`
	CalendarUnavailable bool               `json:"calendar_unavailable"`
	Gaps                []*models.GapRange `json:"gaps"`
	BarsStored          int                `json:"bars_stored"`
	OK                  bool               `json:"ok"`
	Duration            time.Duration      `json:"duration"`
}

// Counts tallies gap outcomes.
func (r *Result) Counts() (resolved, unobtainable, unresolved int) {
	for _, g := range r.Gaps {
		switch g.State {
		case models.GapResolved:
			resolved++
		case models.GapUnobtainable:
			unobtainable++
		default:
			unresolved++
		}
	}
	return resolved, unobtainable, unresolved
}

// Orchestrator is the acquisition engine.
type Orchestrator struct {
	store   storage.Store
	oracle  calendar.Oracle
	chain   Fetcher
	planner *gaps.Planner
	locks   *keyLocks
	metrics *metricsCollector
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrchestrator wires the engine together.
func NewOrchestrator(store storage.Store, oracle calendar.Oracle, chain Fetcher, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = MaxLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if cfg.MaxConcurrentKeys <= 0 {
		cfg.MaxConcurrentKeys = DefaultMaxConcurrentKeys
	}

	return &Orchestrator{
		store:   store,
		oracle:  oracle,
		chain:   chain,
		planner: gaps.NewPlanner(oracle, store, cfg.UnobtainableTTL, log),
		locks:   newKeyLocks(),
		metrics: newMetricsCollector(),
		cfg:     cfg,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Metrics returns a snapshot of counters.
func (o *Orchestrator) Metrics() Metrics {
	m := o.metrics.snapshot()
	m.InFlightKeys = o.locks.inFlight()
	return m
}

// EnsureData makes the store complete for req as far as providers allow.
// It reports true iff every gap found was resolved. The error is reserved
// for invalid requests and failures before acquisition starts; a deadline
// hit while resolving gaps yields false with a nil error.
func (o *Orchestrator) EnsureData(ctx context.Context, req Request) (bool, error) {
	res, err := o.EnsureDetailed(ctx, req)
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

// EnsureDetailed is EnsureData returning per-gap outcomes.
func (o *Orchestrator) EnsureDetailed(ctx context.Context, req Request) (*Result, error) {
	began := time.Now()

	n, err := o.normalize(req, true)
	if err != nil {
		o.metrics.recordRejected()
		return nil, err
	}

	traceID := logger.GetTraceID(ctx)
	if traceID == "" {
		traceID = logger.NewTraceID()
		ctx = logger.WithTraceID(ctx, traceID)
	}
	ctx = logger.WithOperation(ctx, "ensure_data")
	ctx = logger.WithSymbol(ctx, n.symbol)
	ctx = logger.WithTimeframe(ctx, n.tf.String())
	log := logger.With(ctx, o.logger)

	result := &Result{
		TraceID:   traceID,
		Symbol:    n.symbol,
		Timeframe: n.tf,
		Start:     n.start,
		End:       n.end,
	}

	// the whole range lies after today
	if n.end.Before(n.start) {
		result.OK = true
		return result, nil
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	inst, err := o.store.EnsureInstrument(ctx, n.symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load instrument %s: %w", n.symbol, err)
	}
	result.Exchange = inst.ExchangeOrEmpty()

	key := n.symbol + "|" + n.tf.String()
	release, err := o.locks.acquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for in-flight acquisition of %s: %w", key, err)
	}
	defer release()

	asOf := o.now()
	if !req.AsOf.IsZero() && req.AsOf.Before(asOf) {
		asOf = req.AsOf.UTC()
	}
	plan, err := o.planner.Plan(ctx, gaps.PlanRequest{
		Symbol:    n.symbol,
		Exchange:  result.Exchange,
		Timeframe: n.tf,
		Start:     n.start,
		End:       n.end,
		Now:       asOf,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to plan acquisition: %w", err)
	}
	result.Expected = plan.Expected
	result.Stored = plan.Stored
	result.Missing = len(plan.Missing)
	result.CalendarUnavailable = plan.CalendarUnavailable
	result.Gaps = plan.Gaps

	if len(plan.Gaps) > 0 {
		log.Info("resolving gaps",
			"exchange", result.Exchange,
			"expected", plan.Expected,
			"stored", plan.Stored,
			"missing", len(plan.Missing),
			"gaps", len(plan.Gaps),
			"calendar_unavailable", plan.CalendarUnavailable)
	}

	loc := o.oracle.Location(result.Exchange)
	var inSession func(time.Time) bool
	if n.tf.IsIntraday() && plan.Slots != nil {
		inSession = plan.Slots.Contains
	}
	for _, gap := range plan.Gaps {
		result.BarsStored += o.resolve(ctx, gap, loc, inSession)
	}

	resolved, unobtainable, unresolved := result.Counts()
	result.OK = unobtainable == 0 && unresolved == 0
	result.Duration = time.Since(began)
	o.metrics.recordRequest(result.OK, len(plan.Gaps), result.Duration)

	log.Info("ensure data completed",
		"ok", result.OK,
		"gaps", len(plan.Gaps),
		"resolved", resolved,
		"unobtainable", unobtainable,
		"unresolved", unresolved,
		"bars_stored", result.BarsStored,
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}

// resolve drives one gap through its state machine and returns the number
// of new rows stored.
func (o *Orchestrator) resolve(ctx context.Context, gap *models.GapRange, loc *time.Location, inSession func(time.Time) bool) int {
	ctx = logger.WithGapID(ctx, gap.ID)
	log := logger.With(ctx, o.logger).With(
		"gap_start", gap.Start,
		"gap_end", gap.End,
		"expected", gap.Expected)

	// deadline already passed: leave the gap unresolved without touching providers
	if err := ctx.Err(); err != nil {
		gap.LastError = err.Error()
		o.metrics.recordAbandoned(false)
		log.Warn("gap skipped, deadline reached", "error", err)
		return 0
	}

	if err := gap.Begin(); err != nil {
		log.Error("cannot begin gap", "error", err)
		return 0
	}

	res, err := o.chain.Fetch(ctx, provider.FetchRequest{
		Symbol:    gap.Symbol,
		Timeframe: gap.Timeframe,
		Start:     gap.Start,
		End:       gap.End,
		Location:  loc,
		InSession: inSession,
	})

	var exhausted *provider.ExhaustedError
	switch {
	case err == nil:
		o.metrics.recordAttempts(len(res.Attempts))
		stored, err := o.store.Upsert(ctx, res.Bars)
		if err != nil {
			_ = gap.Abandon(fmt.Sprintf("persistence failure: %v", err))
			o.metrics.recordAbandoned(true)
			log.Error("failed to persist bars, gap left unresolved",
				"provider", res.Provider,
				"bars", len(res.Bars),
				"error", err)
			return 0
		}
		_ = gap.Resolve(res.Provider, stored)
		o.metrics.recordResolved(stored)
		log.Info("gap resolved",
			"provider", res.Provider,
			"bars", len(res.Bars),
			"stored", stored,
			"attempts", len(res.Attempts))
		return stored

	case errors.As(err, &exhausted) && !exhausted.Conclusive():
		o.metrics.recordAttempts(len(exhausted.Attempts))
		_ = gap.Abandon(exhausted.Reason())
		o.metrics.recordAbandoned(false)
		log.Warn("gap left unresolved, every provider was skipped", "reason", exhausted.Reason())
		return 0

	case exhausted != nil:
		o.metrics.recordAttempts(len(exhausted.Attempts))
		reason := exhausted.Reason()
		if rerr := o.recordUnobtainable(ctx, gap, reason); rerr != nil {
			_ = gap.Abandon(fmt.Sprintf("persistence failure: %v", rerr))
			o.metrics.recordAbandoned(true)
			log.Error("failed to record unobtainable range, gap left unresolved",
				"reason", reason,
				"error", rerr)
			return 0
		}
		_ = gap.MarkUnobtainable(reason)
		o.metrics.recordUnobtainable()
		log.Warn("gap unobtainable", "reason", reason)
		return 0

	default:
		_ = gap.Abandon(err.Error())
		o.metrics.recordAbandoned(false)
		if ctx.Err() != nil {
			log.Warn("gap left unresolved, deadline reached", "error", err)
		} else {
			log.Error("gap left unresolved", "error", err)
		}
		return 0
	}
}

func (o *Orchestrator) recordUnobtainable(ctx context.Context, gap *models.GapRange, reason string) error {
	r, err := models.NewUnobtainableRange(gap.Symbol, gap.Timeframe, gap.Start, gap.End, reason)
	if err != nil {
		return err
	}
	return o.store.RecordUnobtainable(ctx, *r)
}

// QueryBars returns stored bars for req, newest first. A zero limit uses
// the default and larger limits are capped.
func (o *Orchestrator) QueryBars(ctx context.Context, req Request) ([]models.Bar, error) {
	n, err := o.normalize(req, false)
	if err != nil {
		return nil, err
	}

	start, end := n.start, n.end
	if n.tf.IsIntraday() {
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	bars, err := o.store.Query(ctx, storage.QueryRequest{
		Symbol:    n.symbol,
		Timeframe: n.tf,
		Start:     start,
		End:       end,
		Limit:     n.limit,
		Order:     storage.OrderDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	return bars, nil
}

// BatchOutcome pairs a batch request with its result or error.
type BatchOutcome struct {
	Request Request
	Result  *Result
	Err     error
}

// EnsureBatch runs EnsureDetailed for every request, at most
// MaxConcurrentKeys at a time. Requests for the same key serialize on the
// key lock. Outcomes are in request order.
func (o *Orchestrator) EnsureBatch(ctx context.Context, reqs []Request) []BatchOutcome {
	out := make([]BatchOutcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrentKeys)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := o.EnsureDetailed(ctx, req)
			out[i] = BatchOutcome{Request: req, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("batch completed", "requests", len(reqs))
	return out
}

type normalized struct {
	symbol string
	tf     models.Timeframe
	start  time.Time
	end    time.Time
	limit  int
}

// normalize validates req and reduces it to UTC dates. Monthly starts snap
// to the first of the month. With capEnd the end date is capped at today,
// which can leave end before start.
func (o *Orchestrator) normalize(req Request, capEnd bool) (normalized, error) {
	var n normalized

	n.symbol = models.NormalizeSymbol(req.Symbol)
	if n.symbol == "" {
		return n, &models.ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if strings.ContainsAny(n.symbol, " \t") {
		return n, &models.ValidationError{Field: "symbol", Message: fmt.Sprintf("invalid symbol %q", req.Symbol)}
	}

	tf, err := models.ParseTimeframe(req.Timeframe)
	if err != nil {
		return n, err
	}
	n.tf = tf

	if req.Start.IsZero() || req.End.IsZero() {
		return n, &models.ValidationError{Field: "range", Message: "start and end dates are required"}
	}
	n.start, n.end = dateOf(req.Start), dateOf(req.End)
	if n.end.Before(n.start) {
		return n, &models.ValidationError{Field: "end", Message: "end must not be before start"}
	}

	switch {
	case req.Limit < 0:
		return n, &models.ValidationError{Field: "limit", Message: "limit must be positive"}
	case req.Limit == 0:
		n.limit = o.cfg.DefaultLimit
	case req.Limit > o.cfg.MaxLimit:
		n.limit = o.cfg.MaxLimit
	default:
		n.limit = req.Limit
	}

	if tf == models.Timeframe1Month {
		n.start = time.Date(n.start.Year(), n.start.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	if capEnd {
		if today := dateOf(o.now()); n.end.After(today) {
			n.end = today
		}
	}
	return n, nil
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
