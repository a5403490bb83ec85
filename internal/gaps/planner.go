package gaps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/calendar"
	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
	"github.com/johnayoung/go-ohlcv-ingest/internal/storage"
)

// Source is the read side of the store the planner needs.
type Source interface {
	Query(ctx context.Context, req storage.QueryRequest) ([]models.Bar, error)
	ListUnobtainable(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) ([]models.UnobtainableRange, error)
}

// PlanRequest identifies the bars a caller wants present.
type PlanRequest struct {
	Symbol    string
	Exchange  string
	Timeframe models.Timeframe

	// Start and End are dates (00:00 UTC); both days are included.
	Start time.Time
	End   time.Time

	// Now, when set, drops bars whose period has not ended yet.
	Now time.Time
}

// Plan is the outcome of a completeness check.
type Plan struct {
	Expected            int
	Stored              int
	Missing             []time.Time
	Gaps                []*models.GapRange
	CalendarUnavailable bool

	// Slots holds every expected timestamp. It is nil when the calendar was
	// unavailable.
	Slots TimestampSet
}

// Complete reports whether nothing needs fetching.
func (p *Plan) Complete() bool {
	return len(p.Gaps) == 0
}

// Planner computes gap ranges from a calendar and a store.
type Planner struct {
	oracle calendar.Oracle
	source Source
	logger *slog.Logger

	// ttl > 0 ignores unobtainable rows older than ttl
	ttl time.Duration
	now func() time.Time
}

// NewPlanner creates a planner. A non-positive ttl keeps unobtainable ranges forever.
func NewPlanner(oracle calendar.Oracle, source Source, ttl time.Duration, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		oracle: oracle,
		source: source,
		logger: logger,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Plan runs the completeness check for req.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	symbol := models.NormalizeSymbol(req.Symbol)

	expected, err := p.oracle.ExpectedTimestamps(req.Exchange, req.Timeframe, req.Start, req.End)
	if errors.Is(err, calendar.ErrCalendarUnavailable) {
		p.logger.Warn("calendar unavailable, treating whole range as one gap",
			"symbol", symbol,
			"timeframe", req.Timeframe,
			"exchange", req.Exchange,
			"error", err)
		return p.wholeRange(ctx, symbol, req)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compute expected timestamps: %w", err)
	}

	if !req.Now.IsZero() {
		expected = completedOnly(expected, req.Timeframe, req.Now)
	}

	plan := &Plan{Expected: len(expected), Slots: NewTimestampSet(expected...)}
	if len(expected) == 0 {
		return plan, nil
	}
	first, last := expected[0], expected[len(expected)-1]

	bars, err := p.source.Query(ctx, storage.QueryRequest{
		Symbol:    symbol,
		Timeframe: req.Timeframe,
		Start:     first,
		End:       last,
		Order:     storage.OrderAsc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load stored bars: %w", err)
	}
	existing := make(TimestampSet, len(bars))
	for _, b := range bars {
		existing.Add(b.Timestamp)
	}
	plan.Stored = len(bars)

	unobtainable, err := p.activeUnobtainable(ctx, symbol, req.Timeframe, first, last)
	if err != nil {
		return nil, err
	}

	plan.Missing = FindMissing(expected, existing, unobtainable)
	for _, r := range Group(plan.Missing, req.Timeframe) {
		gap, err := models.NewGapRange(symbol, req.Timeframe, r.Start, r.End, r.Count)
		if err != nil {
			return nil, err
		}
		plan.Gaps = append(plan.Gaps, gap)
	}

	p.logger.Debug("completeness checked",
		"symbol", symbol,
		"timeframe", req.Timeframe,
		"expected", plan.Expected,
		"stored", plan.Stored,
		"missing", len(plan.Missing),
		"gaps", len(plan.Gaps),
		"unobtainable_ranges", len(unobtainable))
	return plan, nil
}

// wholeRange builds the single-gap plan used when no calendar can answer.
// An active unobtainable row spanning the whole range still suppresses it.
func (p *Planner) wholeRange(ctx context.Context, symbol string, req PlanRequest) (*Plan, error) {
	start, end := req.Start.UTC(), req.End.UTC()
	if req.Timeframe.IsIntraday() {
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !req.Now.IsZero() {
		if last := lastCompleted(req.Timeframe, req.Now); end.After(last) {
			end = last
		}
	}

	plan := &Plan{CalendarUnavailable: true}
	if end.Before(start) {
		return plan, nil
	}

	unobtainable, err := p.activeUnobtainable(ctx, symbol, req.Timeframe, start, end)
	if err != nil {
		return nil, err
	}
	for _, r := range unobtainable {
		if r.Contains(start) && r.Contains(end) {
			return plan, nil
		}
	}

	gap, err := models.NewGapRange(symbol, req.Timeframe, start, end, 0)
	if err != nil {
		return nil, err
	}
	plan.Gaps = []*models.GapRange{gap}
	return plan, nil
}

func (p *Planner) activeUnobtainable(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) ([]models.UnobtainableRange, error) {
	ranges, err := p.source.ListUnobtainable(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load unobtainable ranges: %w", err)
	}
	if p.ttl <= 0 {
		return ranges, nil
	}

	now := p.now()
	active := ranges[:0]
	for _, r := range ranges {
		if r.Stale(now, p.ttl) {
			continue
		}
		active = append(active, r)
	}
	return active, nil
}

// completedOnly keeps the timestamps whose bar period ended by now.
func completedOnly(expected []time.Time, tf models.Timeframe, now time.Time) []time.Time {
	out := expected[:0:0]
	for _, t := range expected {
		if tf.Next(t).After(now) {
			break
		}
		out = append(out, t)
	}
	return out
}

// lastCompleted is the latest instant a completed bar can be keyed at when
// no calendar is available.
func lastCompleted(tf models.Timeframe, now time.Time) time.Time {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch tf {
	case models.Timeframe1Day:
		return today.AddDate(0, 0, -1)
	case models.Timeframe1Month:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	default:
		return now.Add(-tf.Step())
	}
}
