package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GapState is the lifecycle state of one contiguous missing range.
//
//	unresolved -> resolving -> resolved | unobtainable
//
// resolving may also fall back to unresolved when the attempt is abandoned
// (deadline expiry or a storage failure); neither proves the data is unavailable.
type GapState string

const (
	// GapUnresolved indicates the gap has been computed but not yet attempted
	GapUnresolved GapState = "unresolved"
	// GapResolving indicates the provider chain is being walked for the gap
	GapResolving GapState = "resolving"
	// GapResolved indicates a provider returned bars and they were persisted
	GapResolved GapState = "resolved"
	// GapUnobtainable indicates every provider failed and a negative-cache row exists
	GapUnobtainable GapState = "unobtainable"
)

// GapRange is a contiguous range of expected-but-missing timestamps for one
// (symbol, timeframe) key, together with its resolution progress.
type GapRange struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`

	// Start and End are the first and last missing timestamps, inclusive
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Expected is the number of missing timestamps the range covers. Zero when
	// the range was produced without a calendar.
	Expected int `json:"expected"`

	State GapState `json:"state"`

	Provider  string     `json:"provider,omitempty"`
	Stored    int        `json:"stored"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
}

// NewGapRange creates an unresolved gap with a fresh identifier.
func NewGapRange(symbol string, tf Timeframe, start, end time.Time, expected int) (*GapRange, error) {
	g := &GapRange{
		ID:        uuid.NewString(),
		Symbol:    NormalizeSymbol(symbol),
		Timeframe: tf,
		Start:     start.UTC(),
		End:       end.UTC(),
		Expected:  expected,
		State:     GapUnresolved,
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gap: %w", err)
	}
	return g, nil
}

// Validate checks identity, bounds and state.
func (g *GapRange) Validate() error {
	if g.ID == "" {
		return errors.New("gap ID cannot be empty")
	}
	if g.Symbol == "" {
		return errors.New("gap symbol cannot be empty")
	}
	if !g.Timeframe.Valid() {
		return fmt.Errorf("invalid gap timeframe: %q", g.Timeframe)
	}
	if g.Start.IsZero() || g.End.IsZero() {
		return errors.New("gap bounds cannot be zero")
	}
	if g.End.Before(g.Start) {
		return errors.New("gap end must not be before start")
	}

	switch g.State {
	case GapUnresolved, GapResolving, GapResolved, GapUnobtainable:
	default:
		return fmt.Errorf("invalid gap state: %s", g.State)
	}
	return nil
}

// Begin moves the gap from unresolved to resolving.
func (g *GapRange) Begin() error {
	if g.State != GapUnresolved {
		return fmt.Errorf("cannot begin gap in state %s, must be %s", g.State, GapUnresolved)
	}
	now := time.Now().UTC()
	g.State = GapResolving
	g.StartedAt = &now
	g.Attempts++
	g.LastError = ""
	return nil
}

// Resolve marks the gap as filled by provider with stored new rows.
func (g *GapRange) Resolve(provider string, stored int) error {
	if g.State != GapResolving {
		return fmt.Errorf("cannot resolve gap in state %s, must be %s", g.State, GapResolving)
	}
	now := time.Now().UTC()
	g.State = GapResolved
	g.Provider = provider
	g.Stored = stored
	g.DoneAt = &now
	return nil
}

// MarkUnobtainable records that the provider chain was exhausted.
func (g *GapRange) MarkUnobtainable(reason string) error {
	if g.State != GapResolving {
		return fmt.Errorf("cannot mark gap unobtainable in state %s, must be %s", g.State, GapResolving)
	}
	now := time.Now().UTC()
	g.State = GapUnobtainable
	g.LastError = reason
	g.DoneAt = &now
	return nil
}

// Abandon returns a resolving gap to unresolved, keeping the error.
func (g *GapRange) Abandon(reason string) error {
	if g.State != GapResolving {
		return fmt.Errorf("cannot abandon gap in state %s, must be %s", g.State, GapResolving)
	}
	g.State = GapUnresolved
	g.LastError = reason
	return nil
}

// IsTerminal reports whether the gap reached resolved or unobtainable.
func (g *GapRange) IsTerminal() bool {
	return g.State == GapResolved || g.State == GapUnobtainable
}

// String implements fmt.Stringer.
func (g *GapRange) String() string {
	return fmt.Sprintf("Gap{ID: %s, Symbol: %s, Timeframe: %s, Range: %s..%s, State: %s}",
		g.ID, g.Symbol, g.Timeframe,
		g.Start.Format(time.RFC3339), g.End.Format(time.RFC3339), g.State)
}
