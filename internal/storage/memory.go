package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// MemoryStore is an in-process Store. It applies the same uniqueness rules
// as the SQL backends and is safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	// bars: timeframe -> symbol -> unix nanos -> bar
	bars map[models.Timeframe]map[string]map[int64]models.Bar

	instruments  map[string]*models.Instrument
	unobtainable map[unobtainableKey]models.UnobtainableRange

	closed bool
}

type unobtainableKey struct {
	symbol    string
	timeframe models.Timeframe
	start     int64
	end       int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bars:         make(map[models.Timeframe]map[string]map[int64]models.Bar),
		instruments:  make(map[string]*models.Instrument),
		unobtainable: make(map[unobtainableKey]models.UnobtainableRange),
	}
}

// Initialize implements Manager.
func (m *MemoryStore) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Manager.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// HealthCheck implements Manager.
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.New("storage is closed")
	}
	return nil
}

// Upsert implements BarStore. Existing rows are never replaced.
func (m *MemoryStore) Upsert(ctx context.Context, bars []models.Bar) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewInsertError("bars", err)
	}
	if len(bars) == 0 {
		return 0, nil
	}

	for i := range bars {
		if !bars[i].Timeframe.Valid() {
			return 0, NewInsertError("bars", fmt.Errorf("bar at index %d has invalid timeframe %q", i, bars[i].Timeframe))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, NewInsertError("bars", errors.New("storage is closed"))
	}

	inserted := 0
	for _, bar := range bars {
		bar.Symbol = models.NormalizeSymbol(bar.Symbol)
		bar.Timestamp = bar.Timestamp.UTC()

		bySymbol := m.bars[bar.Timeframe]
		if bySymbol == nil {
			bySymbol = make(map[string]map[int64]models.Bar)
			m.bars[bar.Timeframe] = bySymbol
		}
		byTime := bySymbol[bar.Symbol]
		if byTime == nil {
			byTime = make(map[int64]models.Bar)
			bySymbol[bar.Symbol] = byTime
		}

		key := bar.Timestamp.UnixNano()
		if _, exists := byTime[key]; exists {
			continue
		}
		byTime[key] = bar
		inserted++
	}

	return inserted, nil
}

// Query implements BarStore.
func (m *MemoryStore) Query(ctx context.Context, req QueryRequest) ([]models.Bar, error) {
	table := req.Timeframe.TableName()
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError(table, "", err)
	}
	if err := req.Validate(); err != nil {
		return nil, NewQueryError(table, "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError(table, "", errors.New("storage is closed"))
	}

	byTime := m.bars[req.Timeframe][models.NormalizeSymbol(req.Symbol)]
	out := make([]models.Bar, 0, len(byTime))
	for _, bar := range byTime {
		if !req.Start.IsZero() && bar.Timestamp.Before(req.Start) {
			continue
		}
		if !req.End.IsZero() && bar.Timestamp.After(req.End) {
			continue
		}
		out = append(out, bar)
	}

	if req.descending() {
		models.SortBarsDescending(out)
	} else {
		models.SortBarsAscending(out)
	}

	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// RecordUnobtainable implements UnobtainableStore.
func (m *MemoryStore) RecordUnobtainable(ctx context.Context, r models.UnobtainableRange) error {
	if err := ctx.Err(); err != nil {
		return NewInsertError("unobtainable_ranges", err)
	}
	if err := r.Validate(); err != nil {
		return NewInsertError("unobtainable_ranges", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewInsertError("unobtainable_ranges", errors.New("storage is closed"))
	}

	r.Symbol = models.NormalizeSymbol(r.Symbol)
	key := unobtainableKey{r.Symbol, r.Timeframe, r.Start.UTC().UnixNano(), r.End.UTC().UnixNano()}
	if _, exists := m.unobtainable[key]; exists {
		return nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.unobtainable[key] = r
	return nil
}

// ListUnobtainable implements UnobtainableStore.
func (m *MemoryStore) ListUnobtainable(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) ([]models.UnobtainableRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError("unobtainable_ranges", "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("unobtainable_ranges", "", errors.New("storage is closed"))
	}

	symbol = models.NormalizeSymbol(symbol)
	var out []models.UnobtainableRange
	for key, r := range m.unobtainable {
		if key.symbol != symbol || key.timeframe != tf {
			continue
		}
		if r.Overlaps(start, end) {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// EnsureInstrument implements InstrumentStore.
func (m *MemoryStore) EnsureInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewInsertError("instruments", err)
	}
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewInsertError("instruments", &models.ValidationError{Field: "symbol", Message: "symbol is required"})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.instruments[symbol]; ok {
		cp := *inst
		return &cp, nil
	}
	inst := models.NewInstrument(symbol)
	m.instruments[symbol] = inst
	cp := *inst
	return &cp, nil
}

// GetInstrument implements InstrumentStore.
func (m *MemoryStore) GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewQueryError("instruments", "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instruments[models.NormalizeSymbol(symbol)]
	if !ok {
		return nil, nil
	}
	cp := *inst
	return &cp, nil
}

// SetExchange implements InstrumentStore.
func (m *MemoryStore) SetExchange(ctx context.Context, symbol, exchange string) error {
	if _, err := m.EnsureInstrument(ctx, symbol); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inst := m.instruments[models.NormalizeSymbol(symbol)]
	ex := exchange
	inst.Exchange = &ex
	inst.UpdatedAt = time.Now().UTC()
	return nil
}

var _ Store = (*MemoryStore)(nil)
