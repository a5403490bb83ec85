// Package storage defines the persistence contract for bars, instruments and
// unobtainable ranges, with DuckDB, Postgres and in-memory implementations.
//
// Every backend enforces the same uniqueness rules in its schema:
//   - at most one bar per (symbol, timestamp) in each per-timeframe table
//   - at most one unobtainable range per (symbol, timeframe, start, end)
//
// Writes never overwrite: duplicate bars are ignored and reported through the
// inserted-row count.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// Backend names accepted by New.
const (
	BackendDuckDB   = "duckdb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// BarStore persists and reads bars.
type BarStore interface {
	// Upsert inserts bars, ignoring any that collide with an existing
	// (symbol, timeframe, timestamp). It returns the number of new rows.
	Upsert(ctx context.Context, bars []models.Bar) (int, error)

	// Query returns bars in the request's order. A non-positive limit means
	// no cap.
	Query(ctx context.Context, req QueryRequest) ([]models.Bar, error)
}

// UnobtainableStore persists the negative cache.
type UnobtainableStore interface {
	// RecordUnobtainable inserts the range; an identical existing range is
	// left untouched and no error is returned.
	RecordUnobtainable(ctx context.Context, r models.UnobtainableRange) error

	// ListUnobtainable returns ranges for symbol and tf that overlap
	// [start, end], ordered by start.
	ListUnobtainable(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) ([]models.UnobtainableRange, error)
}

// InstrumentStore tracks instruments and their listing exchange.
type InstrumentStore interface {
	// EnsureInstrument returns the instrument, creating it on first reference.
	EnsureInstrument(ctx context.Context, symbol string) (*models.Instrument, error)

	// GetInstrument returns nil without error when the symbol is unknown.
	GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error)

	// SetExchange assigns the exchange identifier, creating the instrument if needed.
	SetExchange(ctx context.Context, symbol, exchange string) error
}

// Manager handles backend lifecycle.
type Manager interface {
	// Initialize creates the schema. It is idempotent.
	Initialize(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error
}

// Store is the full persistence contract used by the acquisition engine.
type Store interface {
	BarStore
	UnobtainableStore
	InstrumentStore
	Manager
}

// Order controls the sort direction of Query results.
type Order string

const (
	OrderDesc Order = "timestamp_desc"
	OrderAsc  Order = "timestamp_asc"
)

// QueryRequest selects bars for one symbol and timeframe with inclusive bounds.
type QueryRequest struct {
	Symbol    string
	Timeframe models.Timeframe
	Start     time.Time
	End       time.Time
	Limit     int
	Order     Order
}

// Validate checks the request before it reaches a backend.
func (r QueryRequest) Validate() error {
	if r.Symbol == "" {
		return &models.ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if !r.Timeframe.Valid() {
		return &models.ValidationError{Field: "timeframe", Message: fmt.Sprintf("invalid timeframe %q", r.Timeframe)}
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return &models.ValidationError{Field: "end", Message: "end must not be before start"}
	}
	switch r.Order {
	case "", OrderDesc, OrderAsc:
	default:
		return &models.ValidationError{Field: "order", Message: fmt.Sprintf("invalid order %q", r.Order)}
	}
	return nil
}

// descending reports whether results should be newest first; the default.
func (r QueryRequest) descending() bool {
	return r.Order != OrderAsc
}

// StorageError wraps a backend failure with the operation and table involved.
type StorageError struct {
	Operation string
	Table     string
	Query     string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage %s on %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table, query string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Table:     table,
		Query:     query,
		Err:       err,
	}
}

// NewQueryError creates a StorageError for query operations.
func NewQueryError(table, query string, err error) *StorageError {
	return NewStorageError("query", table, query, err)
}

// NewInsertError creates a StorageError for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return NewStorageError("insert", table, "", err)
}

// Config selects and configures a backend.
type Config struct {
	Backend        string
	DuckDBPath     string
	PostgresDSN    string
	MaxConnections int
}

// New opens the configured backend. Initialize must still be called.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendDuckDB, "":
		return NewDuckDBStore(cfg.DuckDBPath)
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresDSN, cfg.MaxConnections)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
