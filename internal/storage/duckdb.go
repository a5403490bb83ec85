package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// DuckDBStore implements Store on an embedded DuckDB database.
// Bars are bulk loaded with the DuckDB Appender into a staging table and
// merged into the per-timeframe table with ON CONFLICT DO NOTHING.
type DuckDBStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger

	// writeMu serialises staging-table merges.
	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// NewDuckDBStore opens a DuckDB database. The path can be ":memory:" or a file path.
func NewDuckDBStore(dbPath string) (*DuckDBStore, error) {
	return NewDuckDBStoreWithLogger(dbPath, nil)
}

// NewDuckDBStoreWithLogger is NewDuckDBStore with an explicit logger.
func NewDuckDBStoreWithLogger(dbPath string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// single writer, and ":memory:" databases are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStore{
		db:     db,
		dbPath: dbPath,
		logger: logger,
	}, nil
}

// Initialize implements Manager by applying all schema migrations.
func (d *DuckDBStore) Initialize(ctx context.Context) error {
	db, err := d.conn()
	if err != nil {
		return NewStorageError("initialize", "", "", err)
	}

	d.logger.Info("initializing DuckDB storage", "db_path", d.dbPath)
	if err := NewMigrationManager(db, d.logger).MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", "", "", err)
	}
	return nil
}

// Migrations exposes the migration manager for the CLI.
func (d *DuckDBStore) Migrations() *MigrationManager {
	return NewMigrationManager(d.db, d.logger)
}

// Close implements Manager.
func (d *DuckDBStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.db.Close(); err != nil {
		return NewStorageError("close", "", "", err)
	}
	return nil
}

// HealthCheck implements Manager.
func (d *DuckDBStore) HealthCheck(ctx context.Context) error {
	db, err := d.conn()
	if err != nil {
		return NewStorageError("health_check", "", "", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("database health check failed: %w", err))
	}
	if result != 1 {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("unexpected health check result: %d", result))
	}
	return nil
}

// Upsert implements BarStore.
func (d *DuckDBStore) Upsert(ctx context.Context, bars []models.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	groups, err := groupForInsert(bars)
	if err != nil {
		return 0, NewInsertError("bars", err)
	}

	db, err := d.conn()
	if err != nil {
		return 0, NewInsertError("bars", err)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, NewInsertError("bars", fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	start := time.Now()
	inserted := 0
	for _, tf := range models.AllTimeframes {
		rows, ok := groups[tf]
		if !ok {
			continue
		}
		n, err := d.mergeBatch(ctx, conn, tf, rows)
		if err != nil {
			return inserted, NewInsertError(tf.TableName(), err)
		}
		inserted += n
	}

	d.logger.Debug("upserted bars",
		"received", len(bars),
		"inserted", inserted,
		"duration", time.Since(start))
	return inserted, nil
}

// mergeBatch appends rows into bars_staging and merges them into the
// timeframe table, returning the number of new rows.
func (d *DuckDBStore) mergeBatch(ctx context.Context, conn *sql.Conn, tf models.Timeframe, rows []models.Bar) (int, error) {
	if _, err := conn.ExecContext(ctx, "DELETE FROM bars_staging"); err != nil {
		return 0, fmt.Errorf("failed to clear staging table: %w", err)
	}

	err := conn.Raw(func(dc any) error {
		driverConn, ok := dc.(*duckdb.Conn)
		if !ok {
			return errors.New("underlying connection is not a DuckDB connection")
		}

		appender, err := duckdb.NewAppenderFromConn(driverConn, "", "bars_staging")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}

		for _, b := range rows {
			if err := appender.AppendRow(b.Symbol, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
				appender.Close()
				return fmt.Errorf("failed to append bar %s@%s: %w", b.Symbol, b.Timestamp.Format(time.RFC3339), err)
			}
		}
		if err := appender.Close(); err != nil {
			return fmt.Errorf("failed to flush appender: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	merge := fmt.Sprintf(`
		INSERT INTO %s (symbol, ts, open, high, low, close, volume)
		SELECT symbol, ts, open, high, low, close, volume FROM bars_staging
		ON CONFLICT DO NOTHING`, tf.TableName())

	res, err := conn.ExecContext(ctx, merge)
	if err != nil {
		return 0, fmt.Errorf("failed to merge staging rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted row count: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM bars_staging"); err != nil {
		d.logger.Warn("failed to clear staging table", "error", err)
	}
	return int(n), nil
}

// Query implements BarStore.
func (d *DuckDBStore) Query(ctx context.Context, req QueryRequest) ([]models.Bar, error) {
	table := req.Timeframe.TableName()
	if err := req.Validate(); err != nil {
		return nil, NewQueryError(table, "", err)
	}

	db, err := d.conn()
	if err != nil {
		return nil, NewQueryError(table, "", err)
	}

	query, args := buildBarQuery(req, positional)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError(table, query, err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		bar := models.Bar{Timeframe: req.Timeframe}
		if err := rows.Scan(&bar.Symbol, &bar.Timestamp, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, NewQueryError(table, query, fmt.Errorf("failed to scan bar: %w", err))
		}
		bar.Timestamp = bar.Timestamp.UTC()
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(table, query, err)
	}
	return bars, nil
}

// RecordUnobtainable implements UnobtainableStore.
func (d *DuckDBStore) RecordUnobtainable(ctx context.Context, r models.UnobtainableRange) error {
	if err := r.Validate(); err != nil {
		return NewInsertError("unobtainable_ranges", err)
	}
	db, err := d.conn()
	if err != nil {
		return NewInsertError("unobtainable_ranges", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO unobtainable_ranges (symbol, timeframe, start_ts, end_ts, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`
	if _, err := db.ExecContext(ctx, query,
		models.NormalizeSymbol(r.Symbol), string(r.Timeframe), r.Start.UTC(), r.End.UTC(), r.Reason, r.CreatedAt.UTC()); err != nil {
		return NewInsertError("unobtainable_ranges", err)
	}
	return nil
}

// ListUnobtainable implements UnobtainableStore.
func (d *DuckDBStore) ListUnobtainable(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) ([]models.UnobtainableRange, error) {
	db, err := d.conn()
	if err != nil {
		return nil, NewQueryError("unobtainable_ranges", "", err)
	}

	const query = `
		SELECT symbol, timeframe, start_ts, end_ts, reason, created_at
		FROM unobtainable_ranges
		WHERE symbol = $1 AND timeframe = $2 AND start_ts <= $4 AND end_ts >= $3
		ORDER BY start_ts, end_ts`

	rows, err := db.QueryContext(ctx, query, models.NormalizeSymbol(symbol), string(tf), start.UTC(), end.UTC())
	if err != nil {
		return nil, NewQueryError("unobtainable_ranges", query, err)
	}
	defer rows.Close()

	return scanUnobtainable(rows)
}

// EnsureInstrument implements InstrumentStore.
func (d *DuckDBStore) EnsureInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewInsertError("instruments", &models.ValidationError{Field: "symbol", Message: "symbol is required"})
	}
	db, err := d.conn()
	if err != nil {
		return nil, NewInsertError("instruments", err)
	}

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO instruments (symbol, exchange, created_at, updated_at) VALUES ($1, NULL, $2, $3) ON CONFLICT DO NOTHING`,
		symbol, now, now); err != nil {
		return nil, NewInsertError("instruments", err)
	}
	return d.GetInstrument(ctx, symbol)
}

// GetInstrument implements InstrumentStore.
func (d *DuckDBStore) GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	db, err := d.conn()
	if err != nil {
		return nil, NewQueryError("instruments", "", err)
	}

	const query = `SELECT symbol, exchange, created_at, updated_at FROM instruments WHERE symbol = $1`
	inst, err := scanInstrument(db.QueryRowContext(ctx, query, models.NormalizeSymbol(symbol)))
	if err != nil {
		return nil, NewQueryError("instruments", query, err)
	}
	return inst, nil
}

// SetExchange implements InstrumentStore.
func (d *DuckDBStore) SetExchange(ctx context.Context, symbol, exchange string) error {
	symbol = models.NormalizeSymbol(symbol)
	db, err := d.conn()
	if err != nil {
		return NewStorageError("update", "instruments", "", err)
	}

	now := time.Now().UTC()
	const query = `
		INSERT INTO instruments (symbol, exchange, created_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE SET exchange = EXCLUDED.exchange, updated_at = EXCLUDED.updated_at`
	if _, err := db.ExecContext(ctx, query, symbol, exchange, now, now); err != nil {
		return NewStorageError("update", "instruments", query, err)
	}
	return nil
}

func (d *DuckDBStore) conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, errors.New("database connection is closed")
	}
	return d.db, nil
}

// placeholder renders the n-th (1-based) bind parameter.
type placeholder func(n int) string

func positional(n int) string { return fmt.Sprintf("$%d", n) }

// buildBarQuery renders the SELECT for a QueryRequest.
func buildBarQuery(req QueryRequest, ph placeholder) (string, []any) {
	var b strings.Builder
	args := []any{models.NormalizeSymbol(req.Symbol)}

	fmt.Fprintf(&b, "SELECT symbol, ts, open, high, low, close, volume FROM %s WHERE symbol = %s",
		req.Timeframe.TableName(), ph(1))

	if !req.Start.IsZero() {
		args = append(args, req.Start.UTC())
		fmt.Fprintf(&b, " AND ts >= %s", ph(len(args)))
	}
	if !req.End.IsZero() {
		args = append(args, req.End.UTC())
		fmt.Fprintf(&b, " AND ts <= %s", ph(len(args)))
	}

	if req.descending() {
		b.WriteString(" ORDER BY ts DESC")
	} else {
		b.WriteString(" ORDER BY ts ASC")
	}
	if req.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", req.Limit)
	}
	return b.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row rowScanner) (*models.Instrument, error) {
	var inst models.Instrument
	var exchange sql.NullString
	if err := row.Scan(&inst.Symbol, &exchange, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if exchange.Valid {
		ex := exchange.String
		inst.Exchange = &ex
	}
	return &inst, nil
}

func scanUnobtainable(rows *sql.Rows) ([]models.UnobtainableRange, error) {
	var out []models.UnobtainableRange
	for rows.Next() {
		var r models.UnobtainableRange
		var tf string
		if err := rows.Scan(&r.Symbol, &tf, &r.Start, &r.End, &r.Reason, &r.CreatedAt); err != nil {
			return nil, NewQueryError("unobtainable_ranges", "", fmt.Errorf("failed to scan range: %w", err))
		}
		r.Timeframe = models.Timeframe(tf)
		r.Start = r.Start.UTC()
		r.End = r.End.UTC()
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("unobtainable_ranges", "", err)
	}
	return out, nil
}

// groupForInsert validates and normalises bars, drops in-batch duplicates
// (first occurrence wins) and groups them by timeframe.
func groupForInsert(bars []models.Bar) (map[models.Timeframe][]models.Bar, error) {
	type key struct {
		tf     models.Timeframe
		symbol string
		ts     int64
	}

	seen := make(map[key]struct{}, len(bars))
	groups := make(map[models.Timeframe][]models.Bar)
	for i, bar := range bars {
		if !bar.Timeframe.Valid() {
			return nil, fmt.Errorf("bar at index %d has invalid timeframe %q", i, bar.Timeframe)
		}
		bar.Symbol = models.NormalizeSymbol(bar.Symbol)
		bar.Timestamp = bar.Timestamp.UTC()

		k := key{bar.Timeframe, bar.Symbol, bar.Timestamp.UnixNano()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		groups[bar.Timeframe] = append(groups[bar.Timeframe], bar)
	}
	return groups, nil
}

var _ Store = (*DuckDBStore)(nil)
