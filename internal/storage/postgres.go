package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects a pool to dsn. maxConns <= 0 keeps the pgx default.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	if dsn == "" {
		return nil, NewStorageError("open", "", "", errors.New("postgres dsn is required"))
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("invalid postgres dsn: %w", err))
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to create pool: %w", err))
	}

	return &PostgresStore{pool: pool, logger: slog.Default()}, nil
}

// SetLogger replaces the store logger.
func (p *PostgresStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// pgSchema mirrors the DuckDB migrations in Postgres types.
func pgSchema() []string {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS instruments (
			symbol TEXT PRIMARY KEY,
			exchange TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, `
		CREATE TABLE IF NOT EXISTS unobtainable_ranges (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			start_ts TIMESTAMPTZ NOT NULL,
			end_ts TIMESTAMPTZ NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (symbol, timeframe, start_ts, end_ts),
			CHECK (end_ts >= start_ts)
		)`}
	for _, tf := range models.AllTimeframes {
		stmts = append(stmts, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (symbol, ts),
			CHECK (open > 0 AND high > 0 AND low > 0 AND close > 0),
			CHECK (volume >= 0)
		)`, tf.TableName()))
	}
	return stmts
}

// Initialize implements Manager.
func (p *PostgresStore) Initialize(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return NewStorageError("initialize", "", "", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range pgSchema() {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return NewStorageError("initialize", "", summarize(stmt), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return NewStorageError("initialize", "", "", err)
	}
	p.logger.Info("postgres schema ready")
	return nil
}

// Close implements Manager.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// HealthCheck implements Manager.
func (p *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return NewStorageError("health_check", "", "", err)
	}
	return nil
}

// Upsert implements BarStore. Each timeframe is written with one
// INSERT ... SELECT FROM unnest(...) statement.
func (p *PostgresStore) Upsert(ctx context.Context, bars []models.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	groups, err := groupForInsert(bars)
	if err != nil {
		return 0, NewInsertError("bars", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, NewInsertError("bars", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, tf := range models.AllTimeframes {
		rows, ok := groups[tf]
		if !ok {
			continue
		}

		n := len(rows)
		symbols := make([]string, n)
		stamps := make([]time.Time, n)
		opens := make([]float64, n)
		highs := make([]float64, n)
		lows := make([]float64, n)
		closes := make([]float64, n)
		volumes := make([]int64, n)
		for i, b := range rows {
			symbols[i], stamps[i] = b.Symbol, b.Timestamp
			opens[i], highs[i], lows[i], closes[i] = b.Open, b.High, b.Low, b.Close
			volumes[i] = b.Volume
		}

		query := fmt.Sprintf(`
			INSERT INTO %s (symbol, ts, open, high, low, close, volume)
			SELECT * FROM unnest($1::text[], $2::timestamptz[], $3::float8[], $4::float8[], $5::float8[], $6::float8[], $7::int8[])
			ON CONFLICT DO NOTHING`, tf.TableName())

		tag, err := tx.Exec(ctx, query, symbols, stamps, opens, highs, lows, closes, volumes)
		if err != nil {
			return 0, NewStorageError("insert", tf.TableName(), query, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, NewInsertError("bars", err)
	}
	return inserted, nil
}

// Query implements BarStore.
func (p *PostgresStore) Query(ctx context.Context, req QueryRequest) ([]models.Bar, error) {
	table := req.Timeframe.TableName()
	if err := req.Validate(); err != nil {
		return nil, NewQueryError(table, "", err)
	}

	query, args := buildBarQuery(req, positional)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError(table, query, err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		bar := models.Bar{Timeframe: req.Timeframe}
		if err := rows.Scan(&bar.Symbol, &bar.Timestamp, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, NewQueryError(table, query, err)
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
func (p *PostgresStore) RecordUnobtainable(ctx context.Context, r models.UnobtainableRange) error {
	if err := r.Validate(); err != nil {
		return NewInsertError("unobtainable_ranges", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO unobtainable_ranges (symbol, timeframe, start_ts, end_ts, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`
	if _, err := p.pool.Exec(ctx, query,
		models.NormalizeSymbol(r.Symbol), string(r.Timeframe), r.Start.UTC(), r.End.UTC(), r.Reason, r.CreatedAt.UTC()); err != nil {
		return NewInsertError("unobtainable_ranges", err)
	}
	return nil
}

// ListUnobtainable implements UnobtainableStore.
func (p *PostgresStore) ListUnobtainable(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) ([]models.UnobtainableRange, error) {
	const query = `
		SELECT symbol, timeframe, start_ts, end_ts, reason, created_at
		FROM unobtainable_ranges
		WHERE symbol = $1 AND timeframe = $2 AND start_ts <= $4 AND end_ts >= $3
		ORDER BY start_ts, end_ts`

	rows, err := p.pool.Query(ctx, query, models.NormalizeSymbol(symbol), string(tf), start.UTC(), end.UTC())
	if err != nil {
		return nil, NewQueryError("unobtainable_ranges", query, err)
	}
	defer rows.Close()

	var out []models.UnobtainableRange
	for rows.Next() {
		var r models.UnobtainableRange
		var tfName string
		if err := rows.Scan(&r.Symbol, &tfName, &r.Start, &r.End, &r.Reason, &r.CreatedAt); err != nil {
			return nil, NewQueryError("unobtainable_ranges", query, err)
		}
		r.Timeframe = models.Timeframe(tfName)
		r.Start, r.End, r.CreatedAt = r.Start.UTC(), r.End.UTC(), r.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("unobtainable_ranges", query, err)
	}
	return out, nil
}

// EnsureInstrument implements InstrumentStore.
func (p *PostgresStore) EnsureInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewInsertError("instruments", &models.ValidationError{Field: "symbol", Message: "symbol is required"})
	}

	now := time.Now().UTC()
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO instruments (symbol, exchange, created_at, updated_at) VALUES ($1, NULL, $2, $2) ON CONFLICT DO NOTHING`,
		symbol, now); err != nil {
		return nil, NewInsertError("instruments", err)
	}
	return p.GetInstrument(ctx, symbol)
}

// GetInstrument implements InstrumentStore.
func (p *PostgresStore) GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	const query = `SELECT symbol, exchange, created_at, updated_at FROM instruments WHERE symbol = $1`

	var inst models.Instrument
	err := p.pool.QueryRow(ctx, query, models.NormalizeSymbol(symbol)).
		Scan(&inst.Symbol, &inst.Exchange, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("instruments", query, err)
	}
	return &inst, nil
}

// SetExchange implements InstrumentStore.
func (p *PostgresStore) SetExchange(ctx context.Context, symbol, exchange string) error {
	const query = `
		INSERT INTO instruments (symbol, exchange, created_at, updated_at) VALUES ($1, $2, $3, $3)
		ON CONFLICT (symbol) DO UPDATE SET exchange = EXCLUDED.exchange, updated_at = EXCLUDED.updated_at`
	if _, err := p.pool.Exec(ctx, query, models.NormalizeSymbol(symbol), exchange, time.Now().UTC()); err != nil {
		return NewStorageError("update", "instruments", query, err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
