package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// Migration is one versioned schema change applied inside a transaction.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version       int           `json:"version"`
	Description   string        `json:"description"`
	AppliedAt     time.Time     `json:"applied_at"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// MigrationStatus summarises the schema state.
type MigrationStatus struct {
	CurrentVersion    int                `json:"current_version"`
	LatestVersion     int                `json:"latest_version"`
	PendingMigrations int                `json:"pending_migrations"`
	Applied           []AppliedMigration `json:"applied"`
}

// MigrationManager applies the SQL schema in order and records each version.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrationManager creates a migration manager over db.
func NewMigrationManager(db *sql.DB, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationManager{
		db:         db,
		logger:     logger,
		migrations: schemaMigrations(),
	}
}

// MigrateToLatest applies every pending migration.
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	return m.Migrate(ctx, m.latestVersion())
}

// Migrate applies pending migrations up to and including targetVersion.
func (m *MigrationManager) Migrate(ctx context.Context, targetVersion int) error {
	if err := m.initialize(ctx); err != nil {
		return err
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}

	if current >= targetVersion {
		m.logger.Debug("schema up to date", "current_version", current)
		return nil
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current || migration.Version > targetVersion {
			continue
		}
		if err := m.run(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
		applied++
	}

	m.logger.Info("migrations completed",
		"from_version", current,
		"to_version", targetVersion,
		"migrations_run", applied)
	return nil
}

// Status reports the current and pending schema versions.
func (m *MigrationManager) Status(ctx context.Context) (*MigrationStatus, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT version, description, applied_at, execution_time FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	status := &MigrationStatus{CurrentVersion: current, LatestVersion: m.latestVersion()}
	for rows.Next() {
		var a AppliedMigration
		var nanos int64
		if err := rows.Scan(&a.Version, &a.Description, &a.AppliedAt, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		a.ExecutionTime = time.Duration(nanos)
		status.Applied = append(status.Applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}

	for _, migration := range m.migrations {
		if migration.Version > current {
			status.PendingMigrations++
		}
	}
	return status, nil
}

func (m *MigrationManager) initialize(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL,
			execution_time BIGINT NOT NULL DEFAULT 0
		)`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *MigrationManager) currentVersion(ctx context.Context) (int, error) {
	var version int
	if err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

func (m *MigrationManager) latestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

func (m *MigrationManager) run(ctx context.Context, migration Migration) error {
	start := time.Now()
	m.logger.Info("applying migration", "version", migration.Version, "description", migration.Description)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at, execution_time) VALUES ($1, $2, $3, $4)`,
		migration.Version, migration.Description, start.UTC(), time.Since(start).Nanoseconds()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Info("migration applied", "version", migration.Version, "duration", time.Since(start))
	return nil
}

// barTableDDL returns the CREATE TABLE statement for one timeframe. The
// primary key enforces one bar per (symbol, timestamp).
func barTableDDL(tf models.Timeframe) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol VARCHAR NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			open DOUBLE NOT NULL,
			high DOUBLE NOT NULL,
			low DOUBLE NOT NULL,
			close DOUBLE NOT NULL,
			volume BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (symbol, ts),
			CHECK (open > 0 AND high > 0 AND low > 0 AND close > 0),
			CHECK (volume >= 0)
		)`, tf.TableName())
}

const (
	instrumentsDDL = `
		CREATE TABLE IF NOT EXISTS instruments (
			symbol VARCHAR PRIMARY KEY,
			exchange VARCHAR,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`

	unobtainableDDL = `
		CREATE TABLE IF NOT EXISTS unobtainable_ranges (
			symbol VARCHAR NOT NULL,
			timeframe VARCHAR NOT NULL,
			start_ts TIMESTAMPTZ NOT NULL,
			end_ts TIMESTAMPTZ NOT NULL,
			reason VARCHAR NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (symbol, timeframe, start_ts, end_ts),
			CHECK (end_ts >= start_ts)
		)`

	// stagingDDL holds appender batches before they are merged with
	// ON CONFLICT DO NOTHING.
	stagingDDL = `
		CREATE TABLE IF NOT EXISTS bars_staging (
			symbol VARCHAR NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			open DOUBLE NOT NULL,
			high DOUBLE NOT NULL,
			low DOUBLE NOT NULL,
			close DOUBLE NOT NULL,
			volume BIGINT NOT NULL
		)`
)

func execAll(ctx context.Context, tx *sql.Tx, statements ...string) error {
	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d (%s): %w", i, summarize(stmt), err)
		}
	}
	return nil
}

// summarize collapses whitespace and shortens a statement for error messages.
func summarize(stmt string) string {
	s := strings.Join(strings.Fields(stmt), " ")
	if len(s) > 48 {
		return s[:48] + "..."
	}
	return s
}

func schemaMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create instruments and per-timeframe bar tables",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				stmts := []string{instrumentsDDL}
				for _, tf := range models.AllTimeframes {
					stmts = append(stmts, barTableDDL(tf))
				}
				return execAll(ctx, tx, stmts...)
			},
		},
		{
			Version:     2,
			Description: "create unobtainable_ranges",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				return execAll(ctx, tx, unobtainableDDL)
			},
		},
		{
			Version:     3,
			Description: "create bars_staging for appender merges",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				return execAll(ctx, tx, stagingDDL)
			},
		},
	}
}
