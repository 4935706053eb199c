// Package db is the storage gateway for expense records and the sync ledger.
//
// Two backends share one schema and one set of queries:
//
//   - SQLite (default): an embedded database file opened through the
//     ncruces/go-sqlite3 driver with WAL, a busy timeout and IMMEDIATE
//     transactions so concurrent batches for the same user serialize.
//   - PostgreSQL: any postgres:// or postgresql:// DSN, opened through the
//     pgx stdlib adapter.
//
// Timestamps are stored as fixed-width UTC text so that lexical order equals
// chronological order on both backends. Amounts are stored as canonical
// decimal text and summed in Go.
//
// Ownership-sensitive writes are single conditional statements
// (UPDATE ... WHERE id = ? AND user_id = ?), so there is no window between
// the ownership check and the mutation.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Dialect identifies the SQL backend behind a DB.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// timeLayout is fixed-width so that text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Options tunes the connection pool. Zero values keep the defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement the gateway runs. It is embedded in both DB
// and Tx so the same methods work inside and outside a transaction.
type queries struct {
	q       querier
	dialect Dialect
}

// DB wraps the database connection with expense and ledger queries.
type DB struct {
	queries
	conn *sql.DB
	dsn  string
}

// Tx is a storage transaction. It exposes the same queries as DB.
type Tx struct {
	queries
	tx *sql.Tx
}

// Open creates a new database connection for the DSN.
//
// A DSN beginning with postgres:// or postgresql:// opens PostgreSQL.
// Anything else is treated as a SQLite file path (an optional "file:" prefix
// is accepted); the parent directory is created if needed.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	database, err := db.Open("data/expsync.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(dsn string) (*DB, error) {
	return OpenWithOptions(dsn, Options{})
}

// OpenWithOptions is Open with explicit pool settings.
func OpenWithOptions(dsn string, opts Options) (*DB, error) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	var (
		conn    *sql.DB
		dialect Dialect
		err     error
	)
	switch {
	case isPostgresDSN(dsn):
		dialect = Postgres
		conn, err = openPostgres(dsn)
	case strings.Contains(dsn, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDSN, redactDSN(dsn))
	default:
		dialect = SQLite
		conn, err = openSQLite(dsn, opts.BusyTimeout)
	}
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(opts.MaxOpenConns)
	conn.SetMaxIdleConns(opts.MaxIdleConns)
	conn.SetConnMaxLifetime(opts.ConnMaxLifetime)

	return &DB{
		queries: queries{q: conn, dialect: dialect},
		conn:    conn,
		dsn:     dsn,
	}, nil
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func openPostgres(dsn string) (*sql.DB, error) {
	// pgx accepts both schemes; sslmode defaults to disable for local setups.
	if strings.HasPrefix(dsn, "postgresql://") {
		dsn = "postgres://" + strings.TrimPrefix(dsn, "postgresql://")
	}
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}

	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	return stdlib.OpenDB(*config), nil
}

func openSQLite(dsn string, busyTimeout time.Duration) (*sql.DB, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	params := url.Values{}
	params.Add("_pragma", "busy_timeout("+strconv.FormatInt(busyTimeout.Milliseconds(), 10)+")")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(wal)")
	params.Set("_txlock", "immediate")

	conn, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return conn, nil
}

// redactDSN strips credentials before a DSN is logged or returned in an error.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

// Dialect reports which backend the connection uses.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// String returns the DSN with credentials redacted.
func (db *DB) String() string {
	return redactDSN(db.dsn)
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the database connection.
// On SQLite the WAL is checkpointed first.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if db.dialect == SQLite {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		amount TEXT NOT NULL,
		category TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		date TEXT NOT NULL,
		description TEXT,
		user_id TEXT NOT NULL,
		synced_at TEXT,   -- NULL until confirmed by a sync
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only ledger of applied sync operations
	CREATE TABLE IF NOT EXISTS sync_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_user_date ON expenses(user_id, date);
	CREATE INDEX IF NOT EXISTS idx_expenses_user_updated ON expenses(user_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_expenses_user_category ON expenses(user_id, category);
	CREATE INDEX IF NOT EXISTS idx_sync_logs_user_timestamp ON sync_logs(user_id, timestamp);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{queries: queries{q: sqlTx, dialect: db.dialect}, tx: sqlTx}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (q queries) rebind(query string) string {
	if q.dialect != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.rebind(query), args...)
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, q.rebind(query), args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.rebind(query), args...)
}

// formatTime renders t in the stored text layout.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func stringToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}
