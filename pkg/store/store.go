// Package store persists profiles, links, ingestion jobs and scraper
// configuration in SQL. SQLite (modernc.org/sqlite) is the default engine;
// PostgreSQL is supported through lib/pq. Queries are written with "?"
// placeholders and rebound for the active driver.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	sqlitePragmas   = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	pingTimeout     = 5 * time.Second
	postgresMaxOpen = 10
)

// queries holds the statements shared by Store and Tx.
type queries struct {
	q   sqlx.ExtContext
	now func() time.Time
}

// Store is a handle to the database.
type Store struct {
	queries

	db     *sqlx.DB
	logger *slog.Logger
}

// Tx is a write transaction opened by Store.WithTx.
type Tx struct {
	queries

	tx *sqlx.Tx
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides time.Now for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to the database and verifies the connection.
// For SQLite the DSN is a file path, optionally with query parameters.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqlitePragmas
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection keeps transactions from contending.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(postgresMaxOpen)
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	s.q = db
	s.now = time.Now
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction, committing when fn returns nil.
// The transaction is detached from ctx cancellation: once begun it runs to
// completion so a merge is never abandoned halfway.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &Tx{queries: queries{q: sqlTx, now: s.now}, tx: sqlTx}

	if err := fn(ctx, tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.WarnContext(ctx, "rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.q.ExecContext(ctx, q.q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// execOne runs an update that must touch exactly one row.
func (q *queries) execOne(ctx context.Context, what, query string, args ...any) error {
	n, err := q.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.q, dest, q.q.Rebind(query), args...)
}

func (q *queries) sel(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.q, dest, q.q.Rebind(query), args...)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
