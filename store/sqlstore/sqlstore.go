// Package sqlstore implements store.Store on database/sql.
//
// SQLite (modernc.org/sqlite, pure Go) is the default backend; Postgres is
// reached through the pgx stdlib driver. Both share one portable schema.
//
// Writers on the same (project, key) are serialized: Postgres locks the
// project_items row with SELECT ... FOR UPDATE, SQLite starts every write
// transaction with BEGIN IMMEDIATE. A partial unique index on live
// allocations backs the one-vote-per-key invariant regardless of locking.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/blockberries/tallyberry/store"
)

// Compile-time contract assertion
var _ store.Store = (*Store)(nil)

// Config selects the backend.
type Config struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is a file path or file: URI for SQLite, a connection string for Postgres.
	DSN string
	// MaxOpenConns limits the pool; zero keeps the driver default.
	MaxOpenConns int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides the transaction clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the SQL backend.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     logrus.FieldLogger
	now     func() time.Time
}

// Open connects, applies the schema and returns a ready store.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if d.name == DriverSQLite {
		if dsn, err = sqliteDSN(cfg.DSN); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &Store{
		db:      db,
		dialect: d,
		log:     logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.WithField("driver", d.name).Info("store ready")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Update runs fn in a database transaction.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	t := &txn{
		reader: reader{ctx: ctx, q: sqlTx, d: s.dialect, lock: true},
		now:    s.now().UTC(),
	}
	if err = fn(t); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// View runs fn with plain reads outside any transaction.
func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) error {
	return fn(reader{ctx: ctx, q: s.db, d: s.dialect})
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the pool for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// mapError classifies driver errors into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(err.Error(), "UNIQUE") {
				return fmt.Errorf("%w: %w", store.ErrConflict, err)
			}
		}
		return err
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505", // unique_violation
			"40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57014": // query_canceled (statement_timeout)
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
	}
	return err
}
