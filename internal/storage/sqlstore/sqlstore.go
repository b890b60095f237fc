// Package sqlstore implements the record store contract on database/sql.
//
// The default driver is the embedded sqlite3 engine; deployments may point
// the local engine at Postgres by selecting the pgx stdlib driver instead.
// All SQL is written once against both dialects: parameters are $N (valid for
// SQLite and Postgres), each used exactly once in order.
//
// Updates run inside a single SQL transaction, so single-record updates are
// linearizable and index reads reflect all committed writes.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store provides SQL-backed persistence for all four entity kinds.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects using the given driver ("sqlite3" or "pgx") and DSN, and
// ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver == "sqlite3" && !strings.Contains(dsn, ":memory:") {
		// Take the write lock at BEGIN and wait on it instead of failing fast
		// with SQLITE_BUSY, so concurrent read-modify-write transactions
		// serialize rather than deadlock on a lock upgrade.
		if !strings.Contains(dsn, "_busy_timeout") {
			dsn = appendParam(dsn, "_busy_timeout=5000")
		}
		if !strings.Contains(dsn, "_txlock") {
			dsn = appendParam(dsn, "_txlock=immediate")
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func appendParam(dsn, param string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + param
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			balance TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			transaction_id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			target_account_id TEXT,
			transaction_type TEXT NOT NULL,
			amount TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			fraud_flag BOOLEAN NOT NULL DEFAULT FALSE,
			description TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			notification_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			category TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			read_flag BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS accounts_user_idx ON accounts (user_id)`,
		`CREATE INDEX IF NOT EXISTS transactions_account_ts_idx ON transactions (account_id, ts)`,
		`CREATE INDEX IF NOT EXISTS transactions_target_idx ON transactions (target_account_id)`,
		`CREATE INDEX IF NOT EXISTS notifications_user_idx ON notifications (user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}

// forUpdate returns the row-lock clause for dialects that need one. SQLite
// serializes writers at the database level, so the clause is empty there.
func (s *Store) forUpdate() string {
	if s.driver == "pgx" {
		return " FOR UPDATE"
	}
	return ""
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func decimalFromString(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt decimal column %q: %w", value, err)
	}
	return d, nil
}

// mapErr translates driver failures onto the domain taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrConflict
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return domain.ErrConflict
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
	}
	return err
}
