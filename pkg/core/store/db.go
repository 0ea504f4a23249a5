// Package store owns persistence: the pgx connection pool, schema
// migrations, the single-writer transaction discipline, and the audit log.
// Services never open transactions themselves; they receive an open handle
// from WithTx and compose.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/models"
)

// DB is the query surface shared by the pool and an open transaction.
// Both *pgxpool.Pool and pgx.Tx satisfy it, so repository code composes
// inside or outside a transaction unchanged.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps the connection pool. Only one write transaction runs at a
// time; reads bypass the write lock.
type Store struct {
	pool    *pgxpool.Pool
	writeMu sync.Mutex
	log     *logrus.Entry
}

// Open connects using the given URL, or DATABASE_URL when empty.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logrus.WithField("component", "store"),
	}, nil
}

// Pool exposes the underlying pool for read-only queries.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// WithTx runs fn inside a transaction under the write lock. The transaction
// is rolled back on error and on panic; panics are re-raised after rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WrapError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return WrapError(err)
	}
	return nil
}

// WrapError maps driver errors to the shared error kinds: unique-constraint
// violations become ErrDuplicateKey so callers can distinguish "already
// present" from a bug; everything else is an ErrStorage.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", models.ErrDuplicateKey, pgErr.ConstraintName)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return fmt.Errorf("%w: %v", models.ErrStorage, err)
}

// IsDuplicate reports whether err is a unique-constraint violation, wrapped
// or raw.
func IsDuplicate(err error) bool {
	if errors.Is(err, models.ErrDuplicateKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
