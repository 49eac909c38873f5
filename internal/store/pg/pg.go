// Package pg implements store.Store against Postgres with the pgvector
// extension, modeled on internal/store/pg's original package (pgx/v5
// pool, one struct per store) but reshaped around per-row Message storage
// instead of a single JSON blob per session, and a real vector column for
// Memory instead of an application-side cosine loop.
package pg

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syneagent/syne/internal/providers"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PoolConfig sizes the connection pool: min 2 / max 10 by default, matching
// the concurrency profile of a single-process agent with a handful of
// simultaneously active chats plus the scheduler and any sub-agent runs.
type PoolConfig struct {
	DSN      string
	MinConns int32
	MaxConns int32
}

// DefaultPoolConfig returns the standard min/max pool sizing.
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{DSN: dsn, MinConns: 2, MaxConns: 10}
}

// Store is the Postgres-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
	tx   pgx.Tx // non-nil when this Store value is scoped to WithTx
}

// Open creates the pgx pool and runs pending migrations.
func Open(ctx context.Context, cfg PoolConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// dbtx is the subset of *pgxpool.Pool and pgx.Tx every query method needs.
// Store methods call s.db() instead of s.pool directly so the same code
// path works whether or not we're inside WithTx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) db() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.pool
}

// Migrate applies every pending migration. Re-running it is always safe:
// golang-migrate tracks applied versions in schema_migrations and is a
// no-op once the schema is current, so callers never need hand-written
// existence checks around each CREATE TABLE.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// wrapErr classifies a raw pgx/pgxpool error into the shared provider-style
// ErrorKind vocabulary. A context deadline (e.g. an acquire timeout) or
// pgxpool.ErrInvalidPoolConfig becomes ErrPoolExhausted; every other error
// passes through unwrapped for the caller's own handling.
func wrapErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, pgxpool.ErrInvalidPoolConfig) {
		return providers.NewError(providers.ErrPoolExhausted, provider, "", err)
	}
	return err
}
