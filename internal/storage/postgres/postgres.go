// Package postgres provides the PostgreSQL-backed implementation of the
// Meetscribe storage interfaces.
//
// All stores share a single [pgxpool.Pool]. Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	tenant, err := store.ResolveToken(ctx, token)
//	meeting, err := store.CreateMeeting(ctx, m)
//	n, err := store.InsertSegments(ctx, segs)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/storage"
)

// Schema is the SQL DDL for the core tables. Execute it via [Store.Migrate]
// or apply it manually during deployment. users and api_tokens rows are
// written by the admin surface; the core only reads them, but the tables are
// created here so a fresh database serves immediately.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id         BIGSERIAL    PRIMARY KEY,
    email      VARCHAR(255) NOT NULL UNIQUE,
    name       VARCHAR(100) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_tokens (
    id         BIGSERIAL    PRIMARY KEY,
    token      VARCHAR(255) NOT NULL UNIQUE,
    user_id    BIGINT       NOT NULL REFERENCES users(id),
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_api_tokens_token ON api_tokens (token);

CREATE TABLE IF NOT EXISTS meetings (
    id                   BIGSERIAL    PRIMARY KEY,
    user_id              BIGINT       NOT NULL REFERENCES users(id),
    platform             VARCHAR(100) NOT NULL,
    platform_specific_id VARCHAR(255) NOT NULL,
    meeting_url          TEXT         NOT NULL DEFAULT '',
    status               VARCHAR(20)  NOT NULL DEFAULT 'requested',
    created_at           TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_meetings_lookup
    ON meetings (user_id, platform, platform_specific_id, created_at DESC);

CREATE TABLE IF NOT EXISTS transcriptions (
    id         BIGSERIAL        PRIMARY KEY,
    meeting_id BIGINT           NOT NULL REFERENCES meetings(id),
    start_time DOUBLE PRECISION NOT NULL,
    end_time   DOUBLE PRECISION NOT NULL,
    text       TEXT             NOT NULL,
    language   VARCHAR(10)      NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
    UNIQUE (meeting_id, start_time, end_time)
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_meeting
    ON transcriptions (meeting_id, start_time);
`

// DB is the database interface used by [Store]. *pgxpool.Pool satisfies it;
// tests substitute a fake.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Compile-time interface checks.
var (
	_ storage.TokenResolver   = (*Store)(nil)
	_ storage.MeetingStore    = (*Store)(nil)
	_ storage.TranscriptStore = (*Store)(nil)
)

// Store implements the storage interfaces on PostgreSQL. All methods are safe
// for concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool // nil when constructed via NewWithDB
}

// NewStore connects a pool to the database at dsn, pings it, and runs
// [Store.Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w: %w", err, apperr.ErrStoreUnavailable)
	}

	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection or pool. The caller is responsible
// for migration and cleanup. Used by tests.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL, creating tables and indexes if they do
// not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Ping checks database reachability. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool, when the Store
// owns one.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// storeErr wraps a database failure as a transient backing-store condition so
// callers can match on [apperr.ErrStoreUnavailable].
func storeErr(op string, err error) error {
	return fmt.Errorf("postgres: %s: %w: %w", op, err, apperr.ErrStoreUnavailable)
}
