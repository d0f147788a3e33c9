package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the session_settings table. Execute it via
// [PostgresBackend.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS session_settings (
    session_id TEXT PRIMARY KEY,
    fields     JSONB NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresBackend]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	_ Backend = (*PostgresBackend)(nil)
	_ Pinger  = (*PostgresBackend)(nil)
)

// PostgresBackend persists records as JSONB rows.
type PostgresBackend struct {
	db   DB
	pool *pgxpool.Pool
}

// NewPostgresBackend wraps an existing connection or pool. The caller owns
// db and is responsible for calling [PostgresBackend.Migrate].
func NewPostgresBackend(db DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// OpenPostgres connects a pool to dsn, verifies connectivity, and migrates
// the schema. Close releases the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("settings: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("settings: ping postgres: %w", err)
	}
	b := &PostgresBackend{db: pool, pool: pool}
	if err := b.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// Migrate executes the [Schema] DDL.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("settings: migrate: %w", err)
	}
	return nil
}

// Load implements [Backend]. A row whose JSON cannot be decoded is reported
// as not found so the store rewrites it with defaults.
func (b *PostgresBackend) Load(ctx context.Context, sessionID string) (Fields, bool, error) {
	const query = `SELECT fields FROM session_settings WHERE session_id = $1`

	var raw []byte
	err := b.db.QueryRow(ctx, query, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("settings: query: %w", err)
	}

	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		slog.Warn("settings: undecodable postgres record", "session", sessionID, "err", err)
		return nil, false, nil
	}
	return f, true, nil
}

// Save implements [Backend] with an upsert.
func (b *PostgresBackend) Save(ctx context.Context, sessionID string, f Fields) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("settings: marshal fields: %w", err)
	}
	const query = `
		INSERT INTO session_settings (session_id, fields, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE
		SET fields = EXCLUDED.fields, updated_at = now()`
	if _, err := b.db.Exec(ctx, query, sessionID, data); err != nil {
		return fmt.Errorf("settings: upsert: %w", err)
	}
	return nil
}

// Delete implements [Backend].
func (b *PostgresBackend) Delete(ctx context.Context, sessionID string) error {
	const query = `DELETE FROM session_settings WHERE session_id = $1`
	if _, err := b.db.Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("settings: delete: %w", err)
	}
	return nil
}

// Ping runs a trivial query to confirm the database answers.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	var one int
	if err := b.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("settings: ping: %w", err)
	}
	return nil
}

// Close releases the pool opened by [OpenPostgres]. It is a no-op for
// backends built with [NewPostgresBackend].
func (b *PostgresBackend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}
