package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables and indexes if needed. Having the
// migration in code keeps the stack self-contained so docker-compose can
// bootstrap everything.
//
// The partial unique index on (user_id, display_name) WHERE NOT is_deleted
// is the backing constraint for name uniqueness among active records; the
// store relies on it instead of check-then-insert.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS file_records (
	internal_name TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	display_name TEXT NOT NULL,
	original_name TEXT NOT NULL,
	size BIGINT NOT NULL,
	mime_type TEXT NOT NULL,
	checksum TEXT NOT NULL DEFAULT '',
	version INT NOT NULL DEFAULT 1,
	visibility TEXT NOT NULL DEFAULT 'private',
	share_token TEXT NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at TIMESTAMPTZ,
	recycle_expires_at TIMESTAMPTZ,
	uploaded_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_file_records_active_name
	ON file_records(user_id, display_name) WHERE NOT is_deleted;
CREATE UNIQUE INDEX IF NOT EXISTS idx_file_records_share_token
	ON file_records(share_token);
CREATE INDEX IF NOT EXISTS idx_file_records_expiry
	ON file_records(recycle_expires_at) WHERE is_deleted;
CREATE TABLE IF NOT EXISTS backup_snapshots (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	display_name TEXT NOT NULL,
	source_internal_name TEXT NOT NULL,
	backup_object TEXT NOT NULL,
	original_uploaded_at TIMESTAMPTZ NOT NULL,
	original_size BIGINT NOT NULL,
	original_mime TEXT NOT NULL,
	version INT NOT NULL,
	reason TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backup_snapshots_user ON backup_snapshots(user_id);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
