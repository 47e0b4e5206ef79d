package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS farms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	center_lat DOUBLE PRECISION,
	center_lon DOUBLE PRECISION,
	radius_m DOUBLE PRECISION,
	collar_ids JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS collars (
	id TEXT PRIMARY KEY,
	assigned_farm_id TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	farm_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	priority TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	animal_id TEXT NOT NULL,
	read BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	read_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_farm_created ON notifications (farm_id, created_at DESC)`,
}

// EnsureSchema creates the tracking tables when missing.
func EnsureSchema(ctx context.Context, db DBTX) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("tracking schema: %w", err)
		}
	}
	return nil
}
