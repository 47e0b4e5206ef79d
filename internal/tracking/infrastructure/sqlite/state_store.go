package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"livestock-cloud/internal/geofence"
	tracking "livestock-cloud/internal/tracking/domain"
	"livestock-cloud/internal/tracking/infrastructure/statekey"
)

// StateStore persists collar state in a local SQLite file.
type StateStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open initializes the database file, creating directories as needed, and
// ensures the schema exists.
func Open(ctx context.Context, path string) (*StateStore, error) {
	if path == "" {
		return nil, errors.New("sqlite state store: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	store := &StateStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *StateStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle.
func (s *StateStore) DB() *sql.DB {
	return s.db
}

// InitSchema ensures the state table exists.
func (s *StateStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS collar_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	);`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// GetConnectivity implements application.StateStore.
func (s *StateStore) GetConnectivity(ctx context.Context, collarID string) (*tracking.ConnectivityRecord, error) {
	raw, ok, err := s.get(ctx, statekey.Connectivity(collarID))
	if err != nil || !ok {
		return nil, err
	}
	return statekey.DecodeConnectivity(raw)
}

// SetConnectivity implements application.StateStore.
func (s *StateStore) SetConnectivity(ctx context.Context, collarID string, state tracking.ConnectivityState, reason tracking.ReasonCode) error {
	now := s.now()
	raw, err := statekey.EncodeConnectivity(state, reason, now)
	if err != nil {
		return err
	}
	return s.put(ctx, statekey.Connectivity(collarID), raw, now)
}

// GetGeofenceState implements application.StateStore.
func (s *StateStore) GetGeofenceState(ctx context.Context, collarID string) (geofence.Zone, bool, error) {
	raw, ok, err := s.get(ctx, statekey.Geofence(collarID))
	if err != nil || !ok {
		return geofence.ZoneUnknown, false, err
	}
	return statekey.DecodeGeofence(raw)
}

// SetGeofenceState implements application.StateStore.
func (s *StateStore) SetGeofenceState(ctx context.Context, collarID string, zone geofence.Zone) error {
	now := s.now()
	raw, err := statekey.EncodeGeofence(zone, now)
	if err != nil {
		return err
	}
	return s.put(ctx, statekey.Geofence(collarID), raw, now)
}

// Forget implements application.StateStore.
func (s *StateStore) Forget(ctx context.Context, collarID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM collar_state WHERE key IN (?, ?);`,
		statekey.Connectivity(collarID), statekey.Geofence(collarID))
	if err != nil {
		return fmt.Errorf("forget collar state: %w", err)
	}
	return nil
}

func (s *StateStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM collar_state WHERE key = ?;`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get collar state: %w", err)
	}
	return []byte(raw), true, nil
}

func (s *StateStore) put(ctx context.Context, key string, raw []byte, at time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO collar_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`,
		key,
		string(raw),
		at.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put collar state: %w", err)
	}
	return nil
}
