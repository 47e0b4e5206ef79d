package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	telemetry "livestock-cloud/internal/telemetry/domain"
)

const (
	defaultSensorTable = "sensor_feeds"
	defaultSensorLimit = 50
	maxSensorLimit     = 1000
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SensorRepository is a Postgres implementation of the sensor feed archive.
type SensorRepository struct {
	db    DBTX
	table string
}

// SensorOption configures the repository.
type SensorOption func(*SensorRepository)

// WithSensorTable overrides the default table name.
func WithSensorTable(table string) SensorOption {
	return func(repo *SensorRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewSensorRepository constructs a repository.
func NewSensorRepository(db DBTX, opts ...SensorOption) *SensorRepository {
	repo := &SensorRepository{db: db, table: defaultSensorTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// EnsureSchema creates the archive table when missing.
func (r *SensorRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	collar_id TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	accel_x DOUBLE PRECISION,
	accel_y DOUBLE PRECISION,
	accel_z DOUBLE PRECISION,
	gyro_x DOUBLE PRECISION,
	gyro_y DOUBLE PRECISION,
	gyro_z DOUBLE PRECISION,
	behaviour TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_collar_created ON %s (collar_id, created_at DESC)`, r.table, r.table),
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sensor schema: %w", err)
		}
	}
	return nil
}

// Insert stores a sample, assigning an id and created_at when missing.
func (r *SensorRepository) Insert(ctx context.Context, feed *telemetry.SensorFeed) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	if feed == nil {
		return errors.New("sensor repo: nil feed")
	}
	if feed.CollarID == "" {
		return errors.New("sensor repo: collar_id required")
	}
	if feed.ID == "" {
		feed.ID = uuid.NewString()
	}
	if feed.CreatedAt.IsZero() {
		feed.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	collar_id,
	location,
	accel_x,
	accel_y,
	accel_z,
	gyro_x,
	gyro_y,
	gyro_z,
	behaviour,
	status,
	created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
)`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		feed.ID,
		feed.CollarID,
		feed.Location,
		nullFloat(feed.AccelX),
		nullFloat(feed.AccelY),
		nullFloat(feed.AccelZ),
		nullFloat(feed.GyroX),
		nullFloat(feed.GyroY),
		nullFloat(feed.GyroZ),
		feed.Behaviour,
		feed.Status,
		feed.CreatedAt.UTC(),
	)
	return err
}

// List returns samples newest first, optionally for one collar.
func (r *SensorRepository) List(ctx context.Context, collarID string, limit int) ([]telemetry.SensorFeed, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensor repo: nil db")
	}
	limit = clampLimit(limit)

	query := fmt.Sprintf(`
SELECT id, collar_id, location, accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z, behaviour, status, created_at
FROM %s`, r.table)
	args := []any{}
	if collarID != "" {
		args = append(args, collarID)
		query += "\nWHERE collar_id = $1"
	}
	args = append(args, limit)
	query += fmt.Sprintf("\nORDER BY created_at DESC\nLIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.SensorFeed
	for rows.Next() {
		var (
			feed                   telemetry.SensorFeed
			ax, ay, az, gx, gy, gz sql.NullFloat64
		)
		if err := rows.Scan(
			&feed.ID,
			&feed.CollarID,
			&feed.Location,
			&ax, &ay, &az,
			&gx, &gy, &gz,
			&feed.Behaviour,
			&feed.Status,
			&feed.CreatedAt,
		); err != nil {
			return nil, err
		}
		feed.AccelX, feed.AccelY, feed.AccelZ = floatPtr(ax), floatPtr(ay), floatPtr(az)
		feed.GyroX, feed.GyroY, feed.GyroZ = floatPtr(gx), floatPtr(gy), floatPtr(gz)
		feed.CreatedAt = feed.CreatedAt.UTC()
		out = append(out, feed)
	}
	return out, rows.Err()
}

// Delete removes a sample and reports whether it existed.
func (r *SensorRepository) Delete(ctx context.Context, id string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("sensor repo: nil db")
	}
	if id == "" {
		return false, errors.New("sensor repo: empty id")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table), id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FeedSource serves the archive in the upstream feed shape so the tracking
// engine can run without the hosted telemetry channel.
type FeedSource struct {
	repo  telemetry.SensorRepository
	limit int
}

// NewFeedSource constructs an archive feed source returning up to limit samples.
func NewFeedSource(repo telemetry.SensorRepository, limit int) *FeedSource {
	return &FeedSource{repo: repo, limit: limit}
}

// FetchFeeds implements the tracking feed source.
func (s *FeedSource) FetchFeeds(ctx context.Context) ([]telemetry.RawFeed, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("sensor feed source: nil repository")
	}
	feeds, err := s.repo.List(ctx, "", s.limit)
	if err != nil {
		return nil, err
	}
	out := make([]telemetry.RawFeed, 0, len(feeds))
	for i := len(feeds) - 1; i >= 0; i-- {
		out = append(out, feeds[i].ToRawFeed())
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSensorLimit
	}
	if limit > maxSensorLimit {
		return maxSensorLimit
	}
	return limit
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	out := v.Float64
	return &out
}
