package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"livestock-cloud/internal/geofence"
	tracking "livestock-cloud/internal/tracking/domain"
)

const (
	defaultFarmsTable   = "farms"
	defaultCollarsTable = "collars"
)

// FarmRepository is a Postgres implementation for farms and collars.
type FarmRepository struct {
	db           DBTX
	farmsTable   string
	collarsTable string
}

// FarmOption configures the repository.
type FarmOption func(*FarmRepository)

// WithFarmTables overrides the default table names.
func WithFarmTables(farms, collars string) FarmOption {
	return func(repo *FarmRepository) {
		if farms != "" {
			repo.farmsTable = farms
		}
		if collars != "" {
			repo.collarsTable = collars
		}
	}
}

// NewFarmRepository constructs a repository.
func NewFarmRepository(db DBTX, opts ...FarmOption) *FarmRepository {
	repo := &FarmRepository{db: db, farmsTable: defaultFarmsTable, collarsTable: defaultCollarsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ListFarms returns every farm ordered by id.
func (r *FarmRepository) ListFarms(ctx context.Context) ([]tracking.Farm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("farm repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, name, center_lat, center_lon, radius_m, collar_ids, created_at, updated_at
FROM %s
ORDER BY id`, r.farmsTable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracking.Farm
	for rows.Next() {
		farm, err := scanFarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *farm)
	}
	return out, rows.Err()
}

// GetFarm loads a farm by id, nil when absent.
func (r *FarmRepository) GetFarm(ctx context.Context, id string) (*tracking.Farm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("farm repo: nil db")
	}
	if id == "" {
		return nil, errors.New("farm repo: empty id")
	}
	query := fmt.Sprintf(`
SELECT id, name, center_lat, center_lon, radius_m, collar_ids, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.farmsTable)

	farm, err := scanFarm(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return farm, nil
}

// SaveFarm upserts a farm with its boundary and collar list.
func (r *FarmRepository) SaveFarm(ctx context.Context, farm *tracking.Farm) error {
	if r == nil || r.db == nil {
		return errors.New("farm repo: nil db")
	}
	if farm == nil || farm.ID == "" {
		return errors.New("farm repo: nil farm")
	}
	collarIDs := farm.CollarIDs
	if collarIDs == nil {
		collarIDs = []string{}
	}
	collarJSON, err := json.Marshal(collarIDs)
	if err != nil {
		return err
	}
	var lat, lon, radius sql.NullFloat64
	if farm.Geofence != nil {
		lat = sql.NullFloat64{Float64: farm.Geofence.Center.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: farm.Geofence.Center.Longitude, Valid: true}
		radius = sql.NullFloat64{Float64: farm.Geofence.RadiusMeters, Valid: true}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	name,
	center_lat,
	center_lon,
	radius_m,
	collar_ids,
	created_at,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($8, NOW())
)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	center_lat = EXCLUDED.center_lat,
	center_lon = EXCLUDED.center_lon,
	radius_m = EXCLUDED.radius_m,
	collar_ids = EXCLUDED.collar_ids,
	updated_at = EXCLUDED.updated_at`, r.farmsTable)

	_, err = r.db.ExecContext(
		ctx,
		query,
		farm.ID,
		farm.Name,
		lat,
		lon,
		radius,
		string(collarJSON),
		nullTime(farm.CreatedAt),
		nullTime(farm.UpdatedAt),
	)
	return err
}

// GetCollar loads a collar, nil when absent.
func (r *FarmRepository) GetCollar(ctx context.Context, id string) (*tracking.Collar, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("farm repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, assigned_farm_id, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.collarsTable)

	collar, err := scanCollar(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return collar, nil
}

// SaveCollar upserts a collar and its farm assignment.
func (r *FarmRepository) SaveCollar(ctx context.Context, collar *tracking.Collar) error {
	if r == nil || r.db == nil {
		return errors.New("farm repo: nil db")
	}
	if collar == nil || collar.ID == "" {
		return errors.New("farm repo: nil collar")
	}
	var assigned sql.NullString
	if collar.AssignedFarmID != "" {
		assigned = sql.NullString{String: collar.AssignedFarmID, Valid: true}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, assigned_farm_id, updated_at)
VALUES ($1, $2, COALESCE($3, NOW()))
ON CONFLICT (id)
DO UPDATE SET
	assigned_farm_id = EXCLUDED.assigned_farm_id,
	updated_at = EXCLUDED.updated_at`, r.collarsTable)

	_, err := r.db.ExecContext(ctx, query, collar.ID, assigned, nullTime(collar.UpdatedAt))
	return err
}

// ListCollars returns every registered collar ordered by id.
func (r *FarmRepository) ListCollars(ctx context.Context) ([]tracking.Collar, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("farm repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, assigned_farm_id, updated_at
FROM %s
ORDER BY id`, r.collarsTable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracking.Collar
	for rows.Next() {
		collar, err := scanCollar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *collar)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFarm(row rowScanner) (*tracking.Farm, error) {
	var (
		farm           tracking.Farm
		lat, lon, rad  sql.NullFloat64
		collarIDsBytes []byte
	)
	if err := row.Scan(
		&farm.ID,
		&farm.Name,
		&lat,
		&lon,
		&rad,
		&collarIDsBytes,
		&farm.CreatedAt,
		&farm.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(collarIDsBytes) > 0 {
		if err := json.Unmarshal(collarIDsBytes, &farm.CollarIDs); err != nil {
			return nil, fmt.Errorf("farm repo: decode collar ids: %w", err)
		}
	}
	if lat.Valid && lon.Valid && rad.Valid {
		farm.Geofence = &geofence.Geofence{
			Center:       geofence.Point{Latitude: lat.Float64, Longitude: lon.Float64},
			RadiusMeters: rad.Float64,
		}
	}
	farm.CreatedAt = farm.CreatedAt.UTC()
	farm.UpdatedAt = farm.UpdatedAt.UTC()
	return &farm, nil
}

func scanCollar(row rowScanner) (*tracking.Collar, error) {
	var (
		collar   tracking.Collar
		assigned sql.NullString
	)
	if err := row.Scan(&collar.ID, &assigned, &collar.UpdatedAt); err != nil {
		return nil, err
	}
	collar.AssignedFarmID = assigned.String
	collar.UpdatedAt = collar.UpdatedAt.UTC()
	return &collar, nil
}
