package memory

import (
	"context"
	"sort"
	"sync"

	tracking "livestock-cloud/internal/tracking/domain"
)

// FarmRepository is an in-memory farm and collar registry for demo/testing.
type FarmRepository struct {
	mu      sync.RWMutex
	farms   map[string]tracking.Farm
	collars map[string]tracking.Collar
}

// NewFarmRepository constructs a repository seeded with farms. Collars listed
// by a seed farm are registered and assigned to it.
func NewFarmRepository(seed ...tracking.Farm) *FarmRepository {
	r := &FarmRepository{
		farms:   make(map[string]tracking.Farm),
		collars: make(map[string]tracking.Collar),
	}
	for _, farm := range seed {
		r.farms[farm.ID] = cloneFarm(farm)
		for _, id := range farm.CollarIDs {
			r.collars[id] = tracking.Collar{ID: id, AssignedFarmID: farm.ID, UpdatedAt: farm.UpdatedAt}
		}
	}
	return r
}

// ListFarms returns farms ordered by id.
func (r *FarmRepository) ListFarms(_ context.Context) ([]tracking.Farm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tracking.Farm, 0, len(r.farms))
	for _, farm := range r.farms {
		out = append(out, cloneFarm(farm))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetFarm loads a farm, nil when absent.
func (r *FarmRepository) GetFarm(_ context.Context, id string) (*tracking.Farm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	farm, ok := r.farms[id]
	if !ok {
		return nil, nil
	}
	out := cloneFarm(farm)
	return &out, nil
}

// SaveFarm upserts a farm.
func (r *FarmRepository) SaveFarm(_ context.Context, farm *tracking.Farm) error {
	if farm == nil {
		return nil
	}
	r.mu.Lock()
	r.farms[farm.ID] = cloneFarm(*farm)
	r.mu.Unlock()
	return nil
}

// GetCollar loads a collar, nil when absent.
func (r *FarmRepository) GetCollar(_ context.Context, id string) (*tracking.Collar, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	collar, ok := r.collars[id]
	if !ok {
		return nil, nil
	}
	return &collar, nil
}

// SaveCollar upserts a collar.
func (r *FarmRepository) SaveCollar(_ context.Context, collar *tracking.Collar) error {
	if collar == nil {
		return nil
	}
	r.mu.Lock()
	r.collars[collar.ID] = *collar
	r.mu.Unlock()
	return nil
}

// ListCollars returns collars ordered by id.
func (r *FarmRepository) ListCollars(_ context.Context) ([]tracking.Collar, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tracking.Collar, 0, len(r.collars))
	for _, collar := range r.collars {
		out = append(out, collar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneFarm(farm tracking.Farm) tracking.Farm {
	out := farm
	if farm.Geofence != nil {
		fence := *farm.Geofence
		out.Geofence = &fence
	}
	out.CollarIDs = append([]string(nil), farm.CollarIDs...)
	return out
}
