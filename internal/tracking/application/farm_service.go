package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"

	"livestock-cloud/internal/auth"
	tracking "livestock-cloud/internal/tracking/domain"
)

// FarmRepository persists farms and collar assignments.
type FarmRepository interface {
	ListFarms(ctx context.Context) ([]tracking.Farm, error)
	GetFarm(ctx context.Context, id string) (*tracking.Farm, error)
	SaveFarm(ctx context.Context, farm *tracking.Farm) error
	GetCollar(ctx context.Context, id string) (*tracking.Collar, error)
	SaveCollar(ctx context.Context, collar *tracking.Collar) error
	ListCollars(ctx context.Context) ([]tracking.Collar, error)
}

// FarmService manages farm boundaries and collar ownership.
type FarmService struct {
	farms  FarmRepository
	states StateStore
	feeds  FeedSource
	clock  Clock
	logger *log.Logger
}

// NewFarmService constructs a farm service. feeds may be nil when collar
// discovery is not needed.
func NewFarmService(farms FarmRepository, states StateStore, feeds FeedSource, logger *log.Logger) (*FarmService, error) {
	if farms == nil {
		return nil, errors.New("farm service: nil farm repository")
	}
	if states == nil {
		return nil, errors.New("farm service: nil state store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FarmService{farms: farms, states: states, feeds: feeds, clock: systemClock{}, logger: logger}, nil
}

// ListFarms implements FarmProvider.
func (s *FarmService) ListFarms(ctx context.Context) ([]tracking.Farm, error) {
	return s.farms.ListFarms(ctx)
}

// GetFarm loads a farm.
func (s *FarmService) GetFarm(ctx context.Context, id string) (*tracking.Farm, error) {
	if id == "" {
		return nil, errors.New("farm service: farm id required")
	}
	farm, err := s.farms.GetFarm(ctx, id)
	if err != nil {
		return nil, err
	}
	if farm == nil {
		return nil, tracking.ErrNotFound
	}
	return farm, nil
}

// SaveFarm creates or replaces a farm boundary and its collar list. Every
// listed collar must be registered; collars taken from another farm are
// detached from it first. A farm-scoped caller cannot take collars owned by
// another farm.
func (s *FarmService) SaveFarm(ctx context.Context, farm tracking.Farm) (*tracking.Farm, error) {
	if farm.Geofence != nil {
		if err := farm.Geofence.Validate(); err != nil {
			return nil, err
		}
	}
	if farm.ID == "" {
		farm.ID = newFarmID()
	}
	farm.CollarIDs = dedupe(farm.CollarIDs)

	var previous []string
	existing, err := s.farms.GetFarm(ctx, farm.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		previous = existing.CollarIDs
		farm.CreatedAt = existing.CreatedAt
	}

	for _, collarID := range farm.CollarIDs {
		if _, err := s.claimableCollar(ctx, collarID, farm.ID); err != nil {
			return nil, err
		}
	}
	for _, collarID := range farm.CollarIDs {
		if err := s.claimCollar(ctx, collarID, farm.ID); err != nil {
			return nil, err
		}
	}
	for _, collarID := range previous {
		if farm.Owns(collarID) {
			continue
		}
		if err := s.releaseCollar(ctx, collarID, farm.ID); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now().UTC()
	if farm.CreatedAt.IsZero() {
		farm.CreatedAt = now
	}
	farm.UpdatedAt = now
	if err := s.farms.SaveFarm(ctx, &farm); err != nil {
		return nil, err
	}
	return &farm, nil
}

// AssignCollar moves a collar to farmID. A collar belongs to at most one farm;
// a farm-scoped caller may only take unassigned collars or its own.
func (s *FarmService) AssignCollar(ctx context.Context, collarID, farmID string) (*tracking.Farm, error) {
	if collarID == "" || farmID == "" {
		return nil, errors.New("farm service: collar id and farm id required")
	}
	farm, err := s.GetFarm(ctx, farmID)
	if err != nil {
		return nil, err
	}
	if err := s.claimCollar(ctx, collarID, farmID); err != nil {
		return nil, err
	}
	if farm.Owns(collarID) {
		return farm, nil
	}
	farm.CollarIDs = append(farm.CollarIDs, collarID)
	farm.UpdatedAt = s.clock.Now().UTC()
	if err := s.farms.SaveFarm(ctx, farm); err != nil {
		return nil, err
	}
	return farm, nil
}

// RemoveCollar detaches a collar from farmID and forgets its tracked state.
func (s *FarmService) RemoveCollar(ctx context.Context, collarID, farmID string) (*tracking.Farm, error) {
	farm, err := s.GetFarm(ctx, farmID)
	if err != nil {
		return nil, err
	}
	if !farm.Owns(collarID) {
		return nil, tracking.ErrNotFound
	}
	farm.CollarIDs = without(farm.CollarIDs, collarID)
	farm.UpdatedAt = s.clock.Now().UTC()
	if err := s.farms.SaveFarm(ctx, farm); err != nil {
		return nil, err
	}
	if err := s.releaseCollar(ctx, collarID, farmID); err != nil {
		return nil, err
	}
	return farm, nil
}

// ListCollars returns registered collars.
func (s *FarmService) ListCollars(ctx context.Context) ([]tracking.Collar, error) {
	return s.farms.ListCollars(ctx)
}

// DiscoverCollars registers every collar id present on the telemetry feed
// and returns the ids seen.
func (s *FarmService) DiscoverCollars(ctx context.Context) ([]string, error) {
	if s.feeds == nil {
		return nil, errors.New("farm service: no feed source")
	}
	feeds, err := s.feeds.FetchFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	seen := make(map[string]struct{})
	for _, feed := range feeds {
		id := strings.TrimSpace(feed.Field2)
		if id == "" {
			continue
		}
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		existing, err := s.farms.GetCollar(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		if err := s.farms.SaveCollar(ctx, &tracking.Collar{ID: id, UpdatedAt: s.clock.Now().UTC()}); err != nil {
			return nil, err
		}
		s.logger.Printf("farm service: registered collar %s", id)
	}
	return ids, nil
}

// claimableCollar loads a collar and checks the caller's farm scope covers
// its current owner.
func (s *FarmService) claimableCollar(ctx context.Context, collarID, farmID string) (*tracking.Collar, error) {
	collar, err := s.farms.GetCollar(ctx, collarID)
	if err != nil {
		return nil, err
	}
	if collar == nil {
		return nil, fmt.Errorf("%w: %s", tracking.ErrUnknownCollar, collarID)
	}
	if owner := collar.AssignedFarmID; owner != "" && owner != farmID {
		if err := auth.EnsureFarm(ctx, owner); err != nil {
			return nil, fmt.Errorf("%w: collar %s belongs to another farm", err, collarID)
		}
	}
	return collar, nil
}

func (s *FarmService) claimCollar(ctx context.Context, collarID, farmID string) error {
	collar, err := s.claimableCollar(ctx, collarID, farmID)
	if err != nil {
		return err
	}
	prevFarmID := collar.AssignedFarmID
	if prevFarmID == farmID {
		return nil
	}
	if prevFarmID != "" {
		prev, err := s.farms.GetFarm(ctx, prevFarmID)
		if err != nil {
			return err
		}
		if prev != nil && prev.Owns(collarID) {
			prev.CollarIDs = without(prev.CollarIDs, collarID)
			prev.UpdatedAt = s.clock.Now().UTC()
			if err := s.farms.SaveFarm(ctx, prev); err != nil {
				return err
			}
		}
		if err := s.states.Forget(ctx, collarID); err != nil {
			s.logger.Printf("farm service: forget state error: collar=%s err=%v", collarID, err)
		}
	}
	collar.AssignedFarmID = farmID
	collar.UpdatedAt = s.clock.Now().UTC()
	return s.farms.SaveCollar(ctx, collar)
}

func (s *FarmService) releaseCollar(ctx context.Context, collarID, farmID string) error {
	collar, err := s.farms.GetCollar(ctx, collarID)
	if err != nil {
		return err
	}
	if collar != nil && collar.AssignedFarmID == farmID {
		collar.AssignedFarmID = ""
		collar.UpdatedAt = s.clock.Now().UTC()
		if err := s.farms.SaveCollar(ctx, collar); err != nil {
			return err
		}
	}
	if err := s.states.Forget(ctx, collarID); err != nil {
		s.logger.Printf("farm service: forget state error: collar=%s err=%v", collarID, err)
	}
	return nil
}

func newFarmID() string {
	return "farm-" + uuid.NewString()
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func without(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
