package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	telemetry "livestock-cloud/internal/telemetry/domain"
)

const defaultSensorLimit = 50

// SensorRepository is an in-memory sensor feed archive for demo/testing.
type SensorRepository struct {
	mu    sync.RWMutex
	feeds map[string]telemetry.SensorFeed
}

// NewSensorRepository constructs an empty archive.
func NewSensorRepository() *SensorRepository {
	return &SensorRepository{feeds: make(map[string]telemetry.SensorFeed)}
}

// Insert stores a sample, assigning an id and created_at when missing.
func (r *SensorRepository) Insert(_ context.Context, feed *telemetry.SensorFeed) error {
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
	r.mu.Lock()
	r.feeds[feed.ID] = *feed
	r.mu.Unlock()
	return nil
}

// List returns samples newest first, optionally for one collar.
func (r *SensorRepository) List(_ context.Context, collarID string, limit int) ([]telemetry.SensorFeed, error) {
	if limit <= 0 {
		limit = defaultSensorLimit
	}
	r.mu.RLock()
	out := make([]telemetry.SensorFeed, 0, len(r.feeds))
	for _, feed := range r.feeds {
		if collarID != "" && feed.CollarID != collarID {
			continue
		}
		out = append(out, feed)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a sample and reports whether it existed.
func (r *SensorRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.feeds[id]; !ok {
		return false, nil
	}
	delete(r.feeds, id)
	return true, nil
}
