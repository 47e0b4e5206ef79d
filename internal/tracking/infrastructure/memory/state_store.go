package memory

import (
	"context"
	"sync"
	"time"

	"livestock-cloud/internal/geofence"
	tracking "livestock-cloud/internal/tracking/domain"
	"livestock-cloud/internal/tracking/infrastructure/statekey"
)

// StateStore keeps collar state in process memory. Values are stored in the
// same JSON encoding as the durable backends.
type StateStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	now    func() time.Time
}

// NewStateStore constructs an empty store.
func NewStateStore() *StateStore {
	return &StateStore{
		values: make(map[string][]byte),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetConnectivity implements application.StateStore.
func (s *StateStore) GetConnectivity(_ context.Context, collarID string) (*tracking.ConnectivityRecord, error) {
	raw, ok := s.get(statekey.Connectivity(collarID))
	if !ok {
		return nil, nil
	}
	return statekey.DecodeConnectivity(raw)
}

// SetConnectivity implements application.StateStore.
func (s *StateStore) SetConnectivity(_ context.Context, collarID string, state tracking.ConnectivityState, reason tracking.ReasonCode) error {
	raw, err := statekey.EncodeConnectivity(state, reason, s.now())
	if err != nil {
		return err
	}
	s.put(statekey.Connectivity(collarID), raw)
	return nil
}

// GetGeofenceState implements application.StateStore.
func (s *StateStore) GetGeofenceState(_ context.Context, collarID string) (geofence.Zone, bool, error) {
	raw, ok := s.get(statekey.Geofence(collarID))
	if !ok {
		return geofence.ZoneUnknown, false, nil
	}
	return statekey.DecodeGeofence(raw)
}

// SetGeofenceState implements application.StateStore.
func (s *StateStore) SetGeofenceState(_ context.Context, collarID string, zone geofence.Zone) error {
	raw, err := statekey.EncodeGeofence(zone, s.now())
	if err != nil {
		return err
	}
	s.put(statekey.Geofence(collarID), raw)
	return nil
}

// Forget implements application.StateStore.
func (s *StateStore) Forget(_ context.Context, collarID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, statekey.Connectivity(collarID))
	delete(s.values, statekey.Geofence(collarID))
	return nil
}

// Len returns the number of stored keys.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func (s *StateStore) get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.values[key]
	return raw, ok
}

func (s *StateStore) put(key string, raw []byte) {
	s.mu.Lock()
	s.values[key] = raw
	s.mu.Unlock()
}
