package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"livestock-cloud/internal/geofence"
	tracking "livestock-cloud/internal/tracking/domain"
	"livestock-cloud/internal/tracking/infrastructure/statekey"
)

// Options configures the redis state store.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// StateStore persists collar state in redis under "<prefix><kind>:<collarId>".
type StateStore struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// Open connects to redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*StateStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis state store: addr required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStateStore(client, opts.Prefix), nil
}

// NewStateStore wraps an existing client.
func NewStateStore(client goredis.UniversalClient, prefix string) *StateStore {
	return &StateStore{client: client, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases the client.
func (s *StateStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
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
	raw, err := statekey.EncodeConnectivity(state, reason, s.now())
	if err != nil {
		return err
	}
	return s.put(ctx, statekey.Connectivity(collarID), raw)
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
	raw, err := statekey.EncodeGeofence(zone, s.now())
	if err != nil {
		return err
	}
	return s.put(ctx, statekey.Geofence(collarID), raw)
}

// Forget implements application.StateStore.
func (s *StateStore) Forget(ctx context.Context, collarID string) error {
	err := s.client.Del(ctx,
		s.prefix+statekey.Connectivity(collarID),
		s.prefix+statekey.Geofence(collarID),
	).Err()
	if err != nil {
		return fmt.Errorf("redis forget: %w", err)
	}
	return nil
}

func (s *StateStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return raw, true, nil
}

func (s *StateStore) put(ctx context.Context, key string, raw []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
