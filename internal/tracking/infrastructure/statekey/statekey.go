// Package statekey defines the key layout and value encoding shared by the
// collar state backends.
package statekey

import (
	"encoding/json"
	"fmt"
	"time"

	"livestock-cloud/internal/geofence"
	tracking "livestock-cloud/internal/tracking/domain"
)

const (
	KindConnectivity = "connectivity"
	KindGeofence     = "geofence"
)

// ErrCorrupt indicates a stored value that cannot be decoded.
var ErrCorrupt = tracking.ErrCorruptState

// Connectivity returns the key holding the connectivity record of a collar.
func Connectivity(collarID string) string {
	return KindConnectivity + ":" + collarID
}

// Geofence returns the key holding the geofence zone of a collar.
func Geofence(collarID string) string {
	return KindGeofence + ":" + collarID
}

type zoneValue struct {
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EncodeConnectivity renders a connectivity record.
func EncodeConnectivity(state tracking.ConnectivityState, reason tracking.ReasonCode, at time.Time) ([]byte, error) {
	return json.Marshal(tracking.ConnectivityRecord{State: state, Reason: reason, UpdatedAt: at.UTC()})
}

// DecodeConnectivity parses a connectivity record.
func DecodeConnectivity(raw []byte) (*tracking.ConnectivityRecord, error) {
	var record tracking.ConnectivityRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if _, ok := tracking.ParseConnectivityState(string(record.State)); !ok {
		return nil, fmt.Errorf("%w: connectivity state %q", ErrCorrupt, record.State)
	}
	return &record, nil
}

// EncodeGeofence renders a geofence zone.
func EncodeGeofence(zone geofence.Zone, at time.Time) ([]byte, error) {
	return json.Marshal(zoneValue{State: string(zone), UpdatedAt: at.UTC()})
}

// DecodeGeofence parses a geofence zone.
func DecodeGeofence(raw []byte) (geofence.Zone, bool, error) {
	var value zoneValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return geofence.ZoneUnknown, false, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	zone, ok := geofence.ParseZone(value.State)
	if !ok {
		return geofence.ZoneUnknown, false, fmt.Errorf("%w: zone %q", ErrCorrupt, value.State)
	}
	return zone, true, nil
}
