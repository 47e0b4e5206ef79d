package tracking

import (
	"time"

	"livestock-cloud/internal/geofence"
)

// Farm is an owner's safe zone and the collars it is responsible for.
type Farm struct {
	ID        string             `json:"farm_id" yaml:"id"`
	Name      string             `json:"name,omitempty" yaml:"name"`
	Geofence  *geofence.Geofence `json:"geofence,omitempty" yaml:"geofence"`
	CollarIDs []string           `json:"collar_ids" yaml:"collar_ids"`
	CreatedAt time.Time          `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt time.Time          `json:"updated_at,omitempty" yaml:"-"`
}

// ActiveGeofence returns the geofence when it can be evaluated.
func (f Farm) ActiveGeofence() (geofence.Geofence, bool) {
	if f.Geofence == nil {
		return geofence.Geofence{}, false
	}
	if err := f.Geofence.Validate(); err != nil {
		return geofence.Geofence{}, false
	}
	return *f.Geofence, true
}

// Owns reports whether collarID belongs to the farm.
func (f Farm) Owns(collarID string) bool {
	for _, id := range f.CollarIDs {
		if id == collarID {
			return true
		}
	}
	return false
}

// Collar is a registered tracking device.
type Collar struct {
	ID             string    `json:"collar_id"`
	AssignedFarmID string    `json:"assigned_farm_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}
