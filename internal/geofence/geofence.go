package geofence

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// ErrInvalidGeofence indicates a geofence that cannot be evaluated.
var ErrInvalidGeofence = errors.New("geofence: invalid geofence")

// Zone is the classification of a position against a geofence.
type Zone string

const (
	ZoneUnknown Zone = "unknown"
	ZoneInside  Zone = "inside"
	ZoneOutside Zone = "outside"
)

// ParseZone normalizes a stored zone value.
func ParseZone(value string) (Zone, bool) {
	switch Zone(value) {
	case ZoneUnknown, ZoneInside, ZoneOutside:
		return Zone(value), true
	default:
		return "", false
	}
}

// Point is a WGS84 position in degrees.
type Point struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Valid reports whether p is a finite position within WGS84 bounds.
func (p Point) Valid() bool {
	return validLatitude(p.Latitude) && validLongitude(p.Longitude)
}

// Geofence is a circular safe zone.
type Geofence struct {
	Center       Point   `json:"center" yaml:"center"`
	RadiusMeters float64 `json:"radius_meters" yaml:"radius_meters"`
}

// Validate checks the radius and center bounds.
func (g Geofence) Validate() error {
	if math.IsNaN(g.RadiusMeters) || math.IsInf(g.RadiusMeters, 0) || g.RadiusMeters <= 0 {
		return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidGeofence, g.RadiusMeters)
	}
	if !g.Center.Valid() {
		return fmt.Errorf("%w: center out of range (%v,%v)", ErrInvalidGeofence, g.Center.Latitude, g.Center.Longitude)
	}
	return nil
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	phi1 := toRadians(a.Latitude)
	phi2 := toRadians(b.Latitude)
	dPhi := toRadians(b.Latitude - a.Latitude)
	dLambda := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Classify reports whether p lies inside g. The boundary belongs to the zone;
// a distance that cannot be computed is outside.
func Classify(g Geofence, p Point) Zone {
	if Distance(g.Center, p) <= g.RadiusMeters {
		return ZoneInside
	}
	return ZoneOutside
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func validLatitude(v float64) bool {
	return !math.IsNaN(v) && v >= -90 && v <= 90
}

func validLongitude(v float64) bool {
	return !math.IsNaN(v) && v >= -180 && v <= 180
}
