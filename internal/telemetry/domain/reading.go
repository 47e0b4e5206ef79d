package telemetry

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"livestock-cloud/internal/geofence"
)

// RawFeed is one element of the upstream channel feed.
//
// Field1 carries "<longitude>,<latitude>", Field2 the collar id, Field4 the
// animal behaviour and Field5 the collar status.
type RawFeed struct {
	EntryID   int64  `json:"entry_id"`
	CreatedAt string `json:"created_at"`
	Field1    string `json:"field1"`
	Field2    string `json:"field2"`
	Field3    string `json:"field3,omitempty"`
	Field4    string `json:"field4,omitempty"`
	Field5    string `json:"field5,omitempty"`
}

// Reading is a single normalized collar sample.
type Reading struct {
	CollarID   string    `json:"collar_id"`
	Longitude  float64   `json:"longitude"`
	Latitude   float64   `json:"latitude"`
	RecordedAt time.Time `json:"recorded_at"`
	Behaviour  string    `json:"behaviour,omitempty"`
	Status     string    `json:"status,omitempty"`
	EntryID    int64     `json:"entry_id,omitempty"`
}

// Position returns the reading coordinates.
func (r Reading) Position() geofence.Point {
	return geofence.Point{Latitude: r.Latitude, Longitude: r.Longitude}
}

// LatestTable maps collar id to its most recent reading.
type LatestTable map[string]Reading

// NormalizeStats summarizes a normalization pass.
type NormalizeStats struct {
	Total   int
	Dropped int
}

// Normalize reduces an unordered feed batch to one reading per collar.
// Malformed records are dropped. A record replaces the stored reading only
// when its timestamp is strictly later, so among equal timestamps the first
// processed record is kept.
func Normalize(feeds []RawFeed) (LatestTable, NormalizeStats) {
	table := make(LatestTable, len(feeds))
	stats := NormalizeStats{Total: len(feeds)}
	for _, feed := range feeds {
		reading, ok := ParseFeed(feed)
		if !ok {
			stats.Dropped++
			continue
		}
		current, exists := table[reading.CollarID]
		if exists && !reading.RecordedAt.After(current.RecordedAt) {
			continue
		}
		table[reading.CollarID] = reading
	}
	return table, stats
}

// ParseFeed converts a raw feed record into a reading.
func ParseFeed(feed RawFeed) (Reading, bool) {
	collarID := strings.TrimSpace(feed.Field2)
	if collarID == "" {
		return Reading{}, false
	}
	lon, lat, ok := ParseCoordinates(feed.Field1)
	if !ok {
		return Reading{}, false
	}
	recordedAt, err := ParseTimestamp(feed.CreatedAt)
	if err != nil {
		return Reading{}, false
	}
	return Reading{
		CollarID:   collarID,
		Longitude:  lon,
		Latitude:   lat,
		RecordedAt: recordedAt,
		Behaviour:  strings.TrimSpace(feed.Field4),
		Status:     strings.TrimSpace(feed.Field5),
		EntryID:    feed.EntryID,
	}, true
}

// ParseCoordinates parses "<longitude>,<latitude>". Non-finite or
// out-of-range values are rejected.
func ParseCoordinates(value string) (float64, float64, bool) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	if !(geofence.Point{Latitude: lat, Longitude: lon}).Valid() {
		return 0, 0, false
	}
	return lon, lat, true
}

// FormatCoordinates is the inverse of ParseCoordinates.
func FormatCoordinates(lon, lat float64) string {
	return strconv.FormatFloat(lon, 'f', -1, 64) + "," + strconv.FormatFloat(lat, 'f', -1, 64)
}

// ParseTimestamp parses the upstream created_at value.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// Filter returns the readings owned by collarIDs, ordered by collar id.
func (t LatestTable) Filter(collarIDs []string) []Reading {
	out := make([]Reading, 0, len(collarIDs))
	seen := make(map[string]struct{}, len(collarIDs))
	for _, id := range collarIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if reading, ok := t[id]; ok {
			out = append(out, reading)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollarID < out[j].CollarID })
	return out
}

// CollarIDs returns the distinct collar ids present in the table, sorted.
func (t LatestTable) CollarIDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
