package tracking

import (
	"fmt"
	"time"
)

// AlertType names a detected transition.
type AlertType string

const (
	AlertConnectionLost     AlertType = "connection_lost"
	AlertConnectionRestored AlertType = "connection_restored"
	AlertGeofenceBreach     AlertType = "geofence_breach"
	AlertGeofenceReturn     AlertType = "geofence_return"
)

// Priority ranks alert urgency.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
)

// AlertEvent is an immutable record of a detected transition.
type AlertEvent struct {
	Type      AlertType  `json:"type"`
	Priority  Priority   `json:"priority"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	AnimalID  string     `json:"animal_id"`
	FarmID    string     `json:"farm_id,omitempty"`
	Reason    ReasonCode `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Notification is the persisted form of an alert.
type Notification struct {
	ID        string     `json:"id"`
	FarmID    string     `json:"farm_id,omitempty"`
	Type      AlertType  `json:"type"`
	Priority  Priority   `json:"priority"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	AnimalID  string     `json:"animal_id"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// NotificationFilter narrows notification listings.
type NotificationFilter struct {
	FarmID   string
	AnimalID string
	Unread   bool
	Limit    int
}

// NewConnectionLost builds the alert for a lost collar.
func NewConnectionLost(farmID, collarID string, reason ReasonCode, at time.Time) AlertEvent {
	message := fmt.Sprintf("No data received from collar %s for over 1 minute.", collarID)
	if reason == ReasonNoData {
		message = fmt.Sprintf("Collar %s has no data.", collarID)
	}
	return AlertEvent{
		Type:      AlertConnectionLost,
		Priority:  PriorityCritical,
		Title:     "Lost Connection",
		Message:   message,
		AnimalID:  collarID,
		FarmID:    farmID,
		Reason:    reason,
		CreatedAt: at.UTC(),
	}
}

// NewConnectionRestored builds the alert for a collar reporting again.
func NewConnectionRestored(farmID, collarID string, at time.Time) AlertEvent {
	return AlertEvent{
		Type:      AlertConnectionRestored,
		Priority:  PriorityNormal,
		Title:     "Connection Restored",
		Message:   fmt.Sprintf("Collar %s is reporting again.", collarID),
		AnimalID:  collarID,
		FarmID:    farmID,
		CreatedAt: at.UTC(),
	}
}

// NewGeofenceBreach builds the alert for a collar leaving the safe zone.
func NewGeofenceBreach(farmID, collarID string, at time.Time) AlertEvent {
	return AlertEvent{
		Type:      AlertGeofenceBreach,
		Priority:  PriorityCritical,
		Title:     "Geofence Breach Alert",
		Message:   fmt.Sprintf("Collar %s has left the designated safe zone", collarID),
		AnimalID:  collarID,
		FarmID:    farmID,
		CreatedAt: at.UTC(),
	}
}

// NewGeofenceReturn builds the alert for a collar back inside the safe zone.
func NewGeofenceReturn(farmID, collarID string, at time.Time) AlertEvent {
	return AlertEvent{
		Type:      AlertGeofenceReturn,
		Priority:  PriorityNormal,
		Title:     "Geofence Return Alert",
		Message:   fmt.Sprintf("Collar %s is back inside the safe zone", collarID),
		AnimalID:  collarID,
		FarmID:    farmID,
		CreatedAt: at.UTC(),
	}
}
