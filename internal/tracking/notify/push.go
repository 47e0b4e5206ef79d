package notify

import (
	"context"
	"time"

	tracking "livestock-cloud/internal/tracking/domain"
)

// Push is an outbound alert notification for owners.
type Push struct {
	Type     tracking.AlertType `json:"type"`
	Priority tracking.Priority  `json:"priority"`
	Title    string             `json:"title"`
	Body     string             `json:"body"`
	AnimalID string             `json:"animal_id"`
	FarmID   string             `json:"farm_id,omitempty"`
	At       time.Time          `json:"at"`
}

// Pusher delivers a push notification.
type Pusher interface {
	Push(ctx context.Context, push Push) error
}

// Recorder appends a notification to the document store.
type Recorder interface {
	Append(ctx context.Context, n tracking.Notification) error
}
