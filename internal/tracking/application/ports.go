package application

import (
	"context"
	"time"

	"livestock-cloud/internal/geofence"
	telemetry "livestock-cloud/internal/telemetry/domain"
	tracking "livestock-cloud/internal/tracking/domain"
)

// FeedSource fetches the raw telemetry feed.
type FeedSource interface {
	FetchFeeds(ctx context.Context) ([]telemetry.RawFeed, error)
}

// StateStore persists the last known connectivity and geofence state per collar.
// Get methods return a nil record or ok=false when nothing is stored.
type StateStore interface {
	GetConnectivity(ctx context.Context, collarID string) (*tracking.ConnectivityRecord, error)
	SetConnectivity(ctx context.Context, collarID string, state tracking.ConnectivityState, reason tracking.ReasonCode) error
	GetGeofenceState(ctx context.Context, collarID string) (geofence.Zone, bool, error)
	SetGeofenceState(ctx context.Context, collarID string, zone geofence.Zone) error
	Forget(ctx context.Context, collarID string) error
}

// CollarDirectory reports the current owner of a collar. A nil collar means
// it was never registered.
type CollarDirectory interface {
	GetCollar(ctx context.Context, id string) (*tracking.Collar, error)
}

// AlertEmitter delivers detected transitions. Implementations must not block
// the caller on delivery failures.
type AlertEmitter interface {
	Emit(ctx context.Context, event tracking.AlertEvent)
}

// FarmProvider lists the farms to reconcile on each tick.
type FarmProvider interface {
	ListFarms(ctx context.Context) ([]tracking.Farm, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NotificationStore persists notifications for the notifications panel.
type NotificationStore interface {
	Append(ctx context.Context, n tracking.Notification) error
	List(ctx context.Context, filter tracking.NotificationFilter) ([]tracking.Notification, error)
	Get(ctx context.Context, id string) (*tracking.Notification, error)
	MarkRead(ctx context.Context, id string, at time.Time) (*tracking.Notification, error)
}
