package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"livestock-cloud/internal/geofence"
	"livestock-cloud/internal/observability/metrics"
	telemetry "livestock-cloud/internal/telemetry/domain"
	tracking "livestock-cloud/internal/tracking/domain"
)

// DefaultStaleAfter is the age after which a reading no longer counts as live.
const DefaultStaleAfter = 60 * time.Second

// ErrFetchFailed indicates the telemetry source could not be read.
var ErrFetchFailed = errors.New("tracking engine: telemetry fetch failed")

// LiveReading is a fresh reading surfaced to callers.
type LiveReading struct {
	telemetry.Reading
	Zone geofence.Zone `json:"zone,omitempty"`
}

// Pass is the outcome of one reconciliation pass for a farm.
type Pass struct {
	FarmID  string                `json:"farm_id"`
	At      time.Time             `json:"at"`
	Live    []LiveReading         `json:"live"`
	Lost    []string              `json:"lost"`
	Alerts  []tracking.AlertEvent `json:"alerts"`
	Dropped int                   `json:"dropped"`
}

// Engine reconciles the telemetry feed against persisted collar state.
type Engine struct {
	feeds         FeedSource
	states        StateStore
	emitter       AlertEmitter
	clock         Clock
	logger        *log.Logger
	staleAfter    time.Duration
	restoreAlerts bool
	collars       CollarDirectory
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithClock assigns a clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithStaleAfter overrides the staleness threshold.
func WithStaleAfter(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.staleAfter = d
		}
	}
}

// WithRestoreAlerts toggles connection_restored alerts for collars leaving the lost state.
func WithRestoreAlerts(enabled bool) EngineOption {
	return func(e *Engine) {
		e.restoreAlerts = enabled
	}
}

// WithCollarDirectory makes the engine re-check collar ownership before
// touching state, so a pass running on a stale farm list skips collars moved
// or removed since the list was read.
func WithCollarDirectory(collars CollarDirectory) EngineOption {
	return func(e *Engine) {
		e.collars = collars
	}
}

// NewEngine constructs a reconciliation engine.
func NewEngine(feeds FeedSource, states StateStore, emitter AlertEmitter, opts ...EngineOption) (*Engine, error) {
	if feeds == nil {
		return nil, errors.New("tracking engine: nil feed source")
	}
	if states == nil {
		return nil, errors.New("tracking engine: nil state store")
	}
	if emitter == nil {
		return nil, errors.New("tracking engine: nil alert emitter")
	}
	e := &Engine{
		feeds:         feeds,
		states:        states,
		emitter:       emitter,
		clock:         systemClock{},
		logger:        log.Default(),
		staleAfter:    DefaultStaleAfter,
		restoreAlerts: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Fetch reads the raw feed from the telemetry source.
func (e *Engine) Fetch(ctx context.Context) ([]telemetry.RawFeed, error) {
	start := time.Now()
	feeds, err := e.feeds.FetchFeeds(ctx)
	if err != nil {
		metrics.ObserveFetch(metrics.ResultError, time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	metrics.ObserveFetch(metrics.ResultSuccess, time.Since(start))
	return feeds, nil
}

// RunOnce fetches the feed and reconciles it for farm. On fetch failure no
// state is written and no alert is emitted.
func (e *Engine) RunOnce(ctx context.Context, farm tracking.Farm) (Pass, error) {
	if e == nil {
		return Pass{}, errors.New("tracking engine: nil engine")
	}
	feeds, err := e.Fetch(ctx)
	if err != nil {
		return Pass{}, err
	}
	return e.Reconcile(ctx, farm, feeds), nil
}

// Reconcile runs lost-connection and geofence transition detection for every
// collar owned by farm and returns the live feed.
func (e *Engine) Reconcile(ctx context.Context, farm tracking.Farm, feeds []telemetry.RawFeed) Pass {
	start := time.Now()
	now := e.clock.Now().UTC()
	table, stats := telemetry.Normalize(feeds)
	metrics.AddDroppedRecords(stats.Dropped)

	current := make(map[string]telemetry.Reading, len(farm.CollarIDs))
	for _, reading := range table.Filter(farm.CollarIDs) {
		current[reading.CollarID] = reading
	}
	fence, hasFence := farm.ActiveGeofence()

	pass := Pass{
		FarmID:  farm.ID,
		At:      now,
		Live:    make([]LiveReading, 0, len(current)),
		Dropped: stats.Dropped,
	}
	seen := make(map[string]struct{}, len(farm.CollarIDs))
	for _, collarID := range farm.CollarIDs {
		if collarID == "" {
			continue
		}
		if _, dup := seen[collarID]; dup {
			continue
		}
		seen[collarID] = struct{}{}
		if !e.owns(ctx, farm.ID, collarID) {
			continue
		}

		reading, ok := current[collarID]
		reason := tracking.ReasonNone
		switch {
		case !ok:
			reason = tracking.ReasonNoData
		case now.Sub(reading.RecordedAt) > e.staleAfter:
			reason = tracking.ReasonStaleData
		}

		e.reconcileConnectivity(ctx, &pass, farm.ID, collarID, reason, now)
		if reason != tracking.ReasonNone {
			pass.Lost = append(pass.Lost, collarID)
			continue
		}

		live := LiveReading{Reading: reading}
		if hasFence {
			live.Zone = geofence.Classify(fence, reading.Position())
			e.reconcileGeofence(ctx, &pass, farm.ID, collarID, live.Zone, now)
		}
		pass.Live = append(pass.Live, live)
	}

	metrics.SetFarmCollars(farm.ID, len(pass.Live), len(pass.Lost))
	metrics.ObservePass(metrics.ResultSuccess, time.Since(start))
	return pass
}

func (e *Engine) reconcileConnectivity(ctx context.Context, pass *Pass, farmID, collarID string, reason tracking.ReasonCode, now time.Time) {
	record, err := e.states.GetConnectivity(ctx, collarID)
	if errors.Is(err, tracking.ErrCorruptState) {
		metrics.IncStateStoreError("corrupt_connectivity")
		e.logger.Printf("tracking engine: connectivity state unreadable, overwriting: farm=%s collar=%s err=%v", farmID, collarID, err)
		record, err = nil, nil
	}
	if err != nil {
		metrics.IncStateStoreError("get_connectivity")
		e.logger.Printf("tracking engine: connectivity read error: farm=%s collar=%s err=%v", farmID, collarID, err)
		return
	}

	if reason != tracking.ReasonNone {
		if record != nil && record.State == tracking.ConnectivityLost && record.Reason == reason {
			return
		}
		e.emit(ctx, pass, tracking.NewConnectionLost(farmID, collarID, reason, now))
		if err := e.states.SetConnectivity(ctx, collarID, tracking.ConnectivityLost, reason); err != nil {
			metrics.IncStateStoreError("set_connectivity")
			e.logger.Printf("tracking engine: connectivity write error: farm=%s collar=%s err=%v", farmID, collarID, err)
		}
		return
	}

	if record != nil && record.State == tracking.ConnectivityConnected {
		return
	}
	if record != nil && record.State == tracking.ConnectivityLost && e.restoreAlerts {
		e.emit(ctx, pass, tracking.NewConnectionRestored(farmID, collarID, now))
	}
	if err := e.states.SetConnectivity(ctx, collarID, tracking.ConnectivityConnected, tracking.ReasonNone); err != nil {
		metrics.IncStateStoreError("set_connectivity")
		e.logger.Printf("tracking engine: connectivity write error: farm=%s collar=%s err=%v", farmID, collarID, err)
	}
}

func (e *Engine) reconcileGeofence(ctx context.Context, pass *Pass, farmID, collarID string, zone geofence.Zone, now time.Time) {
	prior, ok, err := e.states.GetGeofenceState(ctx, collarID)
	if errors.Is(err, tracking.ErrCorruptState) {
		metrics.IncStateStoreError("corrupt_geofence")
		e.logger.Printf("tracking engine: geofence state unreadable, overwriting: farm=%s collar=%s err=%v", farmID, collarID, err)
		prior, ok, err = geofence.ZoneUnknown, false, nil
	}
	if err != nil {
		metrics.IncStateStoreError("get_geofence")
		e.logger.Printf("tracking engine: geofence read error: farm=%s collar=%s err=%v", farmID, collarID, err)
		return
	}
	if ok && prior == zone {
		return
	}

	switch {
	case zone == geofence.ZoneOutside:
		e.emit(ctx, pass, tracking.NewGeofenceBreach(farmID, collarID, now))
	case zone == geofence.ZoneInside && prior == geofence.ZoneOutside:
		e.emit(ctx, pass, tracking.NewGeofenceReturn(farmID, collarID, now))
	}
	if err := e.states.SetGeofenceState(ctx, collarID, zone); err != nil {
		metrics.IncStateStoreError("set_geofence")
		e.logger.Printf("tracking engine: geofence write error: farm=%s collar=%s err=%v", farmID, collarID, err)
	}
}

// owns reports whether collarID still belongs to farmID. Unregistered collars
// are taken at the farm's word; a lookup failure skips the collar this pass.
func (e *Engine) owns(ctx context.Context, farmID, collarID string) bool {
	if e.collars == nil {
		return true
	}
	collar, err := e.collars.GetCollar(ctx, collarID)
	if err != nil {
		metrics.IncStateStoreError("get_collar")
		e.logger.Printf("tracking engine: collar lookup error: farm=%s collar=%s err=%v", farmID, collarID, err)
		return false
	}
	if collar != nil && collar.AssignedFarmID != farmID {
		e.logger.Printf("tracking engine: skipping collar no longer owned: farm=%s collar=%s owner=%q", farmID, collarID, collar.AssignedFarmID)
		return false
	}
	return true
}

func (e *Engine) emit(ctx context.Context, pass *Pass, event tracking.AlertEvent) {
	metrics.IncAlert(string(event.Type))
	pass.Alerts = append(pass.Alerts, event)
	e.emitter.Emit(ctx, event)
}
