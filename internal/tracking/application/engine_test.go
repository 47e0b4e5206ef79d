package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"livestock-cloud/internal/geofence"
	telemetry "livestock-cloud/internal/telemetry/domain"
	tracking "livestock-cloud/internal/tracking/domain"
	"livestock-cloud/internal/tracking/infrastructure/memory"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fixedClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixedClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type stubFeeds struct {
	mu    sync.Mutex
	feeds []telemetry.RawFeed
	err   error
	calls int
}

func (s *stubFeeds) FetchFeeds(_ context.Context) ([]telemetry.RawFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]telemetry.RawFeed, len(s.feeds))
	copy(out, s.feeds)
	return out, nil
}

func (s *stubFeeds) Set(feeds ...telemetry.RawFeed) {
	s.mu.Lock()
	s.feeds = feeds
	s.err = nil
	s.mu.Unlock()
}

func (s *stubFeeds) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubFeeds) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []tracking.AlertEvent
}

func (r *recordingEmitter) Emit(_ context.Context, event tracking.AlertEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingEmitter) Events() []tracking.AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tracking.AlertEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingEmitter) Count(alertType tracking.AlertType) int {
	count := 0
	for _, event := range r.Events() {
		if event.Type == alertType {
			count++
		}
	}
	return count
}

type countingStore struct {
	*memory.StateStore
	mu     sync.Mutex
	writes int
}

func (c *countingStore) SetConnectivity(ctx context.Context, id string, state tracking.ConnectivityState, reason tracking.ReasonCode) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.StateStore.SetConnectivity(ctx, id, state, reason)
}

func (c *countingStore) SetGeofenceState(ctx context.Context, id string, zone geofence.Zone) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.StateStore.SetGeofenceState(ctx, id, zone)
}

func (c *countingStore) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

type failingStore struct {
	*memory.StateStore
	failCollar string
}

func (f *failingStore) GetConnectivity(ctx context.Context, id string) (*tracking.ConnectivityRecord, error) {
	if id == f.failCollar {
		return nil, errors.New("store unavailable")
	}
	return f.StateStore.GetConnectivity(ctx, id)
}

func (f *failingStore) GetGeofenceState(ctx context.Context, id string) (geofence.Zone, bool, error) {
	if id == f.failCollar {
		return geofence.ZoneUnknown, false, errors.New("store unavailable")
	}
	return f.StateStore.GetGeofenceState(ctx, id)
}

// corruptStore reports undecodable state for a collar until it is rewritten.
type corruptStore struct {
	*memory.StateStore
	mu      sync.Mutex
	corrupt map[string]bool
}

func (c *corruptStore) isCorrupt(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corrupt[id]
}

func (c *corruptStore) GetConnectivity(ctx context.Context, id string) (*tracking.ConnectivityRecord, error) {
	if c.isCorrupt(id) {
		return nil, fmt.Errorf("%w: bad json", tracking.ErrCorruptState)
	}
	return c.StateStore.GetConnectivity(ctx, id)
}

func (c *corruptStore) GetGeofenceState(ctx context.Context, id string) (geofence.Zone, bool, error) {
	if c.isCorrupt(id) {
		return geofence.ZoneUnknown, false, fmt.Errorf("%w: bad json", tracking.ErrCorruptState)
	}
	return c.StateStore.GetGeofenceState(ctx, id)
}

func (c *corruptStore) SetGeofenceState(ctx context.Context, id string, zone geofence.Zone) error {
	c.mu.Lock()
	delete(c.corrupt, id)
	c.mu.Unlock()
	return c.StateStore.SetGeofenceState(ctx, id, zone)
}

type stubCollars map[string]string

func (s stubCollars) GetCollar(_ context.Context, id string) (*tracking.Collar, error) {
	owner, ok := s[id]
	if !ok {
		return nil, nil
	}
	return &tracking.Collar{ID: id, AssignedFarmID: owner}, nil
}

var testStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// 40 m fence at the origin; one degree of latitude is ~111 km.
func testFarm(collarIDs ...string) tracking.Farm {
	return tracking.Farm{
		ID: "farm-1",
		Geofence: &geofence.Geofence{
			Center:       geofence.Point{Latitude: 0, Longitude: 0},
			RadiusMeters: 40,
		},
		CollarIDs: collarIDs,
	}
}

func feedAt(collarID string, lat, lon float64, at time.Time) telemetry.RawFeed {
	return telemetry.RawFeed{
		CreatedAt: at.Format(time.RFC3339),
		Field1:    fmt.Sprintf("%f,%f", lon, lat),
		Field2:    collarID,
		Field4:    "grazing",
		Field5:    "ok",
	}
}

const fiftyMetersNorth = 50.0 / 111195.0

func newTestEngine(t *testing.T, feeds FeedSource, states StateStore, emitter AlertEmitter, clock Clock, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithClock(clock), WithLogger(log.New(io.Discard, "", 0))}, opts...)
	engine, err := NewEngine(feeds, states, emitter, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestEngineBreachThenReturn(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	states := memory.NewStateStore()
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, states, emitter, clock)
	farm := testFarm("C")

	feeds.Set(feedAt("C", fiftyMetersNorth, 0, clock.Now().Add(-time.Second)))
	pass, err := engine.RunOnce(ctx, farm)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(pass.Live) != 1 || pass.Live[0].Zone != geofence.ZoneOutside {
		t.Fatalf("expected C live and outside, got %+v", pass.Live)
	}
	if emitter.Count(tracking.AlertGeofenceBreach) != 1 {
		t.Fatalf("expected 1 breach, got %+v", emitter.Events())
	}
	zone, ok, _ := states.GetGeofenceState(ctx, "C")
	if !ok || zone != geofence.ZoneOutside {
		t.Fatalf("expected stored outside, got %s", zone)
	}

	clock.Add(16 * time.Second)
	feeds.Set(feedAt("C", 0.0001, 0, clock.Now().Add(-time.Second)))
	if _, err := engine.RunOnce(ctx, farm); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if emitter.Count(tracking.AlertGeofenceReturn) != 1 {
		t.Fatalf("expected 1 return, got %+v", emitter.Events())
	}
	zone, _, _ = states.GetGeofenceState(ctx, "C")
	if zone != geofence.ZoneInside {
		t.Fatalf("expected stored inside, got %s", zone)
	}
	if got := len(emitter.Events()); got != 2 {
		t.Fatalf("expected exactly 2 alerts, got %d", got)
	}
}

func TestEngineGeofenceIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, memory.NewStateStore(), emitter, clock)
	farm := testFarm("C")

	for i := 0; i < 5; i++ {
		feeds.Set(feedAt("C", fiftyMetersNorth, 0, clock.Now().Add(-2*time.Second)))
		if _, err := engine.RunOnce(ctx, farm); err != nil {
			t.Fatalf("run once: %v", err)
		}
		clock.Add(16 * time.Second)
	}
	if got := emitter.Count(tracking.AlertGeofenceBreach); got != 1 {
		t.Fatalf("expected a single breach across 5 passes, got %d", got)
	}
}

func TestEngineFirstInsideIsSilent(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	states := memory.NewStateStore()
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, states, emitter, clock)

	feeds.Set(feedAt("C", 0, 0, clock.Now()))
	if _, err := engine.RunOnce(ctx, testFarm("C")); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := len(emitter.Events()); got != 0 {
		t.Fatalf("expected no alerts, got %+v", emitter.Events())
	}
	zone, ok, _ := states.GetGeofenceState(ctx, "C")
	if !ok || zone != geofence.ZoneInside {
		t.Fatalf("expected inside persisted, got %s ok=%v", zone, ok)
	}
	record, _ := states.GetConnectivity(ctx, "C")
	if record == nil || record.State != tracking.ConnectivityConnected {
		t.Fatalf("expected connected persisted, got %+v", record)
	}
}

func TestEngineStaleReading(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	states := memory.NewStateStore()
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, states, emitter, clock)
	farm := testFarm("D")

	feeds.Set(feedAt("D", 0, 0, clock.Now().Add(-90*time.Second)))
	pass, err := engine.RunOnce(ctx, farm)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(pass.Live) != 0 {
		t.Fatalf("expected D absent from live feed, got %+v", pass.Live)
	}
	if len(pass.Lost) != 1 || pass.Lost[0] != "D" {
		t.Fatalf("expected D lost, got %+v", pass.Lost)
	}
	events := emitter.Events()
	if len(events) != 1 || events[0].Type != tracking.AlertConnectionLost || events[0].Reason != tracking.ReasonStaleData {
		t.Fatalf("expected one stale connection_lost, got %+v", events)
	}
	if events[0].Priority != tracking.PriorityCritical {
		t.Fatalf("expected critical priority, got %s", events[0].Priority)
	}
	record, _ := states.GetConnectivity(ctx, "D")
	if record == nil || record.State != tracking.ConnectivityLost || record.Reason != tracking.ReasonStaleData {
		t.Fatalf("expected lost/stale persisted, got %+v", record)
	}
	if _, ok, _ := states.GetGeofenceState(ctx, "D"); ok {
		t.Fatal("expected no geofence evaluation for stale reading")
	}
}

func TestEngineExactlyStaleAfterIsFresh(t *testing.T) {
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, memory.NewStateStore(), emitter, clock)

	feeds.Set(feedAt("E", 0, 0, clock.Now().Add(-DefaultStaleAfter)))
	pass, err := engine.RunOnce(context.Background(), testFarm("E"))
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(pass.Live) != 1 {
		t.Fatalf("expected reading at the threshold to stay live, got %+v", pass)
	}
}

func TestEngineLostIdempotentAcrossPolls(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, memory.NewStateStore(), emitter, clock)

	for i := 0; i < 10; i++ {
		if _, err := engine.RunOnce(ctx, testFarm("ghost")); err != nil {
			t.Fatalf("run once: %v", err)
		}
		clock.Add(16 * time.Second)
	}
	events := emitter.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 alert over 10 polls, got %d", len(events))
	}
	if events[0].Reason != tracking.ReasonNoData || events[0].Message != "Collar ghost has no data." {
		t.Fatalf("unexpected alert: %+v", events[0])
	}
}

func TestEngineReasonChangeRealerts(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, memory.NewStateStore(), emitter, clock)
	farm := testFarm("F")

	if _, err := engine.RunOnce(ctx, farm); err != nil {
		t.Fatalf("run once: %v", err)
	}
	feeds.Set(feedAt("F", 0, 0, clock.Now().Add(-5*time.Minute)))
	if _, err := engine.RunOnce(ctx, farm); err != nil {
		t.Fatalf("run once: %v", err)
	}
	events := emitter.Events()
	if len(events) != 2 || events[0].Reason != tracking.ReasonNoData || events[1].Reason != tracking.ReasonStaleData {
		t.Fatalf("expected no-data then stale alerts, got %+v", events)
	}
}

func TestEngineConnectionRestored(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	states := memory.NewStateStore()
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, states, emitter, clock)
	farm := testFarm("G")

	if _, err := engine.RunOnce(ctx, farm); err != nil {
		t.Fatalf("run once: %v", err)
	}
	clock.Add(16 * time.Second)
	feeds.Set(feedAt("G", 0, 0, clock.Now()))
	if _, err := engine.RunOnce(ctx, farm); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if emitter.Count(tracking.AlertConnectionRestored) != 1 {
		t.Fatalf("expected restore alert, got %+v", emitter.Events())
	}
	record, _ := states.GetConnectivity(ctx, "G")
	if record.State != tracking.ConnectivityConnected {
		t.Fatalf("expected connected, got %+v", record)
	}

	clock.Add(16 * time.Second)
	feeds.Set(feedAt("G", 0, 0, clock.Now()))
	if _, err := engine.RunOnce(ctx, farm); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if emitter.Count(tracking.AlertConnectionRestored) != 1 {
		t.Fatalf("expected restore alert once, got %+v", emitter.Events())
	}
}

func TestEngineRestoreAlertsDisabled(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, memory.NewStateStore(), emitter, clock, WithRestoreAlerts(false))
	farm := testFarm("H")

	_, _ = engine.RunOnce(ctx, farm)
	feeds.Set(feedAt("H", 0, 0, clock.Now()))
	_, _ = engine.RunOnce(ctx, farm)
	if emitter.Count(tracking.AlertConnectionRestored) != 0 {
		t.Fatalf("expected no restore alert, got %+v", emitter.Events())
	}
}

func TestEngineTransportFailure(t *testing.T) {
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	feeds.Fail(errors.New("connection refused"))
	states := &countingStore{StateStore: memory.NewStateStore()}
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, states, emitter, clock)

	_, err := engine.RunOnce(context.Background(), testFarm("A", "B"))
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if len(emitter.Events()) != 0 {
		t.Fatalf("expected no alerts, got %+v", emitter.Events())
	}
	if states.Writes() != 0 || states.Len() != 0 {
		t.Fatalf("expected no state writes, got %d", states.Writes())
	}
}

func TestEngineStoreFailureIsolatesCollar(t *testing.T) {
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	states := &failingStore{StateStore: memory.NewStateStore(), failCollar: "bad"}
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, states, emitter, clock)

	feeds.Set(
		feedAt("bad", fiftyMetersNorth, 0, clock.Now()),
		feedAt("good", fiftyMetersNorth, 0, clock.Now()),
	)
	pass, err := engine.RunOnce(context.Background(), testFarm("bad", "good"))
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	events := emitter.Events()
	if len(events) != 1 || events[0].AnimalID != "good" || events[0].Type != tracking.AlertGeofenceBreach {
		t.Fatalf("expected only good collar breach, got %+v", events)
	}
	if len(pass.Live) != 2 {
		t.Fatalf("expected both readings surfaced, got %+v", pass.Live)
	}
}

func TestEngineCorruptStateIsOverwritten(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	states := &corruptStore{StateStore: memory.NewStateStore(), corrupt: map[string]bool{"Z": true}}
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, states, emitter, clock)
	farm := testFarm("Z")

	feeds.Set(feedAt("Z", fiftyMetersNorth, 0, clock.Now()))
	if _, err := engine.RunOnce(ctx, farm); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if emitter.Count(tracking.AlertGeofenceBreach) != 1 {
		t.Fatalf("expected breach despite corrupt prior state, got %+v", emitter.Events())
	}
	zone, ok, err := states.GetGeofenceState(ctx, "Z")
	if err != nil || !ok || zone != geofence.ZoneOutside {
		t.Fatalf("expected repaired outside state, got zone=%s ok=%v err=%v", zone, ok, err)
	}
	record, err := states.StateStore.GetConnectivity(ctx, "Z")
	if err != nil || record == nil || record.State != tracking.ConnectivityConnected {
		t.Fatalf("expected connectivity written, got %+v err=%v", record, err)
	}

	clock.Add(time.Second)
	if _, err := engine.RunOnce(ctx, farm); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if emitter.Count(tracking.AlertGeofenceBreach) != 1 {
		t.Fatalf("expected no repeat breach after repair, got %+v", emitter.Events())
	}
}

func TestEngineSkipsCollarsMovedAway(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	states := memory.NewStateStore()
	emitter := &recordingEmitter{}
	directory := stubCollars{"kept": "farm-1", "moved": "farm-2", "released": ""}
	engine := newTestEngine(t, feeds, states, emitter, clock, WithCollarDirectory(directory))

	feeds.Set(
		feedAt("kept", fiftyMetersNorth, 0, clock.Now()),
		feedAt("moved", fiftyMetersNorth, 0, clock.Now()),
		feedAt("released", fiftyMetersNorth, 0, clock.Now()),
		feedAt("seeded", 0, 0, clock.Now()),
	)
	pass, err := engine.RunOnce(ctx, testFarm("kept", "moved", "released", "seeded"))
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(pass.Live) != 2 {
		t.Fatalf("expected kept and seeded live, got %+v", pass.Live)
	}
	for _, id := range []string{"moved", "released"} {
		if _, ok, _ := states.GetGeofenceState(ctx, id); ok {
			t.Fatalf("expected no state written for %s", id)
		}
		if record, _ := states.GetConnectivity(ctx, id); record != nil {
			t.Fatalf("expected no connectivity written for %s, got %+v", id, record)
		}
	}
	events := emitter.Events()
	if len(events) != 1 || events[0].AnimalID != "kept" {
		t.Fatalf("expected only kept to alert, got %+v", events)
	}
}

func TestEngineFarmWithoutGeofence(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	states := memory.NewStateStore()
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, states, emitter, clock)

	feeds.Set(feedAt("I", 45, 45, clock.Now()))
	farm := tracking.Farm{ID: "farm-open", CollarIDs: []string{"I", "J"}}
	pass, err := engine.RunOnce(ctx, farm)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(pass.Live) != 1 || pass.Live[0].Zone != "" {
		t.Fatalf("expected unclassified live reading, got %+v", pass.Live)
	}
	if emitter.Count(tracking.AlertGeofenceBreach) != 0 {
		t.Fatal("expected no geofence alerts without a geofence")
	}
	if emitter.Count(tracking.AlertConnectionLost) != 1 {
		t.Fatalf("expected connectivity detection for J, got %+v", emitter.Events())
	}
	if _, ok, _ := states.GetGeofenceState(ctx, "I"); ok {
		t.Fatal("expected no geofence state without a geofence")
	}
}

func TestEngineIgnoresUnownedCollars(t *testing.T) {
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, feeds, memory.NewStateStore(), emitter, clock)

	feeds.Set(
		feedAt("mine", 0, 0, clock.Now()),
		feedAt("theirs", fiftyMetersNorth, 0, clock.Now()),
	)
	pass, err := engine.RunOnce(context.Background(), testFarm("mine", "mine"))
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(pass.Live) != 1 || pass.Live[0].CollarID != "mine" {
		t.Fatalf("expected only owned collar, got %+v", pass.Live)
	}
	if len(emitter.Events()) != 0 {
		t.Fatalf("expected no alerts, got %+v", emitter.Events())
	}
}

func TestEngineDropsMalformedRecords(t *testing.T) {
	clock := &fixedClock{now: testStart}
	feeds := &stubFeeds{}
	engine := newTestEngine(t, feeds, memory.NewStateStore(), &recordingEmitter{}, clock)

	bad := feedAt("K", 0, 0, clock.Now())
	bad.Field1 = "not-a-coordinate"
	feeds.Set(bad, feedAt("K", 0, 0, clock.Now().Add(-time.Second)))

	pass, err := engine.RunOnce(context.Background(), testFarm("K"))
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if pass.Dropped != 1 || len(pass.Live) != 1 {
		t.Fatalf("expected 1 dropped and K live, got %+v", pass)
	}
}

func TestNewEngineValidatesDependencies(t *testing.T) {
	if _, err := NewEngine(nil, memory.NewStateStore(), &recordingEmitter{}); err == nil {
		t.Fatal("expected error for nil feed source")
	}
	if _, err := NewEngine(&stubFeeds{}, nil, &recordingEmitter{}); err == nil {
		t.Fatal("expected error for nil state store")
	}
	if _, err := NewEngine(&stubFeeds{}, memory.NewStateStore(), nil); err == nil {
		t.Fatal("expected error for nil emitter")
	}
}
