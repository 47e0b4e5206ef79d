package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"livestock-cloud/internal/geofence"
	tracking "livestock-cloud/internal/tracking/domain"
)

func openTestStore(t *testing.T, path string) *StateStore {
	t.Helper()
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStateStoreConnectivityRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	record, err := store.GetConnectivity(ctx, "collar-1")
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil record, got %+v", record)
	}

	if err := store.SetConnectivity(ctx, "collar-1", tracking.ConnectivityLost, tracking.ReasonStaleData); err != nil {
		t.Fatalf("set: %v", err)
	}
	record, err = store.GetConnectivity(ctx, "collar-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record == nil || record.State != tracking.ConnectivityLost || record.Reason != tracking.ReasonStaleData {
		t.Fatalf("unexpected record: %+v", record)
	}

	if err := store.SetConnectivity(ctx, "collar-1", tracking.ConnectivityConnected, tracking.ReasonNone); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	record, _ = store.GetConnectivity(ctx, "collar-1")
	if record.State != tracking.ConnectivityConnected {
		t.Fatalf("expected connected after overwrite, got %s", record.State)
	}
}

func TestStateStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.SetGeofenceState(ctx, "collar-2", geofence.ZoneOutside); err != nil {
		t.Fatalf("set geofence: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openTestStore(t, path)
	zone, ok, err := second.GetGeofenceState(ctx, "collar-2")
	if err != nil {
		t.Fatalf("get geofence: %v", err)
	}
	if !ok || zone != geofence.ZoneOutside {
		t.Fatalf("expected outside after reopen, got %s ok=%v", zone, ok)
	}
}

func TestStateStoreForget(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	_ = store.SetConnectivity(ctx, "collar-3", tracking.ConnectivityLost, tracking.ReasonNoData)
	_ = store.SetGeofenceState(ctx, "collar-3", geofence.ZoneInside)
	_ = store.SetGeofenceState(ctx, "collar-4", geofence.ZoneInside)

	if err := store.Forget(ctx, "collar-3"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if record, _ := store.GetConnectivity(ctx, "collar-3"); record != nil {
		t.Fatalf("expected connectivity cleared, got %+v", record)
	}
	if _, ok, _ := store.GetGeofenceState(ctx, "collar-3"); ok {
		t.Fatal("expected geofence state cleared")
	}
	if _, ok, _ := store.GetGeofenceState(ctx, "collar-4"); !ok {
		t.Fatal("expected other collar untouched")
	}
}

func TestStateStoreCorruptValue(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))

	if _, err := store.DB().ExecContext(ctx, `INSERT INTO collar_state (key, value) VALUES ('geofence:collar-5', 'not-json');`); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}
	if _, _, err := store.GetGeofenceState(ctx, "collar-5"); !errors.Is(err, tracking.ErrCorruptState) {
		t.Fatalf("expected corrupt state error, got %v", err)
	}
	if err := store.SetGeofenceState(ctx, "collar-5", geofence.ZoneInside); err != nil {
		t.Fatalf("overwrite corrupt row: %v", err)
	}
	if zone, ok, err := store.GetGeofenceState(ctx, "collar-5"); err != nil || !ok || zone != geofence.ZoneInside {
		t.Fatalf("expected repaired zone, got zone=%s ok=%v err=%v", zone, ok, err)
	}
}
