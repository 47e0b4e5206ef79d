package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"livestock-cloud/internal/geofence"
	tracking "livestock-cloud/internal/tracking/domain"
)

func TestStateStore_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := "livestock-it-" + uuid.NewString() + ":"
	store, err := Open(ctx, Options{Addr: addr, Prefix: prefix})
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer store.Close()
	defer func() { _ = store.Forget(ctx, "collar-it") }()

	if record, err := store.GetConnectivity(ctx, "collar-it"); err != nil || record != nil {
		t.Fatalf("expected empty record, got %+v err=%v", record, err)
	}
	if err := store.SetConnectivity(ctx, "collar-it", tracking.ConnectivityLost, tracking.ReasonNoData); err != nil {
		t.Fatalf("set connectivity: %v", err)
	}
	record, err := store.GetConnectivity(ctx, "collar-it")
	if err != nil {
		t.Fatalf("get connectivity: %v", err)
	}
	if record == nil || record.State != tracking.ConnectivityLost || record.Reason != tracking.ReasonNoData {
		t.Fatalf("unexpected record: %+v", record)
	}

	if err := store.SetGeofenceState(ctx, "collar-it", geofence.ZoneOutside); err != nil {
		t.Fatalf("set geofence: %v", err)
	}
	zone, ok, err := store.GetGeofenceState(ctx, "collar-it")
	if err != nil || !ok || zone != geofence.ZoneOutside {
		t.Fatalf("expected outside, got %s ok=%v err=%v", zone, ok, err)
	}

	if err := store.Forget(ctx, "collar-it"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok, _ := store.GetGeofenceState(ctx, "collar-it"); ok {
		t.Fatal("expected geofence state cleared")
	}
}
