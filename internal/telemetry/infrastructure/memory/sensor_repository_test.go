package memory

import (
	"context"
	"testing"
	"time"

	telemetry "livestock-cloud/internal/telemetry/domain"
)

func TestSensorRepositoryListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewSensorRepository()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		collar := "c1"
		if i%2 == 1 {
			collar = "c2"
		}
		if err := repo.Insert(ctx, &telemetry.SensorFeed{CollarID: collar, CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := repo.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 50 {
		t.Fatalf("expected default limit 50, got %d", len(all))
	}
	if !all[0].CreatedAt.Equal(base.Add(59 * time.Second)) {
		t.Fatalf("expected newest first, got %s", all[0].CreatedAt)
	}

	c1, _ := repo.List(ctx, "c1", 5)
	if len(c1) != 5 {
		t.Fatalf("expected 5 c1 feeds, got %d", len(c1))
	}
	for _, feed := range c1 {
		if feed.CollarID != "c1" {
			t.Fatalf("unexpected collar %s", feed.CollarID)
		}
	}
}

func TestSensorRepositoryInsertAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewSensorRepository()
	if err := repo.Insert(ctx, &telemetry.SensorFeed{}); err == nil {
		t.Fatal("expected collar_id required")
	}

	feed := &telemetry.SensorFeed{CollarID: "c1"}
	if err := repo.Insert(ctx, feed); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if feed.ID == "" || feed.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at assigned, got %+v", feed)
	}

	deleted, err := repo.Delete(ctx, feed.ID)
	if err != nil || !deleted {
		t.Fatalf("expected delete, got %v %v", deleted, err)
	}
	deleted, _ = repo.Delete(ctx, feed.ID)
	if deleted {
		t.Fatal("expected second delete to report missing")
	}
}
