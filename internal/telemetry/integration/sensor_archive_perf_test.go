package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	telemetry "livestock-cloud/internal/telemetry/domain"
	telemetrypostgres "livestock-cloud/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const perfTable = "sensor_feeds_perf"

func TestSensorArchivePerf_InsertAndReconcileFeed(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := telemetrypostgres.NewSensorRepository(db, telemetrypostgres.WithSensorTable(perfTable))
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	_, _ = db.ExecContext(ctx, "DELETE FROM "+perfTable)
	defer func() { _, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+perfTable) }()

	const (
		collars = 30
		samples = 30
	)
	start := time.Now().UTC().Add(-samples * time.Minute).Truncate(time.Second)

	insertStart := time.Now()
	for c := 0; c < collars; c++ {
		collarID := fmt.Sprintf("perf-%02d", c)
		for s := 0; s < samples; s++ {
			feed := &telemetry.SensorFeed{
				CollarID:  collarID,
				Location:  telemetry.FormatCoordinates(151.2+float64(s)*0.0001, -33.86),
				Behaviour: "grazing",
				CreatedAt: start.Add(time.Duration(s) * time.Minute),
			}
			if err := repo.Insert(ctx, feed); err != nil {
				t.Fatalf("insert feed: %v", err)
			}
		}
	}
	insertElapsed := time.Since(insertStart)

	listStart := time.Now()
	latest, err := repo.List(ctx, "perf-07", 10)
	if err != nil {
		t.Fatalf("list feeds: %v", err)
	}
	if len(latest) != 10 || !latest[0].CreatedAt.After(latest[9].CreatedAt) {
		t.Fatalf("expected 10 newest-first feeds, got %d", len(latest))
	}
	listElapsed := time.Since(listStart)

	fetchStart := time.Now()
	source := telemetrypostgres.NewFeedSource(repo, collars*samples)
	raw, err := source.FetchFeeds(ctx)
	if err != nil {
		t.Fatalf("fetch feeds: %v", err)
	}
	table, stats := telemetry.Normalize(raw)
	fetchElapsed := time.Since(fetchStart)

	if stats.Dropped != 0 {
		t.Fatalf("expected no dropped records, got %d", stats.Dropped)
	}
	if len(table) != collars {
		t.Fatalf("expected %d collars in latest table, got %d", collars, len(table))
	}
	want := start.Add((samples - 1) * time.Minute)
	if got := table["perf-07"].RecordedAt; !got.Equal(want) {
		t.Fatalf("expected latest sample at %s, got %s", want, got)
	}

	t.Logf("perf insert rows=%d elapsed=%s", collars*samples, insertElapsed)
	t.Logf("perf list collar elapsed=%s", listElapsed)
	t.Logf("perf fetch+normalize rows=%d elapsed=%s", len(raw), fetchElapsed)
}
