package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vitalscan/pkg/sink"
	"github.com/MrWong99/vitalscan/pkg/sink/postgres"
)

// testDSN returns the test database DSN or skips the test when
// VITALSCAN_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VITALSCAN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VITALSCAN_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS scan_results"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	store, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_DeliverAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := sink.Record{
		SessionID:          "s-1",
		DeviceID:           "cam0",
		DeviceClass:        "desktop",
		BlinkRatePerMinute: 27,
		TotalBlinks:        27,
		ElapsedSeconds:     60,
		Tier:               "high",
		RateTier:           "high",
		StartedAt:          started,
		CompletedAt:        started.Add(time.Minute),
	}
	if err := store.Deliver(ctx, rec); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RMSSDMs != nil || got.HeartRateBpm != nil {
		t.Errorf("HRV columns = %v/%v, want NULL", got.RMSSDMs, got.HeartRateBpm)
	}
	if got.TotalBlinks != 27 || got.Tier != "high" || !got.CompletedAt.Equal(rec.CompletedAt) {
		t.Errorf("Get = %+v", got)
	}

	// Redelivery overwrites.
	rmssd, hr := 22.0, 80.0
	rec.RMSSDMs, rec.HeartRateBpm = &rmssd, &hr
	rec.Tier, rec.Escalated = "high", true
	if err := store.Deliver(ctx, rec); err != nil {
		t.Fatalf("second Deliver: %v", err)
	}
	got, err = store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RMSSDMs == nil || *got.RMSSDMs != 22 || !got.Escalated {
		t.Errorf("after upsert = %+v", got)
	}
}

func TestStore_GetUnknown(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, postgres.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Closed(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := store.Deliver(context.Background(), sink.Record{SessionID: "x"}); !errors.Is(err, sink.ErrClosed) {
		t.Errorf("Deliver after Close = %v, want ErrClosed", err)
	}
}

func TestNew_BadDSN(t *testing.T) {
	t.Parallel()
	if _, err := postgres.New(context.Background(), "postgres://localhost:badport/vitalscan"); err == nil {
		t.Error("New accepted a malformed DSN")
	}
}
