// Package postgres stores completed scan records in PostgreSQL.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Deliver(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlScanResults = `
CREATE TABLE IF NOT EXISTS scan_results (
    session_id      TEXT              PRIMARY KEY,
    device_id       TEXT              NOT NULL,
    device_class    TEXT              NOT NULL,
    blink_rate      DOUBLE PRECISION  NOT NULL,
    total_blinks    INTEGER           NOT NULL,
    elapsed_seconds DOUBLE PRECISION  NOT NULL,
    rmssd_ms        DOUBLE PRECISION,
    heart_rate_bpm  DOUBLE PRECISION,
    tier            TEXT              NOT NULL,
    rate_tier       TEXT              NOT NULL,
    escalated       BOOLEAN           NOT NULL DEFAULT false,
    started_at      TIMESTAMPTZ       NOT NULL,
    completed_at    TIMESTAMPTZ       NOT NULL,
    trace_id        TEXT              NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scan_results_device_completed
    ON scan_results (device_id, completed_at DESC);

CREATE INDEX IF NOT EXISTS idx_scan_results_tier
    ON scan_results (tier);
`

// Migrate creates the scan_results table and its indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlScanResults); err != nil {
		return fmt.Errorf("postgres sink: migrate scan_results: %w", err)
	}
	return nil
}
