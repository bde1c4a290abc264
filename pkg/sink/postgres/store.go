package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vitalscan/pkg/sink"
)

var _ sink.Sink = (*Store)(nil)

// Store is a [sink.Sink] writing one row per scan. Re-delivering a session
// overwrites its row, so retries are harmless.
type Store struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// New connects to dsn, verifies the connection and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Name implements [sink.Sink].
func (s *Store) Name() string { return "postgres" }

const upsertResult = `
INSERT INTO scan_results (
    session_id, device_id, device_class, blink_rate, total_blinks, elapsed_seconds,
    rmssd_ms, heart_rate_bpm, tier, rate_tier, escalated, started_at, completed_at, trace_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (session_id) DO UPDATE SET
    device_id       = EXCLUDED.device_id,
    device_class    = EXCLUDED.device_class,
    blink_rate      = EXCLUDED.blink_rate,
    total_blinks    = EXCLUDED.total_blinks,
    elapsed_seconds = EXCLUDED.elapsed_seconds,
    rmssd_ms        = EXCLUDED.rmssd_ms,
    heart_rate_bpm  = EXCLUDED.heart_rate_bpm,
    tier            = EXCLUDED.tier,
    rate_tier       = EXCLUDED.rate_tier,
    escalated       = EXCLUDED.escalated,
    started_at      = EXCLUDED.started_at,
    completed_at    = EXCLUDED.completed_at,
    trace_id        = EXCLUDED.trace_id`

// Deliver implements [sink.Sink].
func (s *Store) Deliver(ctx context.Context, rec sink.Record) error {
	if s.closed.Load() {
		return sink.ErrClosed
	}
	_, err := s.pool.Exec(ctx, upsertResult,
		rec.SessionID, rec.DeviceID, rec.DeviceClass,
		rec.BlinkRatePerMinute, rec.TotalBlinks, rec.ElapsedSeconds,
		rec.RMSSDMs, rec.HeartRateBpm,
		rec.Tier, rec.RateTier, rec.Escalated,
		rec.StartedAt, rec.CompletedAt, rec.TraceID,
	)
	if err != nil {
		return fmt.Errorf("postgres sink: insert %s: %w", rec.SessionID, err)
	}
	return nil
}

// ErrNotFound is returned by [Store.Get] for unknown sessions.
var ErrNotFound = errors.New("postgres sink: result not found")

const selectResult = `
SELECT session_id, device_id, device_class, blink_rate, total_blinks, elapsed_seconds,
       rmssd_ms, heart_rate_bpm, tier, rate_tier, escalated, started_at, completed_at, trace_id
FROM scan_results WHERE session_id = $1`

// Get loads the record of one session.
func (s *Store) Get(ctx context.Context, sessionID string) (sink.Record, error) {
	var rec sink.Record
	err := s.pool.QueryRow(ctx, selectResult, sessionID).Scan(
		&rec.SessionID, &rec.DeviceID, &rec.DeviceClass,
		&rec.BlinkRatePerMinute, &rec.TotalBlinks, &rec.ElapsedSeconds,
		&rec.RMSSDMs, &rec.HeartRateBpm,
		&rec.Tier, &rec.RateTier, &rec.Escalated,
		&rec.StartedAt, &rec.CompletedAt, &rec.TraceID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return sink.Record{}, ErrNotFound
	}
	if err != nil {
		return sink.Record{}, fmt.Errorf("postgres sink: get %s: %w", sessionID, err)
	}
	return rec, nil
}

// Ping checks database connectivity. It backs the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [sink.Sink]. It is safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.pool.Close()
	return nil
}
