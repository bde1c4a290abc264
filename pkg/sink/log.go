package sink

import (
	"context"
	"log/slog"
)

// Log writes each record as one structured log line. It is always
// configured so results are visible even without external storage.
type Log struct {
	logger *slog.Logger
}

var _ Sink = (*Log)(nil)

// NewLog returns a log sink. A nil logger uses slog.Default at delivery time.
func NewLog(logger *slog.Logger) *Log { return &Log{logger: logger} }

// Name implements [Sink].
func (l *Log) Name() string { return "log" }

// Deliver implements [Sink].
func (l *Log) Deliver(ctx context.Context, rec Record) error {
	logger := l.logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"session_id", rec.SessionID,
		"device_id", rec.DeviceID,
		"blink_rate", rec.BlinkRatePerMinute,
		"blinks", rec.TotalBlinks,
		"elapsed_s", rec.ElapsedSeconds,
		"tier", rec.Tier,
	}
	if rec.RMSSDMs != nil && rec.HeartRateBpm != nil {
		attrs = append(attrs, "rmssd_ms", *rec.RMSSDMs, "heart_rate_bpm", *rec.HeartRateBpm)
	}
	if rec.Escalated {
		attrs = append(attrs, "escalated", true)
	}
	logger.InfoContext(ctx, "scan result", attrs...)
	return nil
}

// Close implements [Sink].
func (l *Log) Close() error { return nil }
