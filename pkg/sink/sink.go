// Package sink defines where finished scan results go.
//
// A Sink receives one [Record] per completed scan. Records are flat and
// self-contained so that sinks never depend on the scan engine. [Multi]
// delivers a record to several sinks concurrently and reports every failure.
//
// Aborted scans never reach a sink; they have no result.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Deliver after Close.
var ErrClosed = errors.New("sink: closed")

// Record is the persisted form of a completed scan.
type Record struct {
	SessionID   string `json:"session_id"`
	DeviceID    string `json:"device_id"`
	DeviceClass string `json:"device_class"`

	BlinkRatePerMinute float64 `json:"blink_rate_per_minute"`
	TotalBlinks        int     `json:"total_blinks"`
	ElapsedSeconds     float64 `json:"elapsed_seconds"`

	// RMSSDMs and HeartRateBpm are nil when the pulse signal never
	// converged.
	RMSSDMs      *float64 `json:"rmssd_ms,omitempty"`
	HeartRateBpm *float64 `json:"heart_rate_bpm,omitempty"`

	Tier      string `json:"tier"`
	RateTier  string `json:"rate_tier"`
	Escalated bool   `json:"escalated"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// Sink consumes completed scan records.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Deliver stores or forwards rec. It should honour ctx cancellation.
	Deliver(ctx context.Context, rec Record) error

	// Close releases the sink's resources.
	Close() error
}

// DeliveryFunc observes the outcome of one delivery made by [Multi].
type DeliveryFunc func(ctx context.Context, sink string, err error)

// Multi fans a record out to several sinks.
type Multi struct {
	sinks    []Sink
	observer DeliveryFunc
}

var _ Sink = (*Multi)(nil)

// NewMulti returns a fan-out over sinks. observer may be nil.
func NewMulti(observer DeliveryFunc, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, observer: observer}
}

// Name implements [Sink].
func (m *Multi) Name() string { return "multi" }

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Deliver sends rec to every sink concurrently. A failing sink does not stop
// the others; all failures are joined into the returned error.
func (m *Multi) Deliver(ctx context.Context, rec Record) error {
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, s := range m.sinks {
		g.Go(func() error {
			err := s.Deliver(ctx, rec)
			if m.observer != nil {
				m.observer(ctx, s.Name(), err)
			}
			if err != nil {
				errs[i] = fmt.Errorf("sink %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
