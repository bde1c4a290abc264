// Package observe carries the telemetry of the scan service: OpenTelemetry
// instruments for ticks, blinks, HRV evaluations and result delivery, the
// scan and request spans, and trace-aware slog loggers.
//
// [InitProvider] installs the global providers and a Prometheus bridge for
// GET /metrics. Code under test should build its own [Metrics] with
// [NewMetrics] instead of sharing [DefaultMetrics].
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vitalscan metrics.
const meterName = "github.com/MrWong99/vitalscan"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TickDuration tracks the wall time of one scan tick, frame pull through
	// progress emit.
	TickDuration metric.Float64Histogram

	// LandmarkDuration tracks landmark inference latency. Use with attribute:
	//   attribute.String("provider", ...)
	LandmarkDuration metric.Float64Histogram

	// HRVDuration tracks the time spent evaluating the rPPG buffer.
	HRVDuration metric.Float64Histogram

	// --- Counters ---

	// Blinks counts accepted blink events. Use with attribute:
	//   attribute.String("device_class", ...)
	Blinks metric.Int64Counter

	// FaceMissedTicks counts ticks in which no face was found.
	FaceMissedTicks metric.Int64Counter

	// HRVEvaluations counts HRV evaluations. Use with attribute:
	//   attribute.String("status", "available"|"unavailable")
	HRVEvaluations metric.Int64Counter

	// ScansCompleted counts scans that reached Completed. Use with attribute:
	//   attribute.String("tier", ...)
	ScansCompleted metric.Int64Counter

	// ScansAborted counts aborted scans. Use with attribute:
	//   attribute.String("reason", ...)
	ScansAborted metric.Int64Counter

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// SinkDeliveries counts result hand-offs. Use with attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	SinkDeliveries metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveScans tracks the number of running scan sessions.
	ActiveScans metric.Int64UpDownCounter

	// ProgressSubscribers tracks connected progress stream clients.
	ProgressSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks API request latency, labelled by method,
	// matched route ("path") and status class. Progress streams are excluded.
	HTTPRequestDuration metric.Float64Histogram
}

// tickBuckets defines histogram bucket boundaries (in seconds) sized around
// the 50 ms tick budget.
var tickBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.035, 0.05, 0.075, 0.1, 0.25, 1,
}

// instruments creates instruments on one meter and keeps the first error,
// so NewMetrics reads as a flat list.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) histogram(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.keep(name, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return g
}

func (b *instruments) keep(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("observe: instrument %s: %w", name, err)
	}
}

// NewMetrics creates every vitalscan instrument on mp. Tests pass a
// provider backed by a manual reader.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	met := &Metrics{
		TickDuration:     b.histogram("vitalscan.tick.duration", "Wall time of one scan tick.", tickBuckets...),
		LandmarkDuration: b.histogram("vitalscan.landmark.duration", "Latency of facial landmark inference.", tickBuckets...),
		HRVDuration:      b.histogram("vitalscan.hrv.duration", "Time spent evaluating the pulse buffer.", tickBuckets...),

		Blinks:           b.counter("vitalscan.blinks", "Accepted blinks by device class."),
		FaceMissedTicks:  b.counter("vitalscan.face_missed_ticks", "Ticks without a detected face."),
		HRVEvaluations:   b.counter("vitalscan.hrv.evaluations", "HRV evaluations by outcome."),
		ScansCompleted:   b.counter("vitalscan.scans.completed", "Completed scans by stress tier."),
		ScansAborted:     b.counter("vitalscan.scans.aborted", "Aborted scans by reason."),
		ProviderRequests: b.counter("vitalscan.provider.requests", "Provider requests by provider, kind and status."),
		SinkDeliveries:   b.counter("vitalscan.sink.deliveries", "Result deliveries by sink and status."),
		ProviderErrors:   b.counter("vitalscan.provider.errors", "Provider errors by provider and kind."),

		ActiveScans:         b.gauge("vitalscan.active_scans", "Running scan sessions."),
		ProgressSubscribers: b.gauge("vitalscan.progress_subscribers", "Connected progress stream clients."),

		HTTPRequestDuration: b.histogram("vitalscan.http.request.duration", "Scan API request latency by method, route and status class."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBlink records one accepted blink.
func (m *Metrics) RecordBlink(ctx context.Context, deviceClass string) {
	m.Blinks.Add(ctx, 1, metric.WithAttributes(attribute.String("device_class", deviceClass)))
}

// RecordHRVEvaluation records the outcome of one HRV evaluation.
func (m *Metrics) RecordHRVEvaluation(ctx context.Context, available bool) {
	status := "unavailable"
	if available {
		status = "available"
	}
	m.HRVEvaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordScanCompleted records a completed scan with its stress tier. tier is
// "none" when the scan ended without a result.
func (m *Metrics) RecordScanCompleted(ctx context.Context, tier string) {
	m.ScansCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordScanAborted records an aborted scan.
func (m *Metrics) RecordScanAborted(ctx context.Context, reason string) {
	m.ScansAborted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSinkDelivery records one result hand-off attempt.
func (m *Metrics) RecordSinkDelivery(ctx context.Context, sink, status string) {
	m.SinkDeliveries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
}
