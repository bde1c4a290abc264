package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/vitalscan"

// Span attribute keys shared by scan spans and scan log lines.
const (
	KeySessionID   = "session_id"
	KeyDeviceID    = "device_id"
	KeyDeviceClass = "device_class"
)

// Tracer returns the package-level [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// ScanInfo identifies one scan session in spans and logs.
type ScanInfo struct {
	SessionID   string
	DeviceID    string
	DeviceClass string
}

func (s ScanInfo) attrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("scan."+KeySessionID, s.SessionID),
		attribute.String("scan."+KeyDeviceID, s.DeviceID),
		attribute.String("scan."+KeyDeviceClass, s.DeviceClass),
	}
}

// StartScanSpan starts the root span of a scan session. The span lives for
// the whole session, so the caller ends it when the session turns terminal.
func StartScanSpan(ctx context.Context, info ScanInfo) (context.Context, trace.Span) {
	return StartSpan(ctx, "scan.session", trace.WithAttributes(info.attrs()...))
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// Scan results carry it so a stored row can be matched to its trace.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with trace_id and span_id from ctx
// attached, or the plain default logger when ctx carries no span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// ScanLogger is [Logger] with the session and device attached. Empty fields
// are omitted.
func ScanLogger(ctx context.Context, info ScanInfo) *slog.Logger {
	l := Logger(ctx)
	var args []any
	if info.SessionID != "" {
		args = append(args, KeySessionID, info.SessionID)
	}
	if info.DeviceID != "" {
		args = append(args, KeyDeviceID, info.DeviceID)
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}
