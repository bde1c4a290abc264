package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global provider
// for the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	useTestTracer(t)
	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "op")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not 32 hex chars", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestStartScanSpan(t *testing.T) {
	exp := useTestTracer(t)

	info := ScanInfo{SessionID: "s-1", DeviceID: "cam-0", DeviceClass: "mobile"}
	ctx, span := StartScanSpan(context.Background(), info)
	if CorrelationID(ctx) == "" {
		t.Error("scan span has no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "scan.session" {
		t.Fatalf("spans = %+v, want one scan.session", spans)
	}
	want := map[attribute.Key]string{
		"scan.session_id":   "s-1",
		"scan.device_id":    "cam-0",
		"scan.device_class": "mobile",
	}
	for _, kv := range spans[0].Attributes {
		if v, ok := want[kv.Key]; ok {
			if kv.Value.AsString() != v {
				t.Errorf("%s = %q, want %q", kv.Key, kv.Value.AsString(), v)
			}
			delete(want, kv.Key)
		}
	}
	if len(want) != 0 {
		t.Errorf("missing span attributes: %v", want)
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	tests := []struct {
		name     string
		withSpan bool
		info     *ScanInfo
		want     []string
		notWant  []string
	}{
		{name: "no span", notWant: []string{"trace_id", "span_id"}},
		{name: "span", withSpan: true, want: []string{"trace_id=", "span_id="}},
		{
			name:     "scan logger",
			withSpan: true,
			info:     &ScanInfo{SessionID: "s-9", DeviceID: "cam-1"},
			want:     []string{"trace_id=", "session_id=s-9", "device_id=cam-1"},
		},
		{
			name:    "scan logger skips empty fields",
			info:    &ScanInfo{SessionID: "s-9"},
			want:    []string{"session_id=s-9"},
			notWant: []string{"device_id", "trace_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx := context.Background()
			if tt.withSpan {
				c, s := StartSpan(ctx, "log")
				defer s.End()
				ctx = c
			}
			l := Logger(ctx)
			if tt.info != nil {
				l = ScanLogger(ctx, *tt.info)
			}
			l.Info("hello")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q should not contain %q", out, w)
				}
			}
		})
	}
}
