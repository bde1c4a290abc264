package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultServiceName = "vitalscan"

// ProviderConfig describes the scanner instance to the telemetry backends.
type ProviderConfig struct {
	// ServiceName defaults to "vitalscan".
	ServiceName    string
	ServiceVersion string

	// InstanceID distinguishes scanners sharing a backend. A random UUID is
	// used when empty.
	InstanceID string

	// DeviceID is the capture device this instance scans with, if known.
	DeviceID string

	// SampleRatio is the fraction of new traces kept, in (0, 1]. Zero keeps
	// all. Traces continued from a client follow the client's decision.
	SampleRatio float64

	// TraceExporter receives finished spans. Without one spans are still
	// created, so correlation IDs work, but nothing is exported.
	TraceExporter sdktrace.SpanExporter
}

// Provider owns the SDK providers installed by [InitProvider].
type Provider struct {
	registry *prometheus.Registry
	resource *resource.Resource
	shutdown []func(context.Context) error
}

// InitProvider installs global meter and tracer providers for the scanner
// and W3C trace-context propagation. Metrics go to a private Prometheus
// registry, together with Go runtime and process collectors, and are
// served by [Provider.Handler]. Call [Provider.Shutdown] before exit.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	res, err := scannerResource(cfg)
	if err != nil {
		return nil, err
	}
	p := &Provider{registry: prometheus.NewRegistry(), resource: res}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := promexporter.New(promexporter.WithRegisterer(p.registry))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	p.shutdown = append(p.shutdown, mp.Shutdown)

	tp := sdktrace.NewTracerProvider(traceOptions(res, cfg)...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	p.shutdown = append(p.shutdown, tp.Shutdown)

	return p, nil
}

func scannerResource(cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceInstanceID(cfg.InstanceID),
	}
	if cfg.DeviceID != "" {
		attrs = append(attrs, attribute.String("vitalscan.device_id", cfg.DeviceID))
	}
	// Schemaless, so the merge keeps the SDK default's schema URL instead
	// of failing on a version mismatch.
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

func traceOptions(res *resource.Resource, cfg ProviderConfig) []sdktrace.TracerProviderOption {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if r := cfg.SampleRatio; r > 0 && r < 1 {
		opts = append(opts, sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(r))))
	}
	if cfg.TraceExporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	return opts
}

// Resource returns the telemetry resource describing this instance.
func (p *Provider) Resource() *resource.Resource { return p.resource }

// Handler serves the Prometheus exposition of the private registry.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Shutdown flushes pending spans and metrics and closes the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}
