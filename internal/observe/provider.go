package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Resource attribute keys describing an alignment deployment.
const (
	StorageBackendKey = attribute.Key("bookalign.storage.backend")
	ParamsHashKey     = attribute.Key("bookalign.params_hash")
)

// ProviderConfig configures the OpenTelemetry providers installed by
// [InitProvider].
type ProviderConfig struct {
	// ServiceName defaults to "bookalign".
	ServiceName    string
	ServiceVersion string

	// Metrics installs a MeterProvider backed by the Prometheus exporter.
	// When false the instruments record into a no-op provider and nothing
	// is registered with the Prometheus default registry.
	Metrics bool

	// StorageBackend and ParamsHash are reported as resource attributes so
	// traces and metrics can be told apart per store and per configuration.
	StorageBackend string
	ParamsHash     string

	// TraceExporter receives the pipeline spans. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

// Provider holds the installed providers and the instruments built on them.
type Provider struct {
	Resource *resource.Resource
	Metrics  *Metrics

	shutdown []func(context.Context) error
}

// InitProvider builds the service resource, installs the global
// TracerProvider and, when cfg.Metrics is set, the global MeterProvider,
// and creates the bookalign instruments. Call [Provider.Shutdown] when done.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bookalign"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.StorageBackend != "" {
		attrs = append(attrs, StorageBackendKey.String(cfg.StorageBackend))
	}
	if cfg.ParamsHash != "" {
		attrs = append(attrs, ParamsHashKey.String(cfg.ParamsHash))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	p := &Provider{Resource: res}

	var mp metric.MeterProvider = noop.NewMeterProvider()
	if cfg.Metrics {
		exp, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
		}
		smp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))
		otel.SetMeterProvider(smp)
		p.shutdown = append(p.shutdown, smp.Shutdown)
		mp = smp
	}
	if p.Metrics, err = NewMetrics(mp); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	p.shutdown = append(p.shutdown, tp.Shutdown)

	return p, nil
}

// Shutdown flushes and closes the installed providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
