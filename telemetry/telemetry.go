// Package telemetry wires OpenTelemetry tracing and metrics for the authz
// service: an OTLP gRPC exporter for traces and a Prometheus exporter for
// metrics.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the telemetry configuration.
type Config struct {
	// ServiceName is the name of the service (e.g., "authz").
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment is the deployment environment (e.g., "production").
	Environment string

	// OTLPEndpoint is the OTLP exporter endpoint for traces.
	// Leave empty to disable trace export.
	OTLPEndpoint string

	// SamplingRate is the trace sampling rate (0.0-1.0).
	SamplingRate float64

	// Enabled determines if telemetry is active.
	Enabled bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "authz",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SamplingRate:   1.0,
		Enabled:        true,
	}
}

// Provider manages OpenTelemetry tracer and meter providers.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	checkCounter        metric.Int64Counter
	grantChangeCounter  metric.Int64Counter
	invalidationCounter metric.Int64Counter
	acceptCounter       metric.Int64Counter
	resolveDuration     metric.Float64Histogram
}

// NewProvider creates a new telemetry provider.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg}, nil
	}

	p := &Provider{config: cfg}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	if err := p.setupTracing(res); err != nil {
		return nil, err
	}
	if err := p.setupMetrics(res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(res *resource.Resource) error {
	var sampler sdktrace.Sampler
	if p.config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if p.config.SamplingRate <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(p.config.SamplingRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}

	if p.config.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(p.config.ServiceName)

	return nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	exporter, err := prometheus.New()
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(p.config.ServiceName)

	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.checkCounter, err = p.meter.Int64Counter(
		"authz.check.total",
		metric.WithDescription("Total number of role checks"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.grantChangeCounter, err = p.meter.Int64Counter(
		"authz.grants.changes.total",
		metric.WithDescription("Total number of applied grant changes"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.invalidationCounter, err = p.meter.Int64Counter(
		"authz.cache.invalidations.total",
		metric.WithDescription("Total number of invalidated cache entries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.acceptCounter, err = p.meter.Int64Counter(
		"authz.invitations.accepted.total",
		metric.WithDescription("Total number of accepted invitations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.resolveDuration, err = p.meter.Float64Histogram(
		"authz.resolve.duration",
		metric.WithDescription("Membership graph walk duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the telemetry providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Tracer returns the tracer instance.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(p.config.ServiceName)
	}
	return p.tracer
}

// Meter returns the meter instance.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(p.config.ServiceName)
	}
	return p.meter
}

// ---- Metric Recording Methods ----

// RecordCheck records one role check and its outcome.
func (p *Provider) RecordCheck(ctx context.Context, allowed bool, resourceType string) {
	if p.checkCounter == nil {
		return
	}
	status := "denied"
	if allowed {
		status = "allowed"
	}
	p.checkCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("resource_type", resourceType),
		),
	)
}

// RecordGrantChanges records the size of an applied delta.
func (p *Provider) RecordGrantChanges(ctx context.Context, resourceType string, count int) {
	if p.grantChangeCounter == nil {
		return
	}
	p.grantChangeCounter.Add(ctx, int64(count),
		metric.WithAttributes(
			attribute.String("resource_type", resourceType),
		),
	)
}

// RecordInvalidations records how many cache entries an operation dropped.
func (p *Provider) RecordInvalidations(ctx context.Context, count int) {
	if p.invalidationCounter == nil {
		return
	}
	p.invalidationCounter.Add(ctx, int64(count))
}

// RecordAcceptance records one invitation acceptance and how many
// resources it granted.
func (p *Provider) RecordAcceptance(ctx context.Context, resources int) {
	if p.acceptCounter == nil {
		return
	}
	p.acceptCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Int("resources", resources),
		),
	)
}

// RecordResolveDuration records one membership graph walk.
func (p *Provider) RecordResolveDuration(ctx context.Context, duration time.Duration) {
	if p.resolveDuration == nil {
		return
	}
	p.resolveDuration.Record(ctx, duration.Seconds())
}
