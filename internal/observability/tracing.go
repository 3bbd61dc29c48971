package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	defaultBatchTimeout = 5 * time.Second
	defaultServiceName  = "missiond"
)

// TracingConfig controls span export for the daemon.
type TracingConfig struct {
	// Enabled turns tracing on; when false a no-op provider is used and
	// no spans are recorded.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`

	// ServiceName overrides the reported service.name.
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`

	// SampleRate is the trace-ID ratio sampler rate in [0, 1].
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate" mapstructure:"sample_rate"`

	// Insecure disables transport security to the collector. Only for
	// local development.
	Insecure bool `json:"insecure" yaml:"insecure" mapstructure:"insecure"`
}

// Validate checks the tracing configuration.
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("tracing is enabled but no endpoint is set")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate %v is outside [0, 1]", c.SampleRate)
	}
	return nil
}

// InitTracing initializes the global tracer provider. When tracing is
// disabled it installs a no-op provider, which records nothing and has
// no overhead. The returned shutdown func flushes pending spans and
// must be called on daemon exit.
func InitTracing(ctx context.Context, cfg TracingConfig, version string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	otlpOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		otlpOpts = append(otlpOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, otlpOpts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 1
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(defaultBatchTimeout)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}
