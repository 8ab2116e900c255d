package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"

	"mercator-hq/turnstile/pkg/config"
)

const instrumentationName = "mercator-hq/turnstile"

// Tracer wraps the OpenTelemetry tracer used for admission spans.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
}

// New creates a Tracer from cfg. When tracing is disabled a noop tracer is
// returned. version is recorded as the service version.
//
// The tracer must be shut down when no longer needed:
//
//	defer tracer.Shutdown(context.Background())
func New(cfg *config.TracingConfig, version string) (*Tracer, error) {
	if cfg == nil {
		return nil, errors.New("tracing config is nil")
	}
	if !cfg.Enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}, nil
	}

	exporter, err := createOTLPExporter(cfg)
	if err != nil {
		return nil, err
	}
	return newWithExporter(cfg, version, exporter)
}

// newWithExporter builds an enabled tracer around exporter.
func newWithExporter(cfg *config.TracingConfig, version string, exporter sdktrace.SpanExporter) (*Tracer, error) {
	sampler, err := createSampler(cfg.Sampler, cfg.SampleRatio)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Tracer{
		tracer:   provider.Tracer(instrumentationName),
		provider: provider,
		enabled:  true,
	}, nil
}

// Start creates a span linked to the parent span in ctx.
//
//	ctx, span := tracer.Start(ctx, "admission.check")
//	defer span.End()
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// OTel returns the underlying tracer, for components that start their own
// spans.
func (t *Tracer) OTel() trace.Tracer {
	return t.tracer
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// ForceFlush exports every finished span.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.ForceFlush(ctx)
}

// Enabled returns whether tracing is enabled.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// createOTLPExporter creates an OTLP gRPC exporter. The connection is
// established lazily, so an unreachable collector does not fail startup.
func createOTLPExporter(cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// TraceID returns the trace ID from the context, or "" without a valid span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SetError marks the span as failed and records err.
func SetError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.SetAttributes(attribute.Bool("error", true))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
