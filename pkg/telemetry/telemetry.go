package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/telemetry/health"
	"mercator-hq/turnstile/pkg/telemetry/logging"
	"mercator-hq/turnstile/pkg/telemetry/metrics"
	"mercator-hq/turnstile/pkg/telemetry/tracing"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Telemetry bundles the process logger, metrics, tracer and health checker.
type Telemetry struct {
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
	Health  *health.Checker
	Build   BuildInfo
}

// Options adjusts New.
type Options struct {
	// LogWriter receives log output. Nil means stdout.
	LogWriter io.Writer
}

// New builds every telemetry component from cfg.
func New(cfg *config.TelemetryConfig, build BuildInfo, opts ...func(*Options)) (*Telemetry, error) {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger, err := logging.New(cfg.Logging, o.LogWriter)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tracer, err := tracing.New(&cfg.Tracing, build.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	return &Telemetry{
		Logger:  logger,
		Metrics: metrics.NewCollector(nil),
		Tracer:  tracer,
		Health:  health.New(cfg.Health.CheckTimeout),
		Build:   build,
	}, nil
}

// WithLogWriter sends log output to w.
func WithLogWriter(w io.Writer) func(*Options) {
	return func(o *Options) { o.LogWriter = w }
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.Tracer != nil {
		if err := t.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}
	return errors.Join(errs...)
}
