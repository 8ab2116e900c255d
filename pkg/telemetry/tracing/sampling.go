package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	// SamplerAlways samples all traces
	SamplerAlways = "always"

	// SamplerNever samples no traces
	SamplerNever = "never"

	// SamplerRatio samples a percentage of traces
	SamplerRatio = "ratio"
)

// createSampler creates a sampler based on the strategy and ratio.
//
// All samplers are wrapped in ParentBased, so a caller's sampling decision
// carried in traceparent is honoured and only root spans use strategy.
func createSampler(strategy string, ratio float64) (sdktrace.Sampler, error) {
	var base sdktrace.Sampler

	switch strategy {
	case SamplerAlways:
		base = sdktrace.AlwaysSample()
	case SamplerNever:
		base = sdktrace.NeverSample()
	case SamplerRatio:
		if ratio < 0.0 || ratio > 1.0 {
			return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
		}
		base = sdktrace.TraceIDRatioBased(ratio)
	default:
		return nil, fmt.Errorf("unknown sampler strategy: %s (valid: always, never, ratio)", strategy)
	}

	return sdktrace.ParentBased(base), nil
}
