package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/tiers"
	"mercator-hq/turnstile/pkg/telemetry/logging"
	"mercator-hq/turnstile/pkg/telemetry/tracing"
)

// Admitter makes admission decisions. *limits.Engine implements it.
type Admitter interface {
	CheckAdmission(ctx context.Context, id limits.Identity, operation string, tier tiers.Tier) limits.AdmissionResult
}

// AdmissionOptions configures the Admission middleware.
type AdmissionOptions struct {
	// Operation names the operation a request performs. Nil admits every
	// request as limits.FallbackOperation.
	Operation func(*http.Request) string

	// TrustProxyHeaders enables client address extraction from proxy
	// headers.
	TrustProxyHeaders bool

	// Tier resolves the caller's subscription tier. Nil uses RequestTier,
	// which reads X-Subscription-Tier as sent; only leave it nil behind an
	// authenticating proxy that overwrites that header.
	Tier func(*http.Request) tiers.Tier

	// Logger receives denial logs. Nil uses slog.Default().
	Logger *slog.Logger
}

// FixedOperation returns an AdmissionOptions.Operation that names op for
// every request.
func FixedOperation(op string) func(*http.Request) string {
	return func(*http.Request) string { return op }
}

// Admission checks every request with engine before passing it to next.
// The caller identity comes from X-User-ID, the client address and the
// tenant; the tier from opts.Tier or X-Subscription-Tier. Rate limit headers are set on
// every response. Denied requests get 429 with the decision as JSON, and
// malformed identities get 400.
//
// Example:
//
//	mux.Handle("POST /payments", server.Admission(engine, server.AdmissionOptions{
//	    Operation: server.FixedOperation("payment.transfer"),
//	})(paymentsHandler))
func Admission(engine Admitter, opts AdmissionOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	operation := opts.Operation
	if operation == nil {
		operation = FixedOperation(limits.FallbackOperation)
	}
	tier := opts.Tier
	if tier == nil {
		tier = RequestTier
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := RequestIdentity(r, opts.TrustProxyHeaders)
			op := operation(r)
			ctx := withCaller(r.Context(), id, op)

			result := engine.CheckAdmission(ctx, id, op, tier(r))
			setLimitHeaders(w, result)

			if !result.Allowed {
				logger.InfoContext(ctx, "request denied",
					"dimension", string(result.Dimension),
					"retry_after_seconds", result.RetryAfterSeconds,
				)
				writeJSON(w, decisionStatus(result), result)
				return
			}
			if result.Err != nil && !errors.Is(result.Err, limits.ErrValidation) {
				logger.WarnContext(ctx, "request admitted without enforcement", "error", result.Err)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// withCaller records the caller on the log context and the active span.
func withCaller(ctx context.Context, id limits.Identity, op string) context.Context {
	tracing.SetCaller(trace.SpanFromContext(ctx), tracing.Caller{
		RequestID:     logging.GetRequestID(ctx),
		User:          id.UserID,
		Tenant:        id.Tenant,
		ClientAddress: id.Address,
	})
	if id.UserID != "" {
		ctx = logging.WithUser(ctx, id.UserID)
	}
	if id.Tenant != "" {
		ctx = logging.WithTenant(ctx, id.Tenant)
	}
	if id.Address != "" {
		ctx = logging.WithClientAddress(ctx, id.Address)
	}
	return logging.WithOperation(ctx, op)
}
