// Package server exposes the admission engine over HTTP.
//
// # Routes
//
// Admission API (JSON in, JSON out; 200 allowed, 429 denied, 400 invalid):
//
//   - POST /v1/admission/check
//   - POST /v1/admission/sliding-window
//   - POST /v1/admission/cost
//   - POST /v1/admission/progressive
//   - POST /v1/quota/check
//
// Admin API, guarded by server.admin_token when set:
//
//   - POST   /v1/admin/whitelist
//   - DELETE /v1/admin/whitelist/{kind}/{value}
//   - POST   /v1/admin/blocks
//   - GET    /v1/admin/blocks
//   - DELETE /v1/admin/blocks/{identifier}
//   - DELETE /v1/admin/blocks/tenant/{tenant}
//   - POST   /v1/admin/adjustments
//   - POST   /v1/admin/reset
//   - GET    /v1/admin/statistics
//   - GET    /v1/admin/operations
//
// Telemetry: the Prometheus endpoint, liveness, readiness and version, at
// the paths configured under telemetry.
//
// Every admission response carries X-RateLimit-Limit, X-RateLimit-Remaining,
// X-RateLimit-Reset and X-RateLimit-Policy; denials add Retry-After.
//
// # Middleware Chain
//
// Outermost to innermost: recovery, request ID, tracing, logging, body
// size limit. Admission wraps application handlers that should be rate
// limited in-process instead of through the API:
//
//	mux.Handle("POST /transfers", server.Admission(engine, server.AdmissionOptions{
//	    Operation:         server.FixedOperation("payment.transfer"),
//	    TrustProxyHeaders: true,
//	})(transfers))
//
// # Caller Identity
//
// The user comes from X-User-ID and the tier from X-Subscription-Tier.
// The client address is taken from the first usable proxy header
// (CF-Connecting-IP, X-Forwarded-For, X-Real-IP, True-Client-IP,
// X-Client-IP, X-Cluster-Client-IP, Forwarded-For, Forwarded) when proxy
// headers are trusted, else from the connection. The tenant comes from
// X-Tenant-ID or the first label of the Host.
//
// None of these headers are authenticated. X-Subscription-Tier in particular
// must be overwritten by a trusted proxy, or AdmissionOptions.Tier set to
// resolve the tier from the caller's credentials.
package server
