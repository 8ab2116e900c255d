// Package health provides liveness, readiness and version endpoints.
//
// Liveness only reports that the process runs. Readiness runs the
// registered checks concurrently, each bounded by a timeout. Critical
// failures answer 503; optional failures answer 200 with status
// "degraded", which is how a distributed instance reports that Redis is
// unreachable while it keeps admitting from local buckets.
package health
