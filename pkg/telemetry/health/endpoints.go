package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"golang.org/x/time/rate"
)

// VersionInfo contains build and version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// LivenessHandler returns the liveness probe handler. It always answers 200.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowProbeMethod(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	}
}

// ReadinessHandler returns the readiness probe handler.
//
// Returns:
//   - 200 OK: ready, or degraded with only optional checks failing
//   - 503 Service Unavailable: a critical check failed
//
// Example response (degraded):
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "scheduler": {"status": "ok", "critical": true, "duration_ms": 0.01},
//	        "redis": {"status": "unhealthy", "critical": false, "message": "dial tcp: connection refused", "duration_ms": 1.2}
//	    },
//	    "timestamp": "2026-03-02T09:00:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowProbeMethod(w, r) {
			return
		}

		status := c.CheckReadiness(r.Context())
		code := http.StatusOK
		if status.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
	}
}

// VersionHandler returns a handler reporting build information.
func VersionHandler(version, commit, buildTime string) http.HandlerFunc {
	info := VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !allowProbeMethod(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, info)
	}
}

// RateLimitedHandler bounds how often handler runs, answering 429 above
// requestsPerSecond.
func RateLimitedHandler(handler http.HandlerFunc, requestsPerSecond int) http.HandlerFunc {
	if requestsPerSecond <= 0 {
		return handler
	}
	limiter := rate.NewLimiter(rate.Every(time.Second/time.Duration(requestsPerSecond)), requestsPerSecond)

	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	}
}

func allowProbeMethod(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(body)
	}
}
