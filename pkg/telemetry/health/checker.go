package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Overall and per-check statuses.
const (
	StatusOK        = "ok"
	StatusReady     = "ready"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc is a function that performs a health check for a component.
// It returns nil if the component is healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

// CheckResult represents the result of a single health check.
type CheckResult struct {
	// Status is "ok" or "unhealthy".
	Status string `json:"status"`

	// Critical reports whether a failure makes the instance not ready.
	Critical bool `json:"critical"`

	// Message describes the failure.
	Message string `json:"message,omitempty"`

	// DurationMS is how long the check took.
	DurationMS float64 `json:"duration_ms"`
}

// HealthStatus represents the overall health status of the instance.
type HealthStatus struct {
	// Status is "ok" for liveness, and "ready", "degraded" or "unhealthy"
	// for readiness.
	Status string `json:"status"`

	// Checks contains the status of individual components (for readiness)
	Checks map[string]CheckResult `json:"checks,omitempty"`

	// Timestamp is when the health check was performed
	Timestamp time.Time `json:"timestamp"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// Checker manages health checks for system components.
//
// A failing critical check makes the instance unhealthy. A failing optional
// check only marks it degraded: the shared store is optional because
// admission continues on local buckets without it.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]registeredCheck

	checkTimeout time.Duration
	now          func() time.Time
}

// ErrCheckTimeout is reported when a health check exceeds its timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// New creates a new health checker with the specified check timeout.
// If timeout is 0, defaults to 5 seconds per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	return &Checker{
		checks:       make(map[string]registeredCheck),
		checkTimeout: checkTimeout,
		now:          time.Now,
	}
}

// RegisterCheck registers a critical check. A check with the same name is
// replaced.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.register(name, check, true)
}

// RegisterOptionalCheck registers a check whose failure only degrades the
// instance.
func (c *Checker) RegisterOptionalCheck(name string, check CheckFunc) {
	c.register(name, check, false)
}

func (c *Checker) register(name string, check CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registeredCheck{fn: check, critical: critical}
}

// UnregisterCheck removes a health check for a named component.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// ListChecks returns the sorted names of all registered checks.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckLiveness reports that the process is running.
func (c *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	return HealthStatus{Status: StatusOK, Timestamp: c.now()}
}

// CheckReadiness runs every registered check concurrently and aggregates
// the results.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]registeredCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check registeredCheck) {
			defer wg.Done()
			result := c.runCheck(ctx, check)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := StatusReady
	for _, result := range results {
		if result.Status != StatusUnhealthy {
			continue
		}
		if result.Critical {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	return HealthStatus{Status: status, Checks: results, Timestamp: c.now()}
}

// runCheck executes a single health check with timeout.
func (c *Checker) runCheck(ctx context.Context, check registeredCheck) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	errChan := make(chan error, 1)
	go func() {
		errChan <- check.fn(checkCtx)
	}()

	var err error
	select {
	case err = <-errChan:
	case <-checkCtx.Done():
		err = ErrCheckTimeout
	}

	result := CheckResult{
		Status:     StatusOK,
		Critical:   check.critical,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}
