package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/turnstile/pkg/limits/breaker"
)

// Check outcomes recorded on turnstile_admission_checks_total.
const (
	outcomeAllowed  = "allowed"
	outcomeDenied   = "denied"
	outcomeError    = "error"
	outcomeInvalid  = "invalid"
	outcomeBypassed = "whitelisted"
)

// Metrics contains Prometheus metrics for the admission engine.
type Metrics struct {
	checks          *prometheus.CounterVec
	checkDuration   *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	breakerState    prometheus.Gauge
	blocks          *prometheus.CounterVec
	floods          prometheus.Counter
	violations      prometheus.Counter
	slidingWindow   *prometheus.CounterVec
	quotaExceeded   *prometheus.CounterVec
	alertsPublished *prometheus.CounterVec
	sweeps          *prometheus.CounterVec
}

// NewMetrics registers the engine metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_admission_checks_total",
				Help: "Total number of admission decisions by deciding dimension and outcome",
			},
			[]string{"dimension", "outcome"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_admission_check_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10µs to ~330ms
			},
			[]string{"check"},
		),

		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_store_fallbacks_total",
				Help: "Total number of bucket calls served locally while a shared store is configured",
			},
			[]string{"reason"},
		),

		breakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "turnstile_breaker_state",
				Help: "Availability guard state (0=closed, 1=open, 2=half_open)",
			},
		),

		blocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_blocks_total",
				Help: "Total number of entities blocked by reason",
			},
			[]string{"reason"},
		),

		floods: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "turnstile_flood_detections_total",
				Help: "Total number of floods detected",
			},
		),

		violations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "turnstile_violations_total",
				Help: "Total number of user and address rate limit violations",
			},
		),

		slidingWindow: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_sliding_window_checks_total",
				Help: "Total number of sliding-window checks by outcome",
			},
			[]string{"outcome"},
		),

		quotaExceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_quota_exceeded_total",
				Help: "Total number of quota checks rejected by window",
			},
			[]string{"window"},
		),

		alertsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_security_events_total",
				Help: "Total number of security events by type and delivery result",
			},
			[]string{"type", "result"},
		),

		sweeps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_sweep_removed_total",
				Help: "Total number of entries removed by background sweeps",
			},
			[]string{"sweep"},
		),
	}
}

// RecordCheck records an admission decision.
func (m *Metrics) RecordCheck(dimension Dimension, outcome string) {
	dim := string(dimension)
	if dim == "" {
		dim = "none"
	}
	m.checks.WithLabelValues(dim, outcome).Inc()
}

// ObserveDuration records how long a check took.
func (m *Metrics) ObserveDuration(check string, seconds float64) {
	m.checkDuration.WithLabelValues(check).Observe(seconds)
}

// RecordFallback records a bucket call served locally.
func (m *Metrics) RecordFallback(reason string) {
	m.fallbacks.WithLabelValues(reason).Inc()
}

// SetBreakerState records the availability guard state.
func (m *Metrics) SetBreakerState(state breaker.State) {
	m.breakerState.Set(float64(state))
}

// RecordBlock records a new block.
func (m *Metrics) RecordBlock(reason string) {
	m.blocks.WithLabelValues(reason).Inc()
}

// RecordFlood records a detected flood.
func (m *Metrics) RecordFlood() {
	m.floods.Inc()
}

// RecordViolation records a user or address violation.
func (m *Metrics) RecordViolation() {
	m.violations.Inc()
}

// RecordSlidingWindow records a sliding-window decision.
func (m *Metrics) RecordSlidingWindow(outcome string) {
	m.slidingWindow.WithLabelValues(outcome).Inc()
}

// RecordQuotaExceeded records a rejected quota check.
func (m *Metrics) RecordQuotaExceeded(window string) {
	m.quotaExceeded.WithLabelValues(window).Inc()
}

// RecordSecurityEvent records a security event delivery attempt.
func (m *Metrics) RecordSecurityEvent(eventType string, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.alertsPublished.WithLabelValues(eventType, result).Inc()
}

// RecordSweep records entries removed by a background sweep.
func (m *Metrics) RecordSweep(sweep string, removed int) {
	if removed > 0 {
		m.sweeps.WithLabelValues(sweep).Add(float64(removed))
	}
}
