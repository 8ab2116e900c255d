package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector owns the process metrics registry. The admission engine
// registers its own metrics on Registry(); the collector adds HTTP request
// metrics and the Go runtime and process collectors.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// NewCollector creates a collector on registry. A nil registry creates a
// fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_http_requests_total",
				Help: "Total number of HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
			},
			[]string{"route"},
		),

		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "turnstile_http_requests_in_flight",
				Help: "Number of HTTP requests being served",
			},
		),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry that metrics are exposed from.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Middleware records request count, duration and in-flight requests under
// the fixed route label, keeping cardinality independent of request paths.
func (c *Collector) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.inFlight.Inc()
		defer c.inFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		c.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		c.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}
