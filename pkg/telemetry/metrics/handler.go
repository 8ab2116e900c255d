package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus exposition handler for the collector's
// registry. OpenMetrics is negotiated when the scraper asks for it, and a
// failing collector does not fail the whole scrape.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(
		c.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		},
	)
}
