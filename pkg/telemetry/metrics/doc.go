// Package metrics exposes Prometheus metrics over HTTP.
//
// A Collector owns the registry the whole process reports to. The admission
// engine registers its decision, breaker and sweep metrics on it, and the
// collector adds HTTP request metrics and runtime collectors:
//
//	collector := metrics.NewCollector(nil)
//	engine, err := limits.NewEngine(cfg, limits.WithRegisterer(collector.Registry()))
//	mux.Handle("/metrics", collector.Handler())
package metrics
