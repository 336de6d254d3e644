/*
Package metrics defines and registers cargohold's Prometheus metrics.

All metrics are package-level variables registered at init() and exposed
via Handler() for scraping. Collector periodically samples gauges that
aren't naturally updated on the request path (total crate/version
counts); everything else is updated inline by the package that owns the
operation (pkg/publish increments PublishTotal, pkg/upstream observes
UpstreamFetchDuration, and so on).

# Usage

	timer := metrics.NewTimer()
	// ... publish a crate ...
	timer.ObserveDuration(metrics.PublishDuration)
	metrics.PublishTotal.WithLabelValues("ok").Inc()

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
