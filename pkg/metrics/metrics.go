package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Crate storage metrics
	CratesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cargohold_crates_total",
			Help: "Total number of distinct crates in the registry",
		},
	)

	CrateVersionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cargohold_crate_versions_total",
			Help: "Total number of published crate versions",
		},
	)

	// Publish/download pipeline metrics
	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cargohold_publish_total",
			Help: "Total number of publish attempts by outcome",
		},
		[]string{"outcome"},
	)

	PublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cargohold_publish_duration_seconds",
			Help:    "Time taken to process a publish request, including ETag recompute",
			Buckets: prometheus.DefBuckets,
		},
	)

	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cargohold_downloads_total",
			Help: "Total number of crate downloads by source",
		},
		[]string{"source"}, // "local" or "upstream"
	)

	// Index service metrics
	IndexETagRecomputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cargohold_index_etag_recompute_duration_seconds",
			Help:    "Time taken to recompute a crate's sparse index ETag",
			Buckets: prometheus.DefBuckets,
		},
	)

	IndexRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cargohold_index_requests_total",
			Help: "Total number of sparse index requests by result",
		},
		[]string{"result"}, // "ok", "not_found"
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cargohold_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cargohold_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Token cache metrics
	TokenCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cargohold_token_cache_hits_total",
			Help: "Total number of token verifications served from cache",
		},
	)

	TokenCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cargohold_token_cache_misses_total",
			Help: "Total number of token verifications that missed the cache",
		},
	)

	// Upstream proxy / prefetch metrics
	UpstreamFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cargohold_upstream_fetch_duration_seconds",
			Help:    "Time taken to fetch from the upstream registry by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"}, // "index" or "crate"
	)

	UpstreamFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cargohold_upstream_fetch_total",
			Help: "Total number of upstream fetches by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	PrefetchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cargohold_prefetch_queue_depth",
			Help: "Current number of messages queued for the prefetch worker pool",
		},
	)

	// Webhook dispatcher metrics
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cargohold_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"}, // "success", "retry", "dropped"
	)

	WebhookDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cargohold_webhook_delivery_duration_seconds",
			Help:    "Time taken to deliver a webhook payload",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Object store metrics
	ObjectStoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cargohold_object_store_op_duration_seconds",
			Help:    "Time taken for an object store operation by kind and backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "backend"},
	)
)

func init() {
	prometheus.MustRegister(CratesTotal)
	prometheus.MustRegister(CrateVersionsTotal)
	prometheus.MustRegister(PublishTotal)
	prometheus.MustRegister(PublishDuration)
	prometheus.MustRegister(DownloadsTotal)
	prometheus.MustRegister(IndexETagRecomputeDuration)
	prometheus.MustRegister(IndexRequestsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TokenCacheHitsTotal)
	prometheus.MustRegister(TokenCacheMissesTotal)
	prometheus.MustRegister(UpstreamFetchDuration)
	prometheus.MustRegister(UpstreamFetchTotal)
	prometheus.MustRegister(PrefetchQueueDepth)
	prometheus.MustRegister(WebhookDeliveriesTotal)
	prometheus.MustRegister(WebhookDeliveryDuration)
	prometheus.MustRegister(ObjectStoreOpDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
