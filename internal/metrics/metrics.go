// Package metrics exposes Prometheus collectors for the contact form service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	submissionsTotal           *prometheus.CounterVec
	enrichmentTotal            *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	snapshotConflictsTotal     prometheus.Counter
	tokensIssuedTotal          prometheus.Counter
	rateLimitedTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contactform_submissions_total",
				Help: "Total number of submission requests, labeled by terminal outcome.",
			},
			[]string{"outcome"},
		)

		enrichmentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contactform_enrichment_total",
				Help: "Total number of geolocation lookups, labeled by result.",
			},
			[]string{"result"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contactform_notifications_total",
				Help: "Total number of operator notifications, labeled by result.",
			},
			[]string{"result"},
		)

		snapshotConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactform_snapshot_conflicts_total",
				Help: "Total number of snapshot uploads rejected because another writer won.",
			},
		)

		tokensIssuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contactform_tokens_issued_total",
				Help: "Total number of form tokens issued.",
			},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contactform_rate_limited_total",
				Help: "Total number of requests rejected by the per-client rate limit, labeled by route.",
			},
			[]string{"route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSubmission counts a submission request by outcome.
func ObserveSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEnrichment counts a geolocation attempt by result.
func ObserveEnrichment(result string) {
	enrichmentTotal.WithLabelValues(result).Inc()
}

// ObserveNotification counts an operator notification by result.
func ObserveNotification(result string) {
	notificationsTotal.WithLabelValues(result).Inc()
}

// ObserveSnapshotConflict increments the snapshot conflict counter.
func ObserveSnapshotConflict() {
	snapshotConflictsTotal.Inc()
}

// ObserveTokenIssued increments the issued token counter.
func ObserveTokenIssued() {
	tokensIssuedTotal.Inc()
}

// ObserveRateLimited counts a request rejected by the rate limiter.
func ObserveRateLimited(route string) {
	rateLimitedTotal.WithLabelValues(route).Inc()
}
