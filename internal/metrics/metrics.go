package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	statusFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "display_sanitizer_status_fallback_total",
			Help: "Tickets whose status was not recognised and was coerced to WAITING",
		},
		[]string{"reason"},
	)

	rebuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "display_snapshot_rebuild_seconds",
			Help:    "Duration of full snapshot rebuilds per service",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"service_id"},
	)

	incrementalUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "display_snapshot_updates_total",
			Help: "Incremental ticket updates applied to snapshots",
		},
		[]string{"status", "result"},
	)

	estimates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "display_estimates_total",
			Help: "Wait-time estimates served, by estimation branch",
		},
		[]string{"branch"},
	)

	completions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "display_completions_recorded_total",
			Help: "Completed tickets fed into the historical wait-time model",
		},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "display_http_requests_total",
			Help: "HTTP requests handled, by status code class",
		},
		[]string{"method", "code"},
	)
)

func TrackStatusFallback(reason string) {
	statusFallbacks.WithLabelValues(reason).Inc()
}

func TrackRebuild(serviceID string, duration time.Duration) {
	rebuildDuration.WithLabelValues(serviceID).Observe(duration.Seconds())
}

func TrackUpdate(status, result string) {
	incrementalUpdates.WithLabelValues(status, result).Inc()
}

func TrackEstimate(branch string) {
	estimates.WithLabelValues(branch).Inc()
}

func TrackCompletion() {
	completions.Inc()
}

func TrackRequest(method, code string) {
	httpRequests.WithLabelValues(method, code).Inc()
}
