// Package metrics exposes Prometheus collectors for the review
// acquisition engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal   *prometheus.CounterVec
	reviewsDedupedTotal *prometheus.CounterVec
	captchaSolvesTotal  *prometheus.CounterVec
	syncDurationSeconds *prometheus.HistogramVec
	activeSyncs         prometheus.Gauge
	sessionResetsTotal  prometheus.Counter
	pageDelaysSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviews_pages_fetched_total",
				Help: "Total number of pagination requests issued, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		reviewsDedupedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviews_deduped_total",
				Help: "Total number of candidate reviews dropped by the deduplicator, labeled by reason.",
			},
			[]string{"reason"},
		)

		captchaSolvesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviews_captcha_solves_total",
				Help: "Total number of captcha challenges encountered, labeled by method and outcome.",
			},
			[]string{"method", "outcome"},
		)

		syncDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviews_sync_duration_seconds",
				Help:    "Histogram of Source sync durations, labeled by mode (full or incremental).",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
			},
			[]string{"mode"},
		)

		activeSyncs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "reviews_active_syncs",
				Help: "Number of Source syncs currently in flight.",
			},
		)

		sessionResetsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reviews_session_resets_total",
				Help: "Total number of times the Session Manager reset its identity.",
			},
		)

		pageDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviews_page_delay_seconds",
				Help:    "Histogram of politeness-pause durations between pagination requests.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"kind"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one pagination request's outcome.
func ObservePage(endpoint, outcome string) {
	pagesFetchedTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveDedupDrop records one deduplicator rejection.
func ObserveDedupDrop(reason string) {
	reviewsDedupedTotal.WithLabelValues(reason).Inc()
}

// ObserveCaptchaSolve records one captcha challenge's outcome.
func ObserveCaptchaSolve(method, outcome string) {
	captchaSolvesTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveSyncDuration records how long one Source sync took, labeled by
// mode ("full" or "incremental").
func ObserveSyncDuration(mode string, d time.Duration) {
	syncDurationSeconds.WithLabelValues(mode).Observe(d.Seconds())
}

// IncActiveSyncs increments the in-flight sync gauge.
func IncActiveSyncs() { activeSyncs.Inc() }

// DecActiveSyncs decrements the in-flight sync gauge.
func DecActiveSyncs() { activeSyncs.Dec() }

// ObserveSessionReset increments the session reset counter.
func ObserveSessionReset() { sessionResetsTotal.Inc() }

// ObservePageDelay records one politeness-pause duration.
func ObservePageDelay(kind string, d time.Duration) {
	pageDelaysSeconds.WithLabelValues(kind).Observe(d.Seconds())
}
