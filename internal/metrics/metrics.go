package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the accuracy engine.
type Metrics struct {
	// Coordinator metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	DeferredTotal   prometheus.Counter
	DedupJoinsTotal prometheus.Counter
	IdempotencyHits prometheus.Counter

	// Cache metrics
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	DirtyEntries    prometheus.Gauge
	AutosaveFlushes *prometheus.CounterVec
	HistoryFlushes  *prometheus.CounterVec

	// Collaborator metrics
	EventsPublished *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "accuracy_requests_total",
					Help: "Total number of coordinator requests by status and depth",
				},
				[]string{"status", "depth"},
			),
			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "accuracy_request_duration_seconds",
					Help:    "Coordinator request duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~2s
				},
				[]string{"status"},
			),
			InFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "accuracy_inflight_requests",
					Help: "Number of aggregations currently in flight",
				},
			),
			DeferredTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "accuracy_deferred_total",
					Help: "Total number of requests deferred by admission control",
				},
			),
			DedupJoinsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "accuracy_dedup_joins_total",
					Help: "Total number of callers that joined an in-flight computation",
				},
			),
			IdempotencyHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "accuracy_idempotency_hits_total",
					Help: "Total number of requests served from the idempotency cache",
				},
			),
			CacheHits: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "accuracy_cache_hits_total",
					Help: "Total number of cache hits by layer",
				},
				[]string{"layer"}, // memory, redis, durable
			),
			CacheMisses: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "accuracy_cache_misses_total",
					Help: "Total number of cache misses by layer",
				},
				[]string{"layer"},
			),
			DirtyEntries: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "accuracy_dirty_entries",
					Help: "Number of cache entries with unflushed changes",
				},
			),
			AutosaveFlushes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "accuracy_autosave_flushes_total",
					Help: "Total number of autosave flush attempts by result",
				},
				[]string{"result"}, // success, failure
			),
			HistoryFlushes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "accuracy_history_flushes_total",
					Help: "Total number of historical context durable flushes by result",
				},
				[]string{"result"},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "accuracy_events_published_total",
					Help: "Total number of events published to the job queue",
				},
				[]string{"subject", "result"},
			),
		}
	})

	return sharedMetrics
}
