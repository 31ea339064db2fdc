// Package metrics declares the Prometheus collectors shared by the ingestion
// pipeline, the search cache and the media worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsProcessed counts consumed events by consumer and result
	// (ok, skipped, failed).
	EventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatindex",
		Name:      "events_processed_total",
		Help:      "Events consumed by the ingestion pipeline.",
	}, []string{"consumer", "result"})

	// QueueDepth reports pending items per queue.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatindex",
		Name:      "queue_depth",
		Help:      "Items waiting in an in-process queue.",
	}, []string{"queue"})

	// EmergencyMode is 1 while a consumer is in emergency mode.
	EmergencyMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatindex",
		Name:      "emergency_mode",
		Help:      "Whether a consumer last failed to process an event.",
	}, []string{"consumer"})

	// CacheRequests counts search requests by cache outcome (hit, stale, miss).
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatindex",
		Name:      "search_cache_requests_total",
		Help:      "Search requests by cache outcome.",
	}, []string{"status"})

	// CacheWrites counts applied cache writer jobs by kind.
	CacheWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatindex",
		Name:      "search_cache_writes_total",
		Help:      "Cache writer jobs applied.",
	}, []string{"kind"})

	// SearchDuration observes end-to-end search latency.
	SearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chatindex",
		Name:      "search_duration_seconds",
		Help:      "Duration of search requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// MediaJobs counts media download jobs by result.
	MediaJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatindex",
		Name:      "media_jobs_total",
		Help:      "Media download jobs by result.",
	}, []string{"result"})

	// FloodWaits counts rate-limit pauses requested by the platform.
	FloodWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatindex",
		Name:      "flood_waits_total",
		Help:      "Platform flood-wait signals honoured.",
	})
)

func init() {
	prometheus.MustRegister(
		EventsProcessed,
		QueueDepth,
		EmergencyMode,
		CacheRequests,
		CacheWrites,
		SearchDuration,
		MediaJobs,
		FloodWaits,
	)
}
