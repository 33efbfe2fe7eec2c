package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grants",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	SearchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants",
		Name:      "searches_total",
		Help:      "Aggregated searches by outcome (ok, partial, failed).",
	}, []string{"outcome"})

	SearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "grants",
		Name:      "search_duration_seconds",
		Help:      "End-to-end aggregated search duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants",
		Name:      "source_requests_total",
		Help:      "Requests to grant sources by source id and result status.",
	}, []string{"source", "status"})

	SourceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grants",
		Name:      "source_request_duration_seconds",
		Help:      "Grant source request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"source"})

	SourceAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "grants",
		Name:      "source_available",
		Help:      "Whether a source is available (1) or blocked by the circuit breaker (0).",
	}, []string{"source"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grants",
		Name:      "cache_hits_total",
		Help:      "Total number of per-source cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grants",
		Name:      "cache_misses_total",
		Help:      "Total number of per-source cache misses.",
	})

	DuplicatesRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grants",
		Name:      "duplicates_removed_total",
		Help:      "Total number of duplicate grants collapsed by deduplication.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SearchesTotal,
		SearchDuration,
		SourceRequestsTotal,
		SourceRequestDuration,
		SourceAvailable,
		CacheHitsTotal,
		CacheMissesTotal,
		DuplicatesRemovedTotal,
	)
}
