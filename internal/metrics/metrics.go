// Package metrics holds the Prometheus collectors shared by the extraction
// service, the view cache and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scopekeeper"

var (
	// BatchesStored counts StoreExtraction calls.
	// Labels: result (stored, duplicate, error)
	BatchesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "batches_stored_total",
			Help:      "Total number of extraction batches submitted, by outcome",
		},
		[]string{"result"},
	)

	RowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "rows_written_total",
			Help:      "Total number of category-item rows written",
		},
	)

	// MalformedRows counts rows skipped during reconstruction because their
	// payload could not be decoded.
	MalformedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "malformed_rows_total",
			Help:      "Total number of rows skipped because their payload was not valid JSON",
		},
	)

	// StoreDuration tracks row store latency.
	// Labels: op (insert_batch, list_owner, list_workspace, mark_deleted, count_status, stats)
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of row store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// ViewCache counts consolidated view cache lookups.
	// Labels: result (hit, miss, error, bypass)
	ViewCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "views",
			Name:      "cache_lookups_total",
			Help:      "Total number of consolidated view cache lookups, by result",
		},
		[]string{"result"},
	)

	// ViewBuildDuration tracks full recompute time per view.
	ViewBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "views",
			Name:      "build_duration_seconds",
			Help:      "Duration of consolidated view recomputation in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"view"},
	)

	// HTTPRequests counts API requests.
	// Labels: method, route, status
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests, by route and status",
		},
		[]string{"method", "route", "status"},
	)

	// SearchIndexSkipped counts item batches that could not be written to the
	// index.
	SearchIndexSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "index_skipped_total",
			Help:      "Total number of item batches not written to the index",
		},
	)

	// SearchFallbacks counts searches answered by the SQL fallback.
	SearchFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "fallback_queries_total",
			Help:      "Total number of searches served by the row store instead of the index",
		},
	)

	// AnalysisRequests counts calls to the analysis model.
	// Labels: result (ok, error, invalid)
	AnalysisRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "requests_total",
			Help:      "Total number of analysis model calls, by result",
		},
		[]string{"result"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "request_duration_seconds",
			Help:      "Duration of analysis model calls in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)
)
