// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the quelle retrieval service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets covers fast vector lookups up to slow generation streams,
// ranging from 5ms to 120s.
var LatencyBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// IngestTotal counts ingestion calls by outcome ("success" or the
	// failing stage).
	IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quelle_ingest_total",
			Help: "Ingestion calls",
		},
		[]string{"status"},
	)

	// IngestDuration records the time spent in each ingestion stage.
	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quelle_ingest_duration_seconds",
			Help:    "Ingestion stage duration",
			Buckets: LatencyBuckets,
		},
		[]string{"stage"},
	)

	// SegmentsStoredTotal counts segments written to the vector store.
	SegmentsStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quelle_segments_stored_total",
			Help: "Segments stored",
		},
	)

	// EmbeddingRequestsTotal counts upstream embedding requests by outcome.
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quelle_embedding_requests_total",
			Help: "Embedding provider requests",
		},
		[]string{"status"},
	)

	// EmbeddingDuration records upstream embedding request latency.
	EmbeddingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quelle_embedding_duration_seconds",
			Help:    "Embedding provider latency",
			Buckets: LatencyBuckets,
		},
	)

	// SearchDuration records similarity search latency per backend.
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quelle_search_duration_seconds",
			Help:    "Vector search latency",
			Buckets: LatencyBuckets,
		},
		[]string{"backend", "status"},
	)

	// StreamDuration records the lifetime of answer streams by outcome
	// ("completed", "cancelled", "error").
	StreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quelle_stream_duration_seconds",
			Help:    "Answer stream duration",
			Buckets: LatencyBuckets,
		},
		[]string{"status"},
	)

	// StreamTokensTotal counts text fragments delivered to answer consumers.
	StreamTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quelle_stream_tokens_total",
			Help: "Answer fragments streamed",
		},
	)

	// RequestsTotal counts HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quelle_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quelle_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LatencyBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks the number of active SSE answer streams.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quelle_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quelle_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		IngestTotal,
		IngestDuration,
		SegmentsStoredTotal,
		EmbeddingRequestsTotal,
		EmbeddingDuration,
		SearchDuration,
		StreamDuration,
		StreamTokensTotal,
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		RateLimitRejectedTotal,
	)
}
