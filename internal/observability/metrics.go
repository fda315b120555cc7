package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors exported by the service.
type Metrics struct {
	SyncOperationsTotal  *prometheus.CounterVec
	SyncFilesTotal       *prometheus.CounterVec
	SyncDuration         prometheus.Histogram
	ActiveSyncs          prometheus.Gauge
	StuckOperationsReset prometheus.Counter

	EmbeddingBatchesTotal *prometheus.CounterVec
	EmbeddingDuration     prometheus.Histogram

	QueryRequestsTotal *prometheus.CounterVec
	QueryDuration      prometheus.Histogram

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewMetrics registers the service collectors on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg; tests pass a fresh registry to avoid
// duplicate-registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncOperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_sync_operations_total",
			Help: "Sync operations by terminal status",
		}, []string{"status"}),
		SyncFilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_sync_files_total",
			Help: "Files handled during sync by action",
		}, []string{"action"}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_sync_duration_seconds",
			Help:    "Wall-clock duration of sync operations",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ActiveSyncs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rag_sync_active",
			Help: "Sync operations currently running",
		}),
		StuckOperationsReset: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_sync_stuck_reset_total",
			Help: "Operations failed by stuck-operation cleanup",
		}),
		EmbeddingBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_embedding_batches_total",
			Help: "Embedding batches by outcome",
		}, []string{"outcome"}),
		EmbeddingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_embedding_duration_seconds",
			Help:    "Duration of embedding provider calls",
			Buckets: prometheus.DefBuckets,
		}),
		QueryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_query_requests_total",
			Help: "Retrieval requests by endpoint",
		}, []string{"endpoint"}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_query_duration_seconds",
			Help:    "End-to-end retrieval latency",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_query_cache_hits_total",
			Help: "Query embedding cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_query_cache_misses_total",
			Help: "Query embedding cache misses",
		}),
	}
}
