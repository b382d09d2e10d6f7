package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	CacheBytesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvaerner_cache_bytes_in_use",
			Help: "Resident page bytes currently held in the cache",
		},
	)

	CacheDirtyBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvaerner_cache_dirty_bytes",
			Help: "Resident page bytes with updates not yet reconciled to disk",
		},
	)

	EvictionPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvaerner_eviction_passes_total",
			Help: "Total number of eviction-server passes run",
		},
	)

	PagesEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvaerner_pages_evicted_total",
			Help: "Total number of pages reclaimed by the eviction server",
		},
	)

	// Transaction metrics
	TxnOldestID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvaerner_txn_oldest_id",
			Help: "Oldest transaction ID any session may still need to read",
		},
	)

	TxnCurrentID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvaerner_txn_current_id",
			Help: "Most recently allocated transaction ID",
		},
	)

	// WAL metrics
	WALBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvaerner_wal_bytes_written_total",
			Help: "Total bytes appended to the write-ahead log",
		},
	)

	WALFSyncTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvaerner_wal_fsync_total",
			Help: "Total fsync calls issued against the write-ahead log",
		},
	)

	// Checkpoint metrics
	CheckpointDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kvaerner_checkpoint_duration_seconds",
			Help:    "Duration of the most recently sampled checkpoint pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvaerner_checkpoint_generation",
			Help: "Sequence number of the most recently published checkpoint",
		},
	)

	// LSM metrics
	LSMChunkCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvaerner_lsm_chunk_count",
			Help: "Total chunks across every registered LSM tree's roster",
		},
	)

	LSMMergesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvaerner_lsm_merges_total",
			Help: "Total completed LSM merge passes",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CacheBytesInUse,
		CacheDirtyBytes,
		EvictionPassesTotal,
		PagesEvictedTotal,
		TxnOldestID,
		TxnCurrentID,
		WALBytesWrittenTotal,
		WALFSyncTotal,
		CheckpointDurationSeconds,
		CheckpointGeneration,
		LSMChunkCount,
		LSMMergesTotal,
	)
}

// Handler returns the Prometheus HTTP handler for a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
