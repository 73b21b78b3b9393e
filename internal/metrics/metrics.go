// Package metrics defines the Prometheus metrics the sync engine exposes per
// spec.md §4.10, and the HTTP server that serves them alongside the health
// probes.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksIndexed counts blocks durably committed by the sync engine.
	BlocksIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmsync_blocks_indexed_total",
			Help: "Total number of blocks committed to the block repository",
		},
		[]string{"chain_id"},
	)

	// TransfersIndexed counts ERC-20 Transfer rows committed.
	TransfersIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmsync_transfers_indexed_total",
			Help: "Total number of transfer rows committed to the transfer repository",
		},
		[]string{"chain_id"},
	)

	// SyncLagBlocks is the gap between chain head and the last indexed block.
	SyncLagBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmsync_sync_lag_blocks",
			Help: "Blocks between the remote chain head and the last indexed block",
		},
		[]string{"chain_id"},
	)

	// RPCCalls counts every JSON-RPC call by endpoint and outcome.
	RPCCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmsync_rpc_calls_total",
			Help: "Total JSON-RPC calls by endpoint and outcome",
		},
		[]string{"endpoint", "method", "outcome"},
	)

	// RPCLatency observes per-call latency by endpoint.
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmsync_rpc_latency_ms",
			Help:    "JSON-RPC call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		},
		[]string{"endpoint", "method"},
	)

	// ReorgsTotal counts detected reorganizations.
	ReorgsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmsync_reorgs_total",
			Help: "Total number of chain reorganizations detected",
		},
		[]string{"chain_id"},
	)

	// ReorgDepth observes the depth of each handled reorg.
	ReorgDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmsync_reorg_depth_blocks",
			Help:    "Depth in blocks of each handled reorganization",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"chain_id"},
	)

	// BatchDuration observes wall-clock time for one sync engine batch.
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmsync_batch_duration_ms",
			Help:    "Duration of one sync engine batch in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 14),
		},
		[]string{"chain_id"},
	)

	// DBWriteLatency observes repository write latency by operation.
	DBWriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmsync_db_write_latency_ms",
			Help:    "Database write latency in milliseconds by operation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"operation"},
	)

	// DBErrors counts database errors by operation and error class.
	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmsync_db_errors_total",
			Help: "Total database errors by operation and error class",
		},
		[]string{"operation", "error_type"},
	)

	// ComponentHealth reports 1/0 per component, matching the teacher's pattern.
	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmsync_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	// LockHeld reports whether this instance currently holds the advisory lock.
	LockHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmsync_advisory_lock_held",
			Help: "Whether this instance currently holds the single-writer advisory lock",
		},
		[]string{"chain_id", "instance"},
	)

	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmsync_uptime_seconds",
			Help: "Process uptime in seconds",
		},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmsync_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmsync_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

// RPCCallInc records the outcome of a JSON-RPC call.
func RPCCallInc(endpoint, method, outcome string) {
	RPCCalls.WithLabelValues(endpoint, method, outcome).Inc()
}

// RPCLatencyObserve records the latency of a JSON-RPC call.
func RPCLatencyObserve(endpoint, method string, d time.Duration) {
	RPCLatency.WithLabelValues(endpoint, method).Observe(float64(d.Milliseconds()))
}

// BlocksIndexedAdd increments the indexed block counter.
func BlocksIndexedAdd(chainID string, n int) {
	BlocksIndexed.WithLabelValues(chainID).Add(float64(n))
}

// TransfersIndexedAdd increments the indexed transfer counter.
func TransfersIndexedAdd(chainID string, n int) {
	TransfersIndexed.WithLabelValues(chainID).Add(float64(n))
}

// SyncLagSet sets the current sync lag gauge.
func SyncLagSet(chainID string, lag uint64) {
	SyncLagBlocks.WithLabelValues(chainID).Set(float64(lag))
}

// ReorgObserve records a handled reorg and its depth.
func ReorgObserve(chainID string, depth uint64) {
	ReorgsTotal.WithLabelValues(chainID).Inc()
	ReorgDepth.WithLabelValues(chainID).Observe(float64(depth))
}

// BatchDurationObserve records the duration of one sync engine batch.
func BatchDurationObserve(chainID string, d time.Duration) {
	BatchDuration.WithLabelValues(chainID).Observe(float64(d.Milliseconds()))
}

// DBWriteLatencyObserve records the latency of a repository write.
func DBWriteLatencyObserve(operation string, d time.Duration) {
	DBWriteLatency.WithLabelValues(operation).Observe(float64(d.Milliseconds()))
}

// DBErrorInc records a database error.
func DBErrorInc(operation, errType string) {
	DBErrors.WithLabelValues(operation, errType).Inc()
}

// ComponentHealthSet reports component liveness.
func ComponentHealthSet(component string, healthy bool) {
	v := float64(1)
	if !healthy {
		v = 0
	}
	ComponentHealth.WithLabelValues(component).Set(v)
}

// LockHeldSet reports advisory lock ownership for this instance.
func LockHeldSet(chainID, instance string, held bool) {
	v := float64(0)
	if held {
		v = 1
	}
	LockHeld.WithLabelValues(chainID, instance).Set(v)
}

// UpdateSystemMetrics refreshes uptime, goroutine count, and memory stats.
// Called periodically by the metrics server.
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
