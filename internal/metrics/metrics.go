// Package metrics exposes the replica's counters and histograms over
// Prometheus (component Q, §4.6/§6): per-partition throttling
// delay/reject counts, private log size, backup request rate,
// duplication-disabled write count, and per-table per-RPC-code latency,
// the last one gated by the storage-request-code set the way
// original_source/src/replica/replica.cpp only times requests that
// actually reach the storage engine.
//
// Grounded on the teacher's promauto/promhttp wiring (Allen1211-mrkv
// internal/master/server.go's opsProcessed counter and its "/metrics"
// handler registration).
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// storageRPCCodes is the set of RPC codes that reach the storage engine and
// are therefore eligible for per-table latency tracking (§6); anything
// else — e.g. metadata-only calls — is excluded from the histogram the way
// the original only instruments storage-bound requests.
var storageRPCCodes = map[int32]bool{}

// RegisterStorageRPCCode marks rpcCode as storage-bound, so latency
// samples reported under it are recorded. Call during startup, before
// traffic begins.
func RegisterStorageRPCCode(rpcCode int32) {
	storageRPCCodes[rpcCode] = true
}

func isStorageRPCCode(rpcCode int32) bool {
	return storageRPCCodes[rpcCode]
}

// Metrics is the replica process's metrics registry.
type Metrics struct {
	PrivateLogSize        *prometheus.GaugeVec
	ThrottleDelayTotal    *prometheus.CounterVec
	ThrottleRejectTotal   *prometheus.CounterVec
	BackupRequestTotal    *prometheus.CounterVec
	DupDisabledWriteTotal *prometheus.CounterVec
	StorageLatencySeconds *prometheus.HistogramVec
}

// partitionLabels are applied to every per-partition series.
var partitionLabels = []string{"app", "partition"}

func New() *Metrics {
	return &Metrics{
		PrivateLogSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "partikv_replica",
			Name:      "private_log_bytes",
			Help:      "Size in bytes of the per-partition private log.",
		}, partitionLabels),

		ThrottleDelayTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partikv_replica",
			Name:      "throttle_delay_total",
			Help:      "Requests delayed by the throttler, by direction.",
		}, append(append([]string{}, partitionLabels...), "direction")),

		ThrottleRejectTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partikv_replica",
			Name:      "throttle_reject_total",
			Help:      "Requests rejected by the throttler, by direction.",
		}, append(append([]string{}, partitionLabels...), "direction")),

		BackupRequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partikv_replica",
			Name:      "backup_request_total",
			Help:      "Backup reads served by a partition.",
		}, partitionLabels),

		DupDisabledWriteTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partikv_replica",
			Name:      "duplication_disabled_write_total",
			Help:      "Non-idempotent writes admitted while duplication is paused for the partition.",
		}, partitionLabels),

		StorageLatencySeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "partikv_replica",
			Name:      "storage_request_latency_seconds",
			Help:      "Latency of requests that reach the storage engine, by table and RPC code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "rpc_code"}),
	}
}

// ObserveStorageLatency records a latency sample only if rpcCode is a
// registered storage RPC code; calls for other codes are silently dropped.
func (m *Metrics) ObserveStorageLatency(table string, rpcCode int32, seconds float64) {
	if !isStorageRPCCode(rpcCode) {
		return
	}
	m.StorageLatencySeconds.WithLabelValues(table, strconv.Itoa(int(rpcCode))).Observe(seconds)
}

// SetPrivateLogBytes gauges the per-partition private log's current size
// (§4.6's "private log size (MB)"), called each time the log grows.
func (m *Metrics) SetPrivateLogBytes(table, partition string, bytes int64) {
	m.PrivateLogSize.WithLabelValues(table, partition).Set(float64(bytes))
}

// IncThrottleDelay and IncThrottleReject record a single throttle.Delay or
// throttle.Reject outcome for direction ("read" or "write"), §4.6's
// "recent read/write throttling delay/reject counts."
func (m *Metrics) IncThrottleDelay(table, partition, direction string) {
	m.ThrottleDelayTotal.WithLabelValues(table, partition, direction).Inc()
}

func (m *Metrics) IncThrottleReject(table, partition, direction string) {
	m.ThrottleRejectTotal.WithLabelValues(table, partition, direction).Inc()
}

// IncDupDisabledWrite counts one non-idempotent write admitted while
// duplication is paused for the partition (§4.6's "duplication-disabled
// non-idempotent write count") — the write itself still proceeds; this
// only tracks how many such writes duplication will need to catch up on.
func (m *Metrics) IncDupDisabledWrite(table, partition string) {
	m.DupDisabledWriteTotal.WithLabelValues(table, partition).Inc()
}

// Handler returns the standard promhttp handler for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
