package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReplicationMetrics() {
	r.ReplicationWritesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_replication_writes_total",
			Help: "Key/value writes by status",
		},
		[]string{"status"}, // ok, quorum_failed
	)

	r.ReplicationReadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_replication_reads_total",
			Help: "Key/value reads by status",
		},
		[]string{"status"}, // ok, not_found, checksum_mismatch
	)

	r.ReplicationConflictsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_replication_conflicts_total",
			Help: "Conflict resolutions by outcome",
		},
		[]string{"resolution"}, // lww, vclock, custom, unresolved
	)

	r.ReplicationQuorumFailures = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "coord_replication_quorum_failures_total",
			Help: "Replication rounds that missed their consistency target",
		},
	)

	r.ReplicationAntiEntropyRounds = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_replication_anti_entropy_rounds_total",
			Help: "Anti-entropy rounds by status",
		},
		[]string{"status"}, // ok, failed, skipped
	)

	r.ReplicationSyncBytes = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_replication_sync_bytes_total",
			Help: "Bytes exchanged during synchronization",
		},
		[]string{"direction"}, // sent, received
	)
}

func (r *Registry) initSystemMetrics() {
	r.UptimeSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_uptime_seconds",
			Help: "Time since the daemon started in seconds",
		},
	)

	r.GoRoutines = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_goroutines",
			Help: "Number of goroutines",
		},
	)

	r.MemoryAllocBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)
}
