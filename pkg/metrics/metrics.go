// Package metrics exposes prometheus instrumentation for the coordination
// daemon: membership, gossip, consensus, replication and process metrics.
package metrics

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the daemon
type Registry struct {
	// Membership metrics
	MembershipMembers     *prometheus.GaugeVec // by state
	MembershipViewVersion prometheus.Gauge
	MembershipHasQuorum   prometheus.Gauge

	// Gossip metrics
	GossipMessagesTotal    *prometheus.CounterVec // type, direction
	GossipProbesTotal      *prometheus.CounterVec // outcome
	GossipSuspicionsTotal  prometheus.Counter
	GossipRefutationsTotal prometheus.Counter

	// Consensus metrics
	ConsensusTerm           prometheus.Gauge
	ConsensusRole           *prometheus.GaugeVec   // role
	ConsensusElectionsTotal *prometheus.CounterVec // result
	ConsensusCommitIndex    prometheus.Gauge
	ConsensusLogEntries     prometheus.Gauge
	ConsensusProposalsTotal *prometheus.CounterVec // status

	// Replication metrics
	ReplicationWritesTotal       *prometheus.CounterVec // status
	ReplicationReadsTotal        *prometheus.CounterVec // status
	ReplicationConflictsTotal    *prometheus.CounterVec // resolution
	ReplicationQuorumFailures    prometheus.Counter
	ReplicationAntiEntropyRounds *prometheus.CounterVec // status
	ReplicationSyncBytes         *prometheus.CounterVec // direction

	// System metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initMembershipMetrics()
	r.initGossipMetrics()
	r.initConsensusMetrics()
	r.initReplicationMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// HTTPHandler returns the /metrics handler for this registry
func (r *Registry) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetConsensusRole sets the current consensus role gauge (one-hot)
func (r *Registry) SetConsensusRole(role string) {
	for _, known := range []string{"follower", "candidate", "leader"} {
		r.ConsensusRole.WithLabelValues(known).Set(0)
	}
	r.ConsensusRole.WithLabelValues(role).Set(1)
}

// UpdateMembershipMetrics refreshes the per-state member gauges
func (r *Registry) UpdateMembershipMetrics(byState map[string]int, version uint64, hasQuorum bool) {
	for state, n := range byState {
		r.MembershipMembers.WithLabelValues(state).Set(float64(n))
	}
	r.MembershipViewVersion.Set(float64(version))
	if hasQuorum {
		r.MembershipHasQuorum.Set(1)
	} else {
		r.MembershipHasQuorum.Set(0)
	}
}

// CollectSystem samples runtime stats into the system gauges
func (r *Registry) CollectSystem(startedAt time.Time) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	r.UptimeSeconds.Set(time.Since(startedAt).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(ms.Alloc))
}
