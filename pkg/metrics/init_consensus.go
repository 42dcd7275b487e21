package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initConsensusMetrics() {
	r.ConsensusTerm = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_consensus_term",
			Help: "Current election term",
		},
	)

	r.ConsensusRole = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coord_consensus_role",
			Help: "Node role in consensus (1 for current role, 0 otherwise)",
		},
		[]string{"role"}, // follower, candidate, leader
	)

	r.ConsensusElectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_consensus_elections_total",
			Help: "Total number of leader elections",
		},
		[]string{"result"}, // won, lost, timeout
	)

	r.ConsensusCommitIndex = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_consensus_commit_index",
			Help: "Highest log index known to be committed",
		},
	)

	r.ConsensusLogEntries = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_consensus_log_entries",
			Help: "Number of entries in the replicated log",
		},
	)

	r.ConsensusProposalsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_consensus_proposals_total",
			Help: "Proposals submitted to the consensus core",
		},
		[]string{"status"}, // accepted, rejected
	)
}
