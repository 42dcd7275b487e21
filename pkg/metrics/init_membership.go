package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initMembershipMetrics() {
	r.MembershipMembers = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coord_membership_members",
			Help: "Number of members in the view by state",
		},
		[]string{"state"},
	)

	r.MembershipViewVersion = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_membership_view_version",
			Help: "Monotonic version of the membership view",
		},
	)

	r.MembershipHasQuorum = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_membership_has_quorum",
			Help: "Whether a majority of members is operational (1=yes, 0=no)",
		},
	)
}

func (r *Registry) initGossipMetrics() {
	r.GossipMessagesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_gossip_messages_total",
			Help: "Gossip messages by type and direction",
		},
		[]string{"type", "direction"}, // ping, ack, suspect, alive, dead / sent, received
	)

	r.GossipProbesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_gossip_probes_total",
			Help: "Direct and indirect probes by outcome",
		},
		[]string{"outcome"}, // acked, timeout, indirect
	)

	r.GossipSuspicionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "coord_gossip_suspicions_total",
			Help: "Total suspicions raised against peers",
		},
	)

	r.GossipRefutationsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "coord_gossip_refutations_total",
			Help: "Total self-refutations broadcast in response to suspicion",
		},
	)
}
