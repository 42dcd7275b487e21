package health

import (
	"runtime"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/consensus"
)

// MembershipCheck reports cluster quorum from the membership view. Losing
// quorum is unhealthy: quorum-gated writes cannot succeed without it.
func MembershipCheck(view *cluster.MembershipView) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "membership",
			Details: make(map[string]any),
		}

		total := view.Len()
		operational := view.OperationalCount()
		hasQuorum := view.HasQuorum()

		check.Details["has_quorum"] = hasQuorum
		check.Details["operational_nodes"] = operational
		check.Details["total_nodes"] = total
		check.Details["view_version"] = view.Version()

		switch {
		case !hasQuorum:
			check.Status = StatusUnhealthy
			check.Message = "No quorum"
		case operational < total:
			check.Status = StatusDegraded
			check.Message = "Some members not operational"
		default:
			check.Status = StatusHealthy
			check.Message = "All members operational"
		}
		return check
	}
}

// LeadershipCheck reports whether a leader with a valid lease is known.
// A leaderless window is expected during elections, so it degrades rather
// than fails.
func LeadershipCheck(election *consensus.Election) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "leadership",
			Details: make(map[string]any),
		}

		check.Details["role"] = election.State().String()
		check.Details["term"] = election.CurrentTerm()

		leader, known := election.CurrentLeader()
		if !known {
			check.Status = StatusDegraded
			check.Message = "No known leader"
			return check
		}

		check.Details["leader"] = leader
		check.Status = StatusHealthy
		check.Message = "Leader lease valid"
		return check
	}
}

// ReplicationCheck reports local replica state: how many keys are held and
// how stale the last successful anti-entropy round is
func ReplicationCheck(keys func() int, lastSync func() time.Time, maxSyncAge time.Duration) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "replication",
			Details: make(map[string]any),
		}

		check.Details["keys"] = keys()

		last := lastSync()
		if last.IsZero() {
			check.Status = StatusHealthy
			check.Message = "No sync rounds yet"
			return check
		}

		age := time.Since(last)
		check.Details["last_sync_age"] = age.String()

		if age > maxSyncAge {
			check.Status = StatusDegraded
			check.Message = "Anti-entropy falling behind"
		} else {
			check.Status = StatusHealthy
			check.Message = "Replication healthy"
		}
		return check
	}
}

// MemoryCheck reports heap pressure
func MemoryCheck() CheckFunc {
	return func() Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		check.Details["alloc_bytes"] = m.Alloc
		check.Details["sys_bytes"] = m.Sys

		if m.Sys > 0 && float64(m.Alloc)/float64(m.Sys) > 0.9 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}
		return check
	}
}

// SimpleCheck always reports healthy; used for liveness
func SimpleCheck(name string) Check {
	return Check{
		Name:        name,
		Status:      StatusHealthy,
		LastChecked: time.Now(),
	}
}
