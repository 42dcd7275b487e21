package cluster

import (
	"time"
)

// Get returns a copy of a member's record
func (v *MembershipView) Get(id NodeID) (MemberInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	m, exists := v.members[id]
	if !exists {
		return MemberInfo{}, ErrMemberNotFound
	}
	return *m, nil
}

// Members returns copies of all member records
func (v *MembershipView) Members() []MemberInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()

	members := make([]MemberInfo, 0, len(v.members))
	for _, m := range v.members {
		members = append(members, *m)
	}
	return members
}

// MembersByState returns all members currently in the given state
func (v *MembershipView) MembersByState(state MemberState) []MemberInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()

	members := make([]MemberInfo, 0)
	for _, m := range v.members {
		if m.State == state {
			members = append(members, *m)
		}
	}
	return members
}

// RandomMembers returns up to n distinct members chosen uniformly at
// random, excluding the local node and any non-operational member.
// Takes the exclusive lock: shuffling mutates the shared rng.
func (v *MembershipView) RandomMembers(n int) []MemberInfo {
	v.mu.Lock()
	defer v.mu.Unlock()

	candidates := make([]MemberInfo, 0, len(v.members))
	for _, m := range v.members {
		if m.ID == v.self || !m.State.Operational() {
			continue
		}
		candidates = append(candidates, *m)
	}

	v.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

// StaleMembers returns operational members (excluding self) not heard from
// within the given timeout
func (v *MembershipView) StaleMembers(timeout time.Duration) []MemberInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()

	cutoff := time.Now().Add(-timeout)
	stale := make([]MemberInfo, 0)
	for _, m := range v.members {
		if m.ID == v.self || !m.State.Operational() {
			continue
		}
		if m.LastUpdated.Before(cutoff) {
			stale = append(stale, *m)
		}
	}
	return stale
}

// Version returns the view version, incremented on every accepted mutation
func (v *MembershipView) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.version
}

// Len returns the total number of members, including self
func (v *MembershipView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return len(v.members)
}

// OperationalCount returns the number of operational members, including self
func (v *MembershipView) OperationalCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	count := 0
	for _, m := range v.members {
		if m.State.Operational() {
			count++
		}
	}
	return count
}

// HasQuorum reports whether a majority of known members is operational
func (v *MembershipView) HasQuorum() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	operational := 0
	for _, m := range v.members {
		if m.State.Operational() {
			operational++
		}
	}
	return operational >= len(v.members)/2+1
}
