package cluster

import (
	"time"
)

// accepts decides whether an incoming (state, incarnation) pair may replace
// the stored record. Monotonicity rule: a higher incarnation always wins;
// at equal incarnations only a strictly more severe state wins.
func accepts(stored *MemberInfo, state MemberState, incarnation uint64) bool {
	if incarnation > stored.Incarnation {
		return true
	}
	if incarnation == stored.Incarnation {
		return state.severity() > stored.State.severity()
	}
	return false
}

// Upsert inserts the member or applies its record as an update, subject to
// the monotonicity rule. Returns true if the view changed.
func (v *MembershipView) Upsert(info MemberInfo) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored, exists := v.members[info.ID]
	if exists {
		if !accepts(stored, info.State, info.Incarnation) {
			// Refresh the address even when the state rumor is stale
			if info.Addr != "" && info.Addr != stored.Addr {
				stored.Addr = info.Addr
			}
			return false
		}
		stored.State = info.State
		stored.Incarnation = info.Incarnation
		if info.Addr != "" {
			stored.Addr = info.Addr
		}
		stored.LastUpdated = time.Now()
	} else {
		record := info
		record.LastUpdated = time.Now()
		v.members[info.ID] = &record
	}

	v.version++
	v.updateMetricsLocked()
	return true
}

// UpdateState applies a (state, incarnation) update to an existing member,
// creating the record if the member is unknown. Returns true if the view
// changed; stale input is a silent no-op, not an error.
func (v *MembershipView) UpdateState(id NodeID, state MemberState, incarnation uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored, exists := v.members[id]
	if !exists {
		v.members[id] = &MemberInfo{
			ID:          id,
			State:       state,
			Incarnation: incarnation,
			LastUpdated: time.Now(),
		}
		v.version++
		v.updateMetricsLocked()
		return true
	}

	if !accepts(stored, state, incarnation) {
		return false
	}

	stored.State = state
	stored.Incarnation = incarnation
	stored.LastUpdated = time.Now()
	v.version++
	v.updateMetricsLocked()
	return true
}

// MarkFailed forces a member to Failed at its current incarnation,
// bypassing the severity rule. Used for authoritative Dead announcements.
func (v *MembershipView) MarkFailed(id NodeID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored, exists := v.members[id]
	if !exists {
		return false
	}
	if stored.State == StateFailed {
		return false
	}

	stored.State = StateFailed
	stored.LastUpdated = time.Now()
	v.version++
	v.updateMetricsLocked()
	return true
}

// Touch refreshes a member's LastUpdated timestamp
func (v *MembershipView) Touch(id NodeID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored, exists := v.members[id]
	if !exists {
		return false
	}

	stored.LastUpdated = time.Now()
	v.version++
	return true
}

// Remove deletes a member from the view
func (v *MembershipView) Remove(id NodeID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if id == v.self {
		return ErrCannotRemoveSelf
	}
	if _, exists := v.members[id]; !exists {
		return ErrMemberNotFound
	}

	delete(v.members, id)
	v.version++
	v.updateMetricsLocked()
	return nil
}

// BumpIncarnation increments the local node's incarnation and marks it
// Active. Called to refute a suspicion about ourselves; returns the new
// incarnation to broadcast.
func (v *MembershipView) BumpIncarnation() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	me := v.members[v.self]
	me.Incarnation++
	me.State = StateActive
	me.LastUpdated = time.Now()
	v.version++
	v.updateMetricsLocked()
	return me.Incarnation
}

// updateMetricsLocked refreshes membership gauges; callers hold v.mu
func (v *MembershipView) updateMetricsLocked() {
	if v.metricsRegistry == nil {
		return
	}

	byState := map[string]int{
		StateActive.String():    0,
		StateSuspected.String(): 0,
		StateFailed.String():    0,
		StateLeaving.String():   0,
		StateLeft.String():      0,
	}
	operational := 0
	for _, m := range v.members {
		byState[m.State.String()]++
		if m.State.Operational() {
			operational++
		}
	}
	hasQuorum := operational >= len(v.members)/2+1
	v.metricsRegistry.UpdateMembershipMetrics(byState, v.version, hasQuorum)
}
