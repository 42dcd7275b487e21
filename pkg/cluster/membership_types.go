package cluster

import (
	"math/rand"
	"sync"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/metrics"
)

// NodeID uniquely identifies a cluster node
type NodeID string

// MemberState represents the liveness state of a cluster member
type MemberState int

const (
	// StateActive is a member believed alive
	StateActive MemberState = iota
	// StateSuspected is a member that missed a probe and is awaiting refutation
	StateSuspected
	// StateFailed is a member declared dead by the failure detector
	StateFailed
	// StateLeaving is a member that announced a graceful departure
	StateLeaving
	// StateLeft is a member that completed a graceful departure
	StateLeft
)

// String returns the string representation of a MemberState
func (s MemberState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSuspected:
		return "suspected"
	case StateFailed:
		return "failed"
	case StateLeaving:
		return "leaving"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// severity orders states for conflict resolution at equal incarnations.
// A stale "alive" rumor can never revive a node already known dead at the
// same incarnation: only a strictly higher severity wins the tie.
func (s MemberState) severity() int {
	switch s {
	case StateFailed, StateLeft:
		return 3
	case StateSuspected:
		return 2
	case StateLeaving:
		return 1
	default: // StateActive
		return 0
	}
}

// Operational reports whether a member in this state can be probed or
// receive replicated data. Suspected members remain operational so they
// get a chance to refute.
func (s MemberState) Operational() bool {
	return s == StateActive || s == StateSuspected
}

// MemberInfo is the record the view keeps per member
type MemberInfo struct {
	ID          NodeID
	Addr        string // network address (host:port)
	State       MemberState
	Incarnation uint64    // bumped by the member itself to refute rumors
	LastUpdated time.Time // last time any update about this member was accepted
}

// MembershipView tracks all members of the cluster.
//
// Concurrent safety:
// 1. All public methods use RWMutex for thread-safe access
// 2. Read operations use RLock for concurrent reads
// 3. Mutations (Upsert, UpdateState, Touch, Remove) use Lock
// 4. Returned records are defensive copies; callers never see live pointers
//
// Every accepted mutation increments the view version. Updates carrying a
// lower incarnation than the stored record, or an equal incarnation without
// a strictly more severe state, are silent no-ops.
type MembershipView struct {
	self            NodeID
	members         map[NodeID]*MemberInfo
	version         uint64
	rng             *rand.Rand
	mu              sync.RWMutex
	metricsRegistry *metrics.Registry
}

// NewMembershipView creates a view containing only the local node, Active
// at incarnation 0
func NewMembershipView(self NodeID, selfAddr string) *MembershipView {
	v := &MembershipView{
		self:            self,
		members:         make(map[NodeID]*MemberInfo),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		metricsRegistry: metrics.DefaultRegistry(),
	}
	v.members[self] = &MemberInfo{
		ID:          self,
		Addr:        selfAddr,
		State:       StateActive,
		LastUpdated: time.Now(),
	}
	return v
}

// SelfID returns the local node's ID
func (v *MembershipView) SelfID() NodeID {
	return v.self
}

// Self returns a copy of the local node's record
func (v *MembershipView) Self() MemberInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return *v.members[v.self]
}
