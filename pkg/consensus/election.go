// Package consensus implements a single-group Raft-style consensus core:
// term-based leader election with leases, an append-only replicated log
// with a commit index, and the RequestVote/AppendEntries handlers that tie
// them together. Majority counting across peers lives in the driver; the
// core exposes only the handlers and the election/log primitives.
package consensus

import (
	"sync"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/metrics"
)

// State represents this node's position in the election protocol
type State int

const (
	// StateFollower follows the current leader
	StateFollower State = iota
	// StateCandidate is requesting votes
	StateCandidate
	// StateLeader is the elected leader
	StateLeader
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateFollower:
		return "follower"
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// LeaderInfo describes the last known leader. The claim is trusted only
// while the lease has not expired: an expired lease means "no known
// leader" even if LeaderID is still recorded.
type LeaderInfo struct {
	LeaderID       string
	Term           uint64
	LeaseExpiresAt time.Time
}

// Valid reports whether the leadership claim is still trusted at t
func (li LeaderInfo) Valid(t time.Time) bool {
	return li.LeaderID != "" && t.Before(li.LeaseExpiresAt)
}

// Election tracks term, vote and leadership state for one node.
//
// Concurrent safety: all state is protected by a single mutex; state
// transitions are atomic under it. Callbacks fire on a fresh goroutine so
// a slow callback never blocks the protocol.
type Election struct {
	cfg             Config
	logger          logging.Logger
	metricsRegistry *metrics.Registry

	mu            sync.Mutex
	state         State
	currentTerm   uint64
	votedFor      string // candidate voted for in the current term
	leader        LeaderInfo
	lastHeartbeat time.Time // last message that reset the election timer

	onBecomeLeader   func()
	onBecomeFollower func()
}

// NewElection creates an election module starting as Follower at term 0
func NewElection(cfg Config, logger logging.Logger) *Election {
	return &Election{
		cfg:             cfg,
		logger:          logger.With(logging.Component("election"), logging.Node(cfg.NodeID)),
		metricsRegistry: metrics.DefaultRegistry(),
		state:           StateFollower,
		lastHeartbeat:   time.Now(),
	}
}

// SetCallbacks registers state-transition callbacks
func (e *Election) SetCallbacks(onLeader, onFollower func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.onBecomeLeader = onLeader
	e.onBecomeFollower = onFollower
}

// StartElection moves to Candidate in a fresh term with a vote for self.
// Returns the new term.
func (e *Election) StartElection() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentTerm++
	e.state = StateCandidate
	e.votedFor = e.cfg.NodeID
	e.leader = LeaderInfo{}
	e.lastHeartbeat = time.Now()

	e.logger.Info("starting election", logging.Term(e.currentTerm))
	e.metricsRegistry.ConsensusTerm.Set(float64(e.currentTerm))
	e.metricsRegistry.SetConsensusRole(StateCandidate.String())

	return e.currentTerm
}

// Vote decides a vote request from candidate at term. Stale terms are
// rejected; a strictly newer term is adopted (clearing any existing vote)
// before deciding; the vote is granted only if no different vote was cast
// this term. Repeating an identical request re-grants (idempotent).
func (e *Election) Vote(candidate string, term uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if term < e.currentTerm {
		return false
	}

	if term > e.currentTerm {
		e.stepDownLocked(term)
	}

	if e.votedFor != "" && e.votedFor != candidate {
		return false
	}

	e.votedFor = candidate
	e.lastHeartbeat = time.Now() // granting a vote re-arms the election timer
	e.logger.Info("vote granted", logging.Peer(candidate), logging.Term(term))
	return true
}

// BecomeLeader records self as leader for the current term and starts the
// lease timer
func (e *Election) BecomeLeader() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = StateLeader
	e.leader = LeaderInfo{
		LeaderID:       e.cfg.NodeID,
		Term:           e.currentTerm,
		LeaseExpiresAt: time.Now().Add(e.cfg.LeaderLease),
	}

	e.logger.Info("became leader", logging.Term(e.currentTerm))
	e.metricsRegistry.ConsensusElectionsTotal.WithLabelValues("won").Inc()
	e.metricsRegistry.SetConsensusRole(StateLeader.String())

	if e.onBecomeLeader != nil {
		go e.onBecomeLeader()
	}
}

// RenewLease extends the lease while still leader. Returns false once
// leadership was lost, so a stale leader's loop stops renewing.
func (e *Election) RenewLease() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateLeader || e.leader.LeaderID != e.cfg.NodeID {
		return false
	}

	e.leader.LeaseExpiresAt = time.Now().Add(e.cfg.LeaderLease)
	return true
}

// HandleHeartbeat adopts the sender as leader when its term is current or
// newer, forcing local state to Follower. Returns false for stale terms.
func (e *Election) HandleHeartbeat(leader string, term uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if term < e.currentTerm {
		return false
	}

	if term > e.currentTerm {
		e.stepDownLocked(term)
	} else if e.state != StateFollower && leader != e.cfg.NodeID {
		// Same term, another established leader: yield
		e.stepDownLocked(term)
	}

	e.leader = LeaderInfo{
		LeaderID:       leader,
		Term:           term,
		LeaseExpiresAt: time.Now().Add(e.cfg.LeaderLease),
	}
	e.lastHeartbeat = time.Now()
	return true
}

// StepDown forces Follower at the given term, clearing the vote
func (e *Election) StepDown(term uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if term >= e.currentTerm {
		e.stepDownLocked(term)
	}
}

// stepDownLocked transitions to Follower; callers hold e.mu
func (e *Election) stepDownLocked(term uint64) {
	oldState := e.state

	e.state = StateFollower
	if term > e.currentTerm {
		e.currentTerm = term
		e.votedFor = ""
	}
	e.lastHeartbeat = time.Now()

	if oldState != StateFollower {
		e.logger.Info("became follower", logging.Term(term))
		e.metricsRegistry.SetConsensusRole(StateFollower.String())
		if oldState == StateCandidate {
			e.metricsRegistry.ConsensusElectionsTotal.WithLabelValues("lost").Inc()
		}
		if e.onBecomeFollower != nil {
			go e.onBecomeFollower()
		}
	}
	e.metricsRegistry.ConsensusTerm.Set(float64(e.currentTerm))
}

// ResetTimer re-arms the election timeout without other side effects
func (e *Election) ResetTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastHeartbeat = time.Now()
}

// TimeSinceHeartbeat returns how long ago the election timer was re-armed
func (e *Election) TimeSinceHeartbeat() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return time.Since(e.lastHeartbeat)
}

// State returns the current election state
func (e *Election) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// CurrentTerm returns the current term
func (e *Election) CurrentTerm() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.currentTerm
}

// IsLeader reports whether this node is leader with an unexpired lease
func (e *Election) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state == StateLeader &&
		e.leader.LeaderID == e.cfg.NodeID &&
		e.leader.Valid(time.Now())
}

// CurrentLeader returns the known leader, lease-gated: once the lease has
// expired there is no known leader even if one was previously recorded.
func (e *Election) CurrentLeader() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.leader.Valid(time.Now()) {
		return "", false
	}
	return e.leader.LeaderID, true
}

// Leader returns the raw LeaderInfo record, including an expired one
func (e *Election) Leader() LeaderInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.leader
}
