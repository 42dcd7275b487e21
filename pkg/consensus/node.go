package consensus

import (
	"fmt"

	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/metrics"
)

// Node is the consensus core for one cluster member: an Election plus a
// ReplicatedLog, exposed through Propose and the two RPC handlers. It does
// no I/O; the Driver moves messages between Nodes.
type Node struct {
	cfg             Config
	election        *Election
	log             *ReplicatedLog
	logger          logging.Logger
	metricsRegistry *metrics.Registry
}

// NewNode creates a consensus core with an empty log
func NewNode(cfg Config, logger logging.Logger) *Node {
	n := &Node{
		cfg:             cfg,
		election:        NewElection(cfg, logger),
		log:             NewReplicatedLog(cfg.MaxLogEntries),
		logger:          logger.With(logging.Component("consensus"), logging.Node(cfg.NodeID)),
		metricsRegistry: metrics.DefaultRegistry(),
	}

	if cfg.EnablePreVote {
		n.logger.Warn("pre-vote requested but not implemented; running without it")
	}
	return n
}

// Election exposes the election module
func (n *Node) Election() *Election {
	return n.election
}

// Log exposes the replicated log
func (n *Node) Log() *ReplicatedLog {
	return n.log
}

// Propose appends data to the local log under the current term. Fails with
// NotLeaderError unless this node currently believes itself leader. The
// entry is appended, not committed: commitment happens once a majority
// acknowledges it via AppendEntries.
func (n *Node) Propose(data []byte) (uint64, error) {
	if !n.election.IsLeader() {
		leader, _ := n.election.CurrentLeader()
		n.metricsRegistry.ConsensusProposalsTotal.WithLabelValues("rejected").Inc()
		return 0, &NotLeaderError{Leader: leader}
	}

	index, err := n.log.Append(n.election.CurrentTerm(), data)
	if err != nil {
		n.metricsRegistry.ConsensusProposalsTotal.WithLabelValues("rejected").Inc()
		return 0, err
	}

	n.metricsRegistry.ConsensusProposalsTotal.WithLabelValues("accepted").Inc()
	return index, nil
}

// HandleRequestVote decides a vote request. The vote is granted only when
// the candidate's log tail is at least as up to date as ours
// (lexicographic on (lastLogTerm, lastLogIndex)) and the election module
// grants it.
func (n *Node) HandleRequestVote(req RequestVote) RequestVoteReply {
	reply := RequestVoteReply{
		Term:    n.election.CurrentTerm(),
		VoterID: n.cfg.NodeID,
	}

	if req.Term < reply.Term {
		reply.Reason = fmt.Sprintf("stale term (current: %d, requested: %d)", reply.Term, req.Term)
		return reply
	}

	lastIndex := n.log.LastIndex()
	lastTerm := n.log.LastTerm()
	upToDate := req.LastLogTerm > lastTerm ||
		(req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)

	if !upToDate {
		// The newer term is adopted even when the vote is denied
		n.election.StepDown(req.Term)
		reply.Term = n.election.CurrentTerm()
		reply.Reason = fmt.Sprintf("candidate log (%d,%d) behind local (%d,%d)",
			req.LastLogTerm, req.LastLogIndex, lastTerm, lastIndex)
		return reply
	}

	reply.VoteGranted = n.election.Vote(req.CandidateID, req.Term)
	reply.Term = n.election.CurrentTerm()
	if !reply.VoteGranted {
		reply.Reason = "already voted this term"
	}
	return reply
}

// HandleAppendEntries applies a replication RPC: verifies the log-matching
// property at (prevLogIndex, prevLogTerm), truncates any conflicting
// suffix, appends the new entries and advances the commit index to
// min(leaderCommit, lastIndex).
func (n *Node) HandleAppendEntries(req AppendEntries) AppendEntriesReply {
	reply := AppendEntriesReply{
		Term:       n.election.CurrentTerm(),
		FollowerID: n.cfg.NodeID,
	}

	if req.Term < reply.Term {
		return reply
	}

	// A current-term AppendEntries demotes us and refreshes the lease
	n.election.HandleHeartbeat(req.LeaderID, req.Term)
	reply.Term = n.election.CurrentTerm()

	if !n.log.Matches(req.PrevLogIndex, req.PrevLogTerm) {
		n.logger.Debug("append rejected: log mismatch",
			logging.Index(req.PrevLogIndex),
			logging.Term(req.PrevLogTerm))
		return reply
	}

	for _, entry := range req.Entries {
		if existing, ok := n.log.Entry(entry.Index); ok {
			if existing.Term == entry.Term {
				// Already present; re-sent entries are idempotent
				continue
			}
			// Conflict: drop the existing entry and everything after it
			if err := n.log.TruncateFrom(entry.Index); err != nil {
				n.logger.Error("refusing to truncate committed entries",
					logging.Index(entry.Index), logging.Err(err))
				return reply
			}
		}

		index, err := n.log.Append(entry.Term, entry.Data)
		if err != nil {
			n.logger.Error("append failed", logging.Index(entry.Index), logging.Err(err))
			return reply
		}
		if index != entry.Index {
			// Contiguity is broken only by a bug; refuse to continue
			n.logger.Error("log discontinuity detected",
				logging.Index(entry.Index), logging.Uint64("appended_at", index))
			return reply
		}
	}

	n.log.AdvanceCommitIndex(req.LeaderCommit)

	reply.Success = true
	reply.MatchIndex = req.PrevLogIndex + uint64(len(req.Entries))
	return reply
}
