package consensus

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/transport"
)

const rpcTimeout = 2 * time.Second

// Driver orchestrates a Node over the network: it runs the election
// timeout, campaigns, counts votes to a majority, and as leader streams
// AppendEntries to every operational peer and advances the commit index
// once a majority matches.
//
// Concurrent safety: leader bookkeeping (nextIndex/matchIndex, vote tally)
// is protected by one mutex; messages are built under it and sent after
// releasing it.
type Driver struct {
	cfg    Config
	node   *Node
	view   *cluster.MembershipView
	tp     transport.Transport
	logger logging.Logger
	rng    *rand.Rand

	mu         sync.Mutex
	votes      map[string]bool
	voteTerm   uint64
	nextIndex  map[string]uint64
	matchIndex map[string]uint64

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewDriver wires a consensus node to the membership view and transport
func NewDriver(cfg Config, node *Node, view *cluster.MembershipView, tp transport.Transport, logger logging.Logger) *Driver {
	d := &Driver{
		cfg:        cfg,
		node:       node,
		view:       view,
		tp:         tp,
		logger:     logger.With(logging.Component("consensus-driver"), logging.Node(cfg.NodeID)),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		votes:      make(map[string]bool),
		nextIndex:  make(map[string]uint64),
		matchIndex: make(map[string]uint64),
		stopCh:     make(chan struct{}),
	}

	tp.Handle(transport.KindRaft, func(from string, data []byte) {
		var msg RaftMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			d.logger.Warn("malformed consensus message dropped", logging.Peer(from), logging.Err(err))
			return
		}
		d.HandleMessage(from, &msg)
	})

	return d
}

// Start launches the election-timeout and heartbeat loops. Safe to call
// more than once.
func (d *Driver) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(2)
		go d.electionLoop()
		go d.heartbeatLoop()
		d.logger.Info("consensus driver started",
			logging.Duration("heartbeat_interval", d.cfg.HeartbeatInterval))
	})
}

// Stop signals the loops and waits for quiescence. Safe to call more than
// once.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
		d.logger.Info("consensus driver stopped")
	})
}

// randomElectionTimeout draws from [min, max)
func (d *Driver) randomElectionTimeout() time.Duration {
	window := d.cfg.ElectionTimeoutMax - d.cfg.ElectionTimeoutMin
	return d.cfg.ElectionTimeoutMin + time.Duration(d.rng.Int63n(int64(window)))
}

func (d *Driver) electionLoop() {
	defer d.wg.Done()

	// Randomize the initial wait to avoid a thundering herd at boot
	timeout := d.randomElectionTimeout()

	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if d.node.Election().State() == StateLeader {
				continue
			}
			if d.node.Election().TimeSinceHeartbeat() >= timeout {
				d.campaign()
				timeout = d.randomElectionTimeout()
			}
		}
	}
}

// campaign starts an election and solicits votes from every operational
// peer
func (d *Driver) campaign() {
	term := d.node.Election().StartElection()

	d.mu.Lock()
	d.votes = map[string]bool{d.cfg.NodeID: true}
	d.voteTerm = term
	d.mu.Unlock()

	req := RequestVote{
		Term:         term,
		CandidateID:  d.cfg.NodeID,
		LastLogIndex: d.node.Log().LastIndex(),
		LastLogTerm:  d.node.Log().LastTerm(),
	}

	// Single-node cluster: the self-vote is already a majority
	d.maybeWin()

	for _, peer := range d.peers() {
		d.send(peer, MsgRequestVote, req)
	}
}

func (d *Driver) heartbeatLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if d.node.Election().State() != StateLeader {
				continue
			}
			d.node.Election().RenewLease()
			d.replicate()
		}
	}
}

// replicate sends AppendEntries to every operational peer, resuming each
// from its nextIndex
func (d *Driver) replicate() {
	term := d.node.Election().CurrentTerm()
	lastIndex := d.node.Log().LastIndex()
	commit := d.node.Log().CommitIndex()

	for _, peer := range d.peers() {
		d.mu.Lock()
		next, ok := d.nextIndex[peer]
		if !ok || next == 0 {
			next = lastIndex + 1
			d.nextIndex[peer] = next
		}
		d.mu.Unlock()

		prevIndex := next - 1
		prevTerm := uint64(0)
		if prevIndex > 0 {
			if entry, ok := d.node.Log().Entry(prevIndex); ok {
				prevTerm = entry.Term
			}
		}

		req := AppendEntries{
			Term:         term,
			LeaderID:     d.cfg.NodeID,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      d.node.Log().EntriesFrom(next),
			LeaderCommit: commit,
		}
		d.send(peer, MsgAppendEntries, req)
	}
}

// HandleMessage dispatches one inbound consensus RPC or reply
func (d *Driver) HandleMessage(from string, msg *RaftMessage) {
	switch msg.Type {
	case MsgRequestVote:
		var req RequestVote
		if err := msg.Decode(&req); err != nil {
			return
		}
		d.send(req.CandidateID, MsgRequestVoteReply, d.node.HandleRequestVote(req))

	case MsgRequestVoteReply:
		var reply RequestVoteReply
		if err := msg.Decode(&reply); err != nil {
			return
		}
		d.handleVoteReply(reply)

	case MsgAppendEntries:
		var req AppendEntries
		if err := msg.Decode(&req); err != nil {
			return
		}
		d.send(req.LeaderID, MsgAppendEntriesReply, d.node.HandleAppendEntries(req))

	case MsgAppendEntriesReply:
		var reply AppendEntriesReply
		if err := msg.Decode(&reply); err != nil {
			return
		}
		d.handleAppendReply(reply)
	}
}

// handleVoteReply tallies a vote and promotes to leader on majority
func (d *Driver) handleVoteReply(reply RequestVoteReply) {
	if reply.Term > d.node.Election().CurrentTerm() {
		d.node.Election().StepDown(reply.Term)
		return
	}

	if !reply.VoteGranted || d.node.Election().State() != StateCandidate {
		return
	}

	d.mu.Lock()
	if reply.Term != d.voteTerm {
		d.mu.Unlock()
		return
	}
	d.votes[reply.VoterID] = true
	d.mu.Unlock()

	d.maybeWin()
}

// maybeWin promotes to leader when the tally reaches a majority of the
// membership view
func (d *Driver) maybeWin() {
	if d.node.Election().State() != StateCandidate {
		return
	}

	quorum := d.view.Len()/2 + 1

	d.mu.Lock()
	won := len(d.votes) >= quorum
	d.mu.Unlock()

	if !won {
		return
	}

	d.node.Election().BecomeLeader()

	// Fresh leader bookkeeping: everyone resumes from our log tail
	last := d.node.Log().LastIndex()
	d.mu.Lock()
	d.nextIndex = make(map[string]uint64)
	d.matchIndex = make(map[string]uint64)
	for _, peer := range d.peers() {
		d.nextIndex[peer] = last + 1
	}
	d.mu.Unlock()

	d.replicate()
}

// handleAppendReply updates replication bookkeeping and advances the
// commit index once a majority matches
func (d *Driver) handleAppendReply(reply AppendEntriesReply) {
	term := d.node.Election().CurrentTerm()
	if reply.Term > term {
		d.node.Election().StepDown(reply.Term)
		return
	}
	if d.node.Election().State() != StateLeader {
		return
	}

	d.mu.Lock()
	if reply.Success {
		if reply.MatchIndex > d.matchIndex[reply.FollowerID] {
			d.matchIndex[reply.FollowerID] = reply.MatchIndex
		}
		d.nextIndex[reply.FollowerID] = reply.MatchIndex + 1
	} else {
		// Log mismatch: back off one entry and retry next heartbeat
		if d.nextIndex[reply.FollowerID] > 1 {
			d.nextIndex[reply.FollowerID]--
		}
	}
	d.mu.Unlock()

	d.advanceCommit(term)
}

// advanceCommit commits the highest index replicated on a majority, but
// only for entries of the current term
func (d *Driver) advanceCommit(term uint64) {
	last := d.node.Log().LastIndex()
	quorum := d.view.Len()/2 + 1

	d.mu.Lock()
	defer d.mu.Unlock()

	for index := last; index > d.node.Log().CommitIndex(); index-- {
		entry, ok := d.node.Log().Entry(index)
		if !ok || entry.Term != term {
			continue
		}

		count := 1 // self
		for _, match := range d.matchIndex {
			if match >= index {
				count++
			}
		}
		if count >= quorum {
			d.node.Log().AdvanceCommitIndex(index)
			break
		}
	}
}

// peers returns the IDs of all operational members except self
func (d *Driver) peers() []string {
	members := d.view.Members()
	out := make([]string, 0, len(members))
	for _, m := range members {
		if string(m.ID) == d.cfg.NodeID || !m.State.Operational() {
			continue
		}
		out = append(out, string(m.ID))
	}
	return out
}

// send marshals and delivers one RPC; failures are logged and never stop
// the loops
func (d *Driver) send(peer string, msgType RaftMsgType, payload any) {
	msg, err := NewRaftMessage(msgType, payload)
	if err != nil {
		d.logger.Error("failed to build consensus message", logging.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	if err := transport.SendJSON(ctx, d.tp, peer, transport.KindRaft, msg); err != nil {
		d.logger.Debug("consensus send failed",
			logging.Peer(peer),
			logging.String("type", msgType.String()),
			logging.Err(err))
	}
}
