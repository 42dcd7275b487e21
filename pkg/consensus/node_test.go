package consensus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-coord/pkg/logging"
)

func newTestNode(t *testing.T, nodeID string) *Node {
	t.Helper()
	cfg := testConfig(nodeID)
	require.NoError(t, cfg.Validate())
	return NewNode(cfg, logging.NewNopLogger())
}

func TestProposeRejectedByFollower(t *testing.T) {
	n := newTestNode(t, "node-a")

	_, err := n.Propose([]byte("op"))
	require.Error(t, err)

	var notLeader *NotLeaderError
	require.True(t, errors.As(err, &notLeader))
	assert.Empty(t, notLeader.Leader, "a follower with no leader offers no hint")
	assert.True(t, IsNotLeader(err))
}

func TestProposeHintsAtKnownLeader(t *testing.T) {
	n := newTestNode(t, "node-b")
	n.Election().HandleHeartbeat("node-a", 1)

	_, err := n.Propose([]byte("op"))
	var notLeader *NotLeaderError
	require.True(t, errors.As(err, &notLeader))
	assert.Equal(t, "node-a", notLeader.Leader)
}

func TestProposeAppendsUnderCurrentTerm(t *testing.T) {
	n := newTestNode(t, "node-a")
	n.Election().StartElection()
	n.Election().BecomeLeader()

	index, err := n.Propose([]byte("op"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), index)

	entry, ok := n.Log().Entry(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), entry.Term)
	assert.Equal(t, uint64(0), n.Log().CommitIndex(), "proposing appends, it does not commit")
}

func TestHandleRequestVoteGrantsFreshCandidate(t *testing.T) {
	n := newTestNode(t, "node-b")

	reply := n.HandleRequestVote(RequestVote{
		Term:        1,
		CandidateID: "node-a",
	})
	assert.True(t, reply.VoteGranted)
	assert.Equal(t, "node-b", reply.VoterID)
	assert.Equal(t, uint64(1), reply.Term)
}

func TestHandleRequestVoteRejectsStaleTerm(t *testing.T) {
	n := newTestNode(t, "node-b")
	n.Election().HandleHeartbeat("node-a", 5)

	reply := n.HandleRequestVote(RequestVote{Term: 3, CandidateID: "node-c"})
	assert.False(t, reply.VoteGranted)
	assert.Equal(t, uint64(5), reply.Term)
	assert.NotEmpty(t, reply.Reason)
}

func TestHandleRequestVoteRejectsBehindLog(t *testing.T) {
	n := newTestNode(t, "node-b")
	n.Election().StartElection()
	n.Election().BecomeLeader()
	_, err := n.Propose([]byte("op"))
	require.NoError(t, err)

	// Candidate with an empty log cannot win our vote, but its newer term
	// is still adopted
	reply := n.HandleRequestVote(RequestVote{Term: 2, CandidateID: "node-c"})
	assert.False(t, reply.VoteGranted)
	assert.Equal(t, uint64(2), reply.Term)
	assert.Equal(t, StateFollower, n.Election().State())
}

func TestHandleRequestVoteSingleVote(t *testing.T) {
	n := newTestNode(t, "node-c")

	first := n.HandleRequestVote(RequestVote{Term: 1, CandidateID: "node-a"})
	second := n.HandleRequestVote(RequestVote{Term: 1, CandidateID: "node-b"})
	again := n.HandleRequestVote(RequestVote{Term: 1, CandidateID: "node-a"})

	assert.True(t, first.VoteGranted)
	assert.False(t, second.VoteGranted)
	assert.True(t, again.VoteGranted, "re-requesting the same vote is idempotent")
}

func TestHandleAppendEntriesHeartbeat(t *testing.T) {
	n := newTestNode(t, "node-b")

	reply := n.HandleAppendEntries(AppendEntries{Term: 1, LeaderID: "node-a"})
	require.True(t, reply.Success)
	assert.Equal(t, uint64(0), reply.MatchIndex)

	leader, ok := n.Election().CurrentLeader()
	require.True(t, ok)
	assert.Equal(t, "node-a", leader)
}

func TestHandleAppendEntriesRejectsStaleTerm(t *testing.T) {
	n := newTestNode(t, "node-b")
	n.Election().HandleHeartbeat("node-a", 5)

	reply := n.HandleAppendEntries(AppendEntries{Term: 2, LeaderID: "node-c"})
	assert.False(t, reply.Success)
	assert.Equal(t, uint64(5), reply.Term)
}

func TestHandleAppendEntriesLogMatching(t *testing.T) {
	n := newTestNode(t, "node-b")

	// Entries that claim a prefix we do not hold must be refused
	reply := n.HandleAppendEntries(AppendEntries{
		Term:         1,
		LeaderID:     "node-a",
		PrevLogIndex: 3,
		PrevLogTerm:  1,
		Entries:      []LogEntry{{Term: 1, Index: 4, Data: []byte("x")}},
	})
	assert.False(t, reply.Success)
	assert.Equal(t, uint64(0), n.Log().LastIndex())
}

func TestHandleAppendEntriesAppendsAndCommits(t *testing.T) {
	n := newTestNode(t, "node-b")

	reply := n.HandleAppendEntries(AppendEntries{
		Term:     1,
		LeaderID: "node-a",
		Entries: []LogEntry{
			{Term: 1, Index: 1, Data: []byte("a")},
			{Term: 1, Index: 2, Data: []byte("b")},
		},
		LeaderCommit: 1,
	})
	require.True(t, reply.Success)
	assert.Equal(t, uint64(2), reply.MatchIndex)
	assert.Equal(t, uint64(2), n.Log().LastIndex())
	assert.Equal(t, uint64(1), n.Log().CommitIndex())
}

func TestHandleAppendEntriesIdempotentResend(t *testing.T) {
	n := newTestNode(t, "node-b")

	req := AppendEntries{
		Term:     1,
		LeaderID: "node-a",
		Entries:  []LogEntry{{Term: 1, Index: 1, Data: []byte("a")}},
	}
	require.True(t, n.HandleAppendEntries(req).Success)
	require.True(t, n.HandleAppendEntries(req).Success, "re-sent entries must not duplicate")
	assert.Equal(t, uint64(1), n.Log().LastIndex())
}

func TestHandleAppendEntriesTruncatesConflicts(t *testing.T) {
	n := newTestNode(t, "node-b")

	require.True(t, n.HandleAppendEntries(AppendEntries{
		Term:     1,
		LeaderID: "node-a",
		Entries: []LogEntry{
			{Term: 1, Index: 1, Data: []byte("a")},
			{Term: 1, Index: 2, Data: []byte("stale")},
		},
	}).Success)

	// A new leader overwrites the uncommitted suffix with its own entry
	reply := n.HandleAppendEntries(AppendEntries{
		Term:         2,
		LeaderID:     "node-c",
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries:      []LogEntry{{Term: 2, Index: 2, Data: []byte("fresh")}},
	})
	require.True(t, reply.Success)

	entry, ok := n.Log().Entry(2)
	require.True(t, ok)
	assert.Equal(t, uint64(2), entry.Term)
	assert.Equal(t, []byte("fresh"), entry.Data)
	assert.Equal(t, uint64(2), n.Log().LastIndex())
}

func TestHandleAppendEntriesCommitClamped(t *testing.T) {
	n := newTestNode(t, "node-b")

	reply := n.HandleAppendEntries(AppendEntries{
		Term:         1,
		LeaderID:     "node-a",
		Entries:      []LogEntry{{Term: 1, Index: 1, Data: []byte("a")}},
		LeaderCommit: 10,
	})
	require.True(t, reply.Success)
	assert.Equal(t, uint64(1), n.Log().CommitIndex(),
		"commit index follows min(leaderCommit, lastIndex)")
}
