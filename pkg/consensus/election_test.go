package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-coord/pkg/logging"
)

func testConfig(nodeID string) Config {
	cfg := DefaultConfig()
	cfg.NodeID = nodeID
	return cfg
}

func newTestElection(t *testing.T, nodeID string) *Election {
	t.Helper()
	cfg := testConfig(nodeID)
	require.NoError(t, cfg.Validate())
	return NewElection(cfg, logging.NewNopLogger())
}

func TestElectionStartsAsFollower(t *testing.T) {
	e := newTestElection(t, "node-a")

	assert.Equal(t, StateFollower, e.State())
	assert.Equal(t, uint64(0), e.CurrentTerm())
	assert.False(t, e.IsLeader())

	_, ok := e.CurrentLeader()
	assert.False(t, ok, "fresh node should know no leader")
}

func TestStartElectionIncrementsTerm(t *testing.T) {
	e := newTestElection(t, "node-a")

	term := e.StartElection()
	assert.Equal(t, uint64(1), term)
	assert.Equal(t, StateCandidate, e.State())

	term = e.StartElection()
	assert.Equal(t, uint64(2), term)
}

func TestVoteSingleVotePerTerm(t *testing.T) {
	e := newTestElection(t, "node-c")

	assert.True(t, e.Vote("node-a", 1), "first vote in a term should be granted")
	assert.False(t, e.Vote("node-b", 1), "second candidate in the same term must be refused")
	assert.True(t, e.Vote("node-a", 1), "repeating an identical request is idempotent")
}

func TestVoteRejectsStaleTerm(t *testing.T) {
	e := newTestElection(t, "node-c")

	assert.True(t, e.Vote("node-a", 5))
	assert.False(t, e.Vote("node-b", 3), "stale term must be rejected")
	assert.Equal(t, uint64(5), e.CurrentTerm())
}

func TestVoteNewerTermClearsOldVote(t *testing.T) {
	e := newTestElection(t, "node-c")

	assert.True(t, e.Vote("node-a", 1))
	assert.True(t, e.Vote("node-b", 2), "a newer term starts a fresh ballot")
	assert.Equal(t, uint64(2), e.CurrentTerm())
}

func TestCandidateStepsDownOnNewerTermVote(t *testing.T) {
	e := newTestElection(t, "node-a")

	e.StartElection()
	assert.Equal(t, StateCandidate, e.State())

	assert.True(t, e.Vote("node-b", 2))
	assert.Equal(t, StateFollower, e.State(), "seeing a newer term demotes a candidate")
}

func TestBecomeLeaderSetsLease(t *testing.T) {
	e := newTestElection(t, "node-a")

	e.StartElection()
	e.BecomeLeader()

	assert.Equal(t, StateLeader, e.State())
	assert.True(t, e.IsLeader())

	leader, ok := e.CurrentLeader()
	require.True(t, ok)
	assert.Equal(t, "node-a", leader)

	info := e.Leader()
	assert.True(t, info.LeaseExpiresAt.After(time.Now()))
}

func TestLeaseExpiryHidesLeader(t *testing.T) {
	cfg := testConfig("node-a")
	cfg.LeaderLease = 10 * time.Millisecond
	e := NewElection(cfg, logging.NewNopLogger())

	e.StartElection()
	e.BecomeLeader()
	require.True(t, e.IsLeader())

	time.Sleep(25 * time.Millisecond)

	assert.False(t, e.IsLeader(), "leadership claims expire with the lease")
	_, ok := e.CurrentLeader()
	assert.False(t, ok, "an expired lease means no known leader")
}

func TestRenewLeaseExtendsLeadership(t *testing.T) {
	cfg := testConfig("node-a")
	cfg.LeaderLease = 50 * time.Millisecond
	e := NewElection(cfg, logging.NewNopLogger())

	e.StartElection()
	e.BecomeLeader()

	time.Sleep(30 * time.Millisecond)
	require.True(t, e.RenewLease())
	time.Sleep(30 * time.Millisecond)

	assert.True(t, e.IsLeader(), "renewal should outlive the original lease window")
}

func TestRenewLeaseFailsAfterStepDown(t *testing.T) {
	e := newTestElection(t, "node-a")

	e.StartElection()
	e.BecomeLeader()
	e.StepDown(5)

	assert.False(t, e.RenewLease(), "a deposed leader must not renew")
	assert.Equal(t, StateFollower, e.State())
	assert.Equal(t, uint64(5), e.CurrentTerm())
}

func TestHandleHeartbeatAdoptsLeader(t *testing.T) {
	e := newTestElection(t, "node-b")

	assert.True(t, e.HandleHeartbeat("node-a", 3))
	assert.Equal(t, uint64(3), e.CurrentTerm())

	leader, ok := e.CurrentLeader()
	require.True(t, ok)
	assert.Equal(t, "node-a", leader)
}

func TestHandleHeartbeatRejectsStaleTerm(t *testing.T) {
	e := newTestElection(t, "node-b")

	require.True(t, e.HandleHeartbeat("node-a", 3))
	assert.False(t, e.HandleHeartbeat("node-c", 2))

	leader, _ := e.CurrentLeader()
	assert.Equal(t, "node-a", leader, "stale heartbeat must not displace the leader")
}

func TestHandleHeartbeatDemotesCandidate(t *testing.T) {
	e := newTestElection(t, "node-b")

	term := e.StartElection()
	assert.True(t, e.HandleHeartbeat("node-a", term), "same-term leader wins over a candidate")
	assert.Equal(t, StateFollower, e.State())
}

func TestHeartbeatRearmsElectionTimer(t *testing.T) {
	e := newTestElection(t, "node-b")

	time.Sleep(15 * time.Millisecond)
	require.GreaterOrEqual(t, e.TimeSinceHeartbeat(), 15*time.Millisecond)

	e.HandleHeartbeat("node-a", 1)
	assert.Less(t, e.TimeSinceHeartbeat(), 15*time.Millisecond)
}

func TestCallbacksFireOnTransitions(t *testing.T) {
	e := newTestElection(t, "node-a")

	leaderCh := make(chan struct{}, 1)
	followerCh := make(chan struct{}, 1)
	e.SetCallbacks(
		func() { leaderCh <- struct{}{} },
		func() { followerCh <- struct{}{} },
	)

	e.StartElection()
	e.BecomeLeader()
	select {
	case <-leaderCh:
	case <-time.After(time.Second):
		t.Fatal("leader callback never fired")
	}

	e.StepDown(10)
	select {
	case <-followerCh:
	case <-time.After(time.Second):
		t.Fatal("follower callback never fired")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = "node-a"
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.NodeID = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidNodeID)

	bad = cfg
	bad.ElectionTimeoutMin = 3 * time.Second
	bad.ElectionTimeoutMax = 2 * time.Second
	assert.ErrorIs(t, bad.Validate(), ErrInvalidElectionWindow)

	bad = cfg
	bad.ElectionTimeoutMin = 100 * time.Millisecond
	assert.ErrorIs(t, bad.Validate(), ErrElectionTimeoutTooSmall)

	bad = cfg
	bad.LeaderLease = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidLeaderLease)
}
