package cluster

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestView() *MembershipView {
	return NewMembershipView("node-a", "tcp://127.0.0.1:7946")
}

func TestNewViewContainsSelf(t *testing.T) {
	v := newTestView()

	self := v.Self()
	assert.Equal(t, NodeID("node-a"), self.ID)
	assert.Equal(t, StateActive, self.State)
	assert.Equal(t, uint64(0), self.Incarnation)
	assert.Equal(t, 1, v.Len())
}

func TestUpsertAddsMember(t *testing.T) {
	v := newTestView()
	before := v.Version()

	changed := v.Upsert(MemberInfo{ID: "node-b", Addr: "tcp://127.0.0.1:7947", State: StateActive})
	assert.True(t, changed)
	assert.Equal(t, 2, v.Len())
	assert.Greater(t, v.Version(), before)
}

func TestHigherIncarnationAlwaysWins(t *testing.T) {
	v := newTestView()
	v.Upsert(MemberInfo{ID: "node-b", State: StateActive, Incarnation: 1})

	// Even a less severe state wins with a higher incarnation
	require.True(t, v.UpdateState("node-b", StateSuspected, 1))
	assert.True(t, v.UpdateState("node-b", StateActive, 2))

	m, err := v.Get("node-b")
	require.NoError(t, err)
	assert.Equal(t, StateActive, m.State)
	assert.Equal(t, uint64(2), m.Incarnation)
}

func TestEqualIncarnationNeedsHigherSeverity(t *testing.T) {
	v := newTestView()
	v.Upsert(MemberInfo{ID: "node-b", State: StateActive, Incarnation: 3})

	assert.False(t, v.UpdateState("node-b", StateActive, 3), "same state, same incarnation is stale")
	assert.True(t, v.UpdateState("node-b", StateSuspected, 3), "suspicion outranks active")
	assert.False(t, v.UpdateState("node-b", StateActive, 3), "alive at the same incarnation never refutes")
	assert.True(t, v.UpdateState("node-b", StateFailed, 3), "failed outranks suspected")
}

func TestAliveAfterFailedNeedsHigherIncarnation(t *testing.T) {
	v := newTestView()
	v.Upsert(MemberInfo{ID: "node-b", State: StateFailed, Incarnation: 3})

	assert.False(t, v.UpdateState("node-b", StateActive, 3))
	assert.True(t, v.UpdateState("node-b", StateActive, 4), "only a fresh incarnation revives a failed node")
}

func TestStaleUpdateStillRefreshesAddress(t *testing.T) {
	v := newTestView()
	v.Upsert(MemberInfo{ID: "node-b", Addr: "tcp://old", State: StateFailed, Incarnation: 5})

	changed := v.Upsert(MemberInfo{ID: "node-b", Addr: "tcp://new", State: StateActive, Incarnation: 2})
	assert.False(t, changed)

	m, err := v.Get("node-b")
	require.NoError(t, err)
	assert.Equal(t, "tcp://new", m.Addr, "addresses are facts, not rumors")
	assert.Equal(t, StateFailed, m.State)
}

func TestUpdateStateLearnsUnknownMember(t *testing.T) {
	v := newTestView()

	assert.True(t, v.UpdateState("node-x", StateSuspected, 7))

	m, err := v.Get("node-x")
	require.NoError(t, err)
	assert.Equal(t, StateSuspected, m.State)
	assert.Equal(t, uint64(7), m.Incarnation)
}

func TestMarkFailedBypassesIncarnationRule(t *testing.T) {
	v := newTestView()
	v.Upsert(MemberInfo{ID: "node-b", State: StateActive, Incarnation: 10})

	assert.True(t, v.MarkFailed("node-b"))
	assert.False(t, v.MarkFailed("node-b"), "already failed")
	assert.False(t, v.MarkFailed("node-x"), "unknown member")

	m, err := v.Get("node-b")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, m.State)
	assert.Equal(t, uint64(10), m.Incarnation, "incarnation is untouched")
}

func TestBumpIncarnationRefutesSuspicion(t *testing.T) {
	v := newTestView()

	// Someone suspects us; the view itself never blocks it, the gossiper does.
	// Refutation bumps past whatever the rumor claimed.
	inc := v.BumpIncarnation()
	assert.Equal(t, uint64(1), inc)

	self := v.Self()
	assert.Equal(t, StateActive, self.State)
	assert.Equal(t, uint64(1), self.Incarnation)
}

func TestRemove(t *testing.T) {
	v := newTestView()
	v.Upsert(MemberInfo{ID: "node-b", State: StateActive})

	assert.ErrorIs(t, v.Remove("node-a"), ErrCannotRemoveSelf)
	assert.ErrorIs(t, v.Remove("node-x"), ErrMemberNotFound)
	assert.NoError(t, v.Remove("node-b"))
	assert.Equal(t, 1, v.Len())
}

func TestOperationalStates(t *testing.T) {
	assert.True(t, StateActive.Operational())
	assert.True(t, StateSuspected.Operational(), "suspected nodes still serve traffic")
	assert.False(t, StateFailed.Operational())
	assert.False(t, StateLeaving.Operational())
	assert.False(t, StateLeft.Operational())
}

func TestRandomMembersExcludesSelfAndFailed(t *testing.T) {
	v := newTestView()
	v.Upsert(MemberInfo{ID: "node-b", State: StateActive})
	v.Upsert(MemberInfo{ID: "node-c", State: StateSuspected})
	v.Upsert(MemberInfo{ID: "node-d", State: StateFailed})

	for i := 0; i < 20; i++ {
		for _, m := range v.RandomMembers(10) {
			assert.NotEqual(t, NodeID("node-a"), m.ID)
			assert.NotEqual(t, NodeID("node-d"), m.ID)
		}
	}

	assert.Len(t, v.RandomMembers(10), 2)
	assert.Len(t, v.RandomMembers(1), 1)
}

func TestStaleMembers(t *testing.T) {
	v := newTestView()
	v.Upsert(MemberInfo{ID: "node-b", State: StateActive})

	assert.Empty(t, v.StaleMembers(time.Minute))

	time.Sleep(20 * time.Millisecond)
	stale := v.StaleMembers(10 * time.Millisecond)
	require.Len(t, stale, 1)
	assert.Equal(t, NodeID("node-b"), stale[0].ID)

	v.Touch("node-b")
	assert.Empty(t, v.StaleMembers(10*time.Millisecond))
}

func TestHasQuorum(t *testing.T) {
	v := newTestView()
	assert.True(t, v.HasQuorum(), "a lone node is its own majority")

	v.Upsert(MemberInfo{ID: "node-b", State: StateActive})
	v.Upsert(MemberInfo{ID: "node-c", State: StateActive})
	assert.True(t, v.HasQuorum())

	v.MarkFailed("node-b")
	assert.True(t, v.HasQuorum(), "2 of 3 operational")

	v.MarkFailed("node-c")
	assert.False(t, v.HasQuorum(), "1 of 3 operational")
}

func TestMembersReturnsCopies(t *testing.T) {
	v := newTestView()
	v.Upsert(MemberInfo{ID: "node-b", State: StateActive, Incarnation: 1})

	members := v.Members()
	for i := range members {
		members[i].State = StateFailed
	}

	m, err := v.Get("node-b")
	require.NoError(t, err)
	assert.Equal(t, StateActive, m.State, "callers must not reach the internal records")
}

func TestConcurrentViewAccess(t *testing.T) {
	v := newTestView()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v.Upsert(MemberInfo{
					ID:          NodeID(fmt.Sprintf("node-%d", n)),
					State:       StateActive,
					Incarnation: uint64(j),
				})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v.Members()
				v.HasQuorum()
				v.RandomMembers(3)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, v.Len())
}
