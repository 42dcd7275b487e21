package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects deliveries for one kind
type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) handler(from string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, from+":"+string(data))
}

func (r *recorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestSendReachesHandler(t *testing.T) {
	net := NewInprocNetwork()
	a := net.Join("a")
	b := net.Join("b")

	var rec recorder
	b.Handle(KindGossip, rec.handler)

	require.NoError(t, a.Send(context.Background(), "b", KindGossip, []byte("ping")))

	require.Eventually(t, func() bool {
		return len(rec.received()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "a:ping", rec.received()[0])
}

func TestKindsAreIsolated(t *testing.T) {
	net := NewInprocNetwork()
	a := net.Join("a")
	b := net.Join("b")

	var gossip, raft recorder
	b.Handle(KindGossip, gossip.handler)
	b.Handle(KindRaft, raft.handler)

	require.NoError(t, a.Send(context.Background(), "b", KindRaft, []byte("vote")))

	require.Eventually(t, func() bool {
		return len(raft.received()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, gossip.received(), "gossip handler must not see raft traffic")
}

func TestUnhandledKindIsDropped(t *testing.T) {
	net := NewInprocNetwork()
	a := net.Join("a")
	net.Join("b")

	// No handler registered on b: the send succeeds and the message is lost
	assert.NoError(t, a.Send(context.Background(), "b", KindSync, []byte("x")))
}

func TestSendToUnknownPeerFails(t *testing.T) {
	net := NewInprocNetwork()
	a := net.Join("a")

	assert.ErrorIs(t, a.Send(context.Background(), "ghost", KindGossip, nil), ErrUnknownPeer)
}

func TestPartitionDropsBothDirections(t *testing.T) {
	net := NewInprocNetwork()
	a := net.Join("a")
	b := net.Join("b")

	var recA, recB recorder
	a.Handle(KindGossip, recA.handler)
	b.Handle(KindGossip, recB.handler)

	net.Partition("a", "b")

	// Partitioned sends report success, like datagrams lost in transit
	require.NoError(t, a.Send(context.Background(), "b", KindGossip, []byte("x")))
	require.NoError(t, b.Send(context.Background(), "a", KindGossip, []byte("y")))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, recA.received())
	assert.Empty(t, recB.received())

	net.Heal("a", "b")
	require.NoError(t, a.Send(context.Background(), "b", KindGossip, []byte("x")))
	require.Eventually(t, func() bool {
		return len(recB.received()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClosedTransportRejectsSends(t *testing.T) {
	net := NewInprocNetwork()
	a := net.Join("a")
	net.Join("b")

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(context.Background(), "b", KindGossip, nil), ErrClosed)
}

func TestCancelledContextRejectsSend(t *testing.T) {
	net := NewInprocNetwork()
	a := net.Join("a")
	net.Join("b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Send(ctx, "b", KindGossip, nil), context.Canceled)
}

func TestSendJSONRoundTrip(t *testing.T) {
	net := NewInprocNetwork()
	a := net.Join("a")
	b := net.Join("b")

	type probe struct {
		Seq uint64 `json:"seq"`
	}

	var rec recorder
	b.Handle(KindGossip, rec.handler)

	require.NoError(t, SendJSON(context.Background(), a, "b", KindGossip, probe{Seq: 7}))
	require.Eventually(t, func() bool {
		return len(rec.received()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, `a:{"seq":7}`, rec.received()[0])
}

func TestHandlerReplacement(t *testing.T) {
	net := NewInprocNetwork()
	a := net.Join("a")
	b := net.Join("b")

	var first, second recorder
	b.Handle(KindGossip, first.handler)
	b.Handle(KindGossip, second.handler)

	require.NoError(t, a.Send(context.Background(), "b", KindGossip, []byte("x")))
	require.Eventually(t, func() bool {
		return len(second.received()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, first.received(), "registering again replaces the handler")
}
