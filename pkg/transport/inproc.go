package transport

import (
	"context"
	"sync"
)

// InprocNetwork connects InprocTransports by node ID. Delivery is
// asynchronous, mirroring a real network: Send never runs the receiver's
// handler on the caller's goroutine.
type InprocNetwork struct {
	mu    sync.RWMutex
	nodes map[string]*InprocTransport

	// Partitioned pairs drop messages in both directions
	partitions map[[2]string]bool
}

// NewInprocNetwork creates an empty in-process network
func NewInprocNetwork() *InprocNetwork {
	return &InprocNetwork{
		nodes:      make(map[string]*InprocTransport),
		partitions: make(map[[2]string]bool),
	}
}

// Join creates and registers a transport for the given node ID
func (n *InprocNetwork) Join(id string) *InprocTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &InprocTransport{id: id, net: n, mux: newMux()}
	n.nodes[id] = t
	return t
}

// Partition cuts delivery between two nodes until Heal is called
func (n *InprocNetwork) Partition(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitions[pairKey(a, b)] = true
}

// Heal restores delivery between two nodes
func (n *InprocNetwork) Heal(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitions, pairKey(a, b))
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func (n *InprocNetwork) deliver(env Envelope, to string) error {
	n.mu.RLock()
	target, ok := n.nodes[to]
	cut := n.partitions[pairKey(env.From, to)]
	n.mu.RUnlock()

	if !ok {
		return ErrUnknownPeer
	}
	if cut {
		// Dropped silently, like a lost datagram
		return nil
	}

	go target.mux.dispatch(env)
	return nil
}

// InprocTransport is a Transport backed by an InprocNetwork
type InprocTransport struct {
	id     string
	net    *InprocNetwork
	mux    *mux
	closed sync.Once
	done   bool
	mu     sync.Mutex
}

// LocalID returns the node ID this transport sends as
func (t *InprocTransport) LocalID() string {
	return t.id
}

// Send delivers data to a peer on the same network
func (t *InprocTransport) Send(ctx context.Context, peer, kind string, data []byte) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done {
		return ErrClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return t.net.deliver(Envelope{Kind: kind, From: t.id, Data: data}, peer)
}

// Handle registers the handler for a message kind
func (t *InprocTransport) Handle(kind string, h Handler) {
	t.mux.set(kind, h)
}

// Close removes the transport from its network
func (t *InprocTransport) Close() error {
	t.closed.Do(func() {
		t.mu.Lock()
		t.done = true
		t.mu.Unlock()

		t.net.mu.Lock()
		delete(t.net.nodes, t.id)
		t.net.mu.Unlock()
	})
	return nil
}
