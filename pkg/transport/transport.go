// Package transport abstracts how coordination messages reach named peers.
//
// Gossip, consensus and replication never assume a concrete transport: they
// are handed a Transport and address peers by node ID. Two implementations
// are provided, an in-process network for tests and single-binary demos,
// and an NNG-backed transport for real deployments.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Message kinds multiplexed over a single transport.
const (
	KindGossip    = "gossip"
	KindRaft      = "raft"
	KindSync      = "sync"
	KindDiscovery = "discovery"
)

var (
	// ErrUnknownPeer is returned when no route to the peer is known
	ErrUnknownPeer = errors.New("transport: unknown peer")
	// ErrClosed is returned when sending through a closed transport
	ErrClosed = errors.New("transport: closed")
)

// Envelope frames every message on the wire
type Envelope struct {
	Kind string `json:"kind"`
	From string `json:"from"`
	Data []byte `json:"data"`
}

// Handler consumes a decoded payload from a peer
type Handler func(from string, data []byte)

// Transport delivers envelopes to named peers
type Transport interface {
	// LocalID returns the node ID this transport sends as
	LocalID() string
	// Send delivers data of the given kind to a peer. It must not be
	// called while holding a component lock.
	Send(ctx context.Context, peer, kind string, data []byte) error
	// Handle registers the handler for a message kind. At most one
	// handler per kind; registering again replaces it.
	Handle(kind string, h Handler)
	Close() error
}

// SendJSON marshals v and sends it as the given kind
func SendJSON(ctx context.Context, t Transport, peer, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Send(ctx, peer, kind, data)
}

// mux routes inbound envelopes to per-kind handlers. Shared by the
// transport implementations.
type mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newMux() *mux {
	return &mux{handlers: make(map[string]Handler)}
}

func (m *mux) set(kind string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = h
}

func (m *mux) dispatch(env Envelope) {
	m.mu.RLock()
	h := m.handlers[env.Kind]
	m.mu.RUnlock()

	if h != nil {
		h(env.From, env.Data)
	}
}
