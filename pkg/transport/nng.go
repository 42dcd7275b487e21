package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"

	// Register all mangos transports (tcp, ipc, inproc)
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-coord/pkg/logging"
)

const defaultSendTimeout = 3 * time.Second

// NNGTransport delivers envelopes over NNG push/pull sockets. Each node
// binds one pull socket for inbound traffic and dials one push socket per
// known peer, created lazily on first send.
type NNGTransport struct {
	id       string
	listener mangos.Socket
	logger   logging.Logger
	handlers *mux

	mu    sync.RWMutex
	addrs map[string]string        // peer ID -> dial address
	socks map[string]mangos.Socket // peer ID -> push socket

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewNNGTransport binds the inbound socket and starts the receive loop
func NewNNGTransport(id, bindAddr string, logger logging.Logger) (*NNGTransport, error) {
	sock, err := pull.NewSocket()
	if err != nil {
		return nil, err
	}
	if err := sock.Listen(bindAddr); err != nil {
		sock.Close()
		return nil, err
	}

	t := &NNGTransport{
		id:       id,
		listener: sock,
		logger:   logger.With(logging.Component("transport")),
		handlers: newMux(),
		addrs:    make(map[string]string),
		socks:    make(map[string]mangos.Socket),
		stopCh:   make(chan struct{}),
	}

	go t.recvLoop()
	t.logger.Info("transport listening", logging.Addr(bindAddr))
	return t, nil
}

// AddPeer registers the dial address for a peer ID
func (t *NNGTransport) AddPeer(id, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrs[id] = addr
}

// RemovePeer drops the route and closes any open socket to the peer
func (t *NNGTransport) RemovePeer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.addrs, id)
	if sock, ok := t.socks[id]; ok {
		sock.Close()
		delete(t.socks, id)
	}
}

// LocalID returns the node ID this transport sends as
func (t *NNGTransport) LocalID() string {
	return t.id
}

// Send delivers data of the given kind to a peer
func (t *NNGTransport) Send(ctx context.Context, peer, kind string, data []byte) error {
	select {
	case <-t.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sock, err := t.peerSocket(peer)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(Envelope{Kind: kind, From: t.id, Data: data})
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		sock.SetOption(mangos.OptionSendDeadline, time.Until(deadline))
	}

	if err := sock.Send(payload); err != nil {
		// Drop the socket so the next send redials
		t.mu.Lock()
		if t.socks[peer] == sock {
			sock.Close()
			delete(t.socks, peer)
		}
		t.mu.Unlock()
		return err
	}
	return nil
}

// peerSocket returns an open push socket for the peer, dialing on demand
func (t *NNGTransport) peerSocket(peer string) (mangos.Socket, error) {
	t.mu.RLock()
	sock, ok := t.socks[peer]
	addr, known := t.addrs[peer]
	t.mu.RUnlock()

	if ok {
		return sock, nil
	}
	if !known {
		return nil, ErrUnknownPeer
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Another sender may have dialed while we waited for the lock
	if sock, ok := t.socks[peer]; ok {
		return sock, nil
	}

	sock, err := push.NewSocket()
	if err != nil {
		return nil, err
	}
	sock.SetOption(mangos.OptionSendDeadline, defaultSendTimeout)
	if err := sock.Dial(addr); err != nil {
		sock.Close()
		return nil, err
	}

	t.socks[peer] = sock
	return sock, nil
}

// Handle registers the handler for a message kind
func (t *NNGTransport) Handle(kind string, h Handler) {
	t.handlers.set(kind, h)
}

func (t *NNGTransport) recvLoop() {
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		data, err := t.listener.Recv()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
			}
			t.logger.Warn("receive failed", logging.Err(err))
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("malformed envelope dropped", logging.Err(err))
			continue
		}

		t.handlers.dispatch(env)
	}
}

// Close shuts down the receive loop and all peer sockets
func (t *NNGTransport) Close() error {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.listener.Close()

		t.mu.Lock()
		for id, sock := range t.socks {
			sock.Close()
			delete(t.socks, id)
		}
		t.mu.Unlock()
	})
	return nil
}
