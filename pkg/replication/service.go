package replication

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/metrics"
	"github.com/dd0wney/cluso-coord/pkg/transport"
)

// ack is one replica's response to an in-flight request
type ack struct {
	from     string
	siblings []VersionedValue // populated for read replies
}

// Service replicates the local store across the cluster: writes fan out as
// deltas and succeed only when enough replicas acknowledge, reads can
// consult peers per the configured level, and a background anti-entropy
// loop repairs divergence.
type Service struct {
	cfg    Config
	store  *Store
	view   *cluster.MembershipView
	tp     transport.Transport
	logger logging.Logger

	pendingMu sync.Mutex
	pending   map[string]chan ack

	lastSyncMu sync.Mutex
	lastSync   time.Time

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	metricsRegistry *metrics.Registry
}

// NewService wires a store to the membership view and transport
func NewService(cfg Config, store *Store, view *cluster.MembershipView, tp transport.Transport, logger logging.Logger) *Service {
	s := &Service{
		cfg:             cfg,
		store:           store,
		view:            view,
		tp:              tp,
		logger:          logger.With(logging.Component("replication"), logging.Node(cfg.NodeID)),
		pending:         make(map[string]chan ack),
		stopCh:          make(chan struct{}),
		metricsRegistry: metrics.DefaultRegistry(),
	}

	tp.Handle(transport.KindSync, func(from string, data []byte) {
		var msg SyncMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("malformed replication message dropped", logging.Peer(from), logging.Err(err))
			return
		}
		s.handleMessage(from, &msg)
	})

	return s
}

// Start launches the anti-entropy loop. Safe to call more than once.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.antiEntropyLoop()
		s.logger.Info("replication service started",
			logging.String("write_consistency", s.cfg.WriteConsistency.String()),
			logging.Duration("anti_entropy_interval", s.cfg.AntiEntropyInterval))
	})
}

// Stop signals the loop and waits for quiescence. Safe to call more than
// once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.logger.Info("replication service stopped")
	})
}

// Store exposes the local versioned state
func (s *Service) Store() *Store {
	return s.store
}

// LastSync returns when the last anti-entropy snapshot was applied, zero
// before the first round completes
func (s *Service) LastSync() time.Time {
	s.lastSyncMu.Lock()
	defer s.lastSyncMu.Unlock()
	return s.lastSync
}

func (s *Service) markSynced() {
	s.lastSyncMu.Lock()
	s.lastSync = time.Now()
	s.lastSyncMu.Unlock()
}

// Write records the value locally and replicates it to every operational
// peer, succeeding only when the configured write consistency is met. The
// local write always survives; a quorum failure reports the shortfall and
// leaves anti-entropy to finish the spread.
func (s *Service) Write(ctx context.Context, key string, value []byte) (VersionedValue, error) {
	vv := s.store.Write(key, value)
	delta := StateDelta{Key: key, Value: vv}

	if err := s.ReplicateToPeers(ctx, delta, s.peerIDs()); err != nil {
		s.metricsRegistry.ReplicationWritesTotal.WithLabelValues("quorum_failed").Inc()
		return vv, err
	}

	s.metricsRegistry.ReplicationWritesTotal.WithLabelValues("ok").Inc()
	return vv, nil
}

// ReplicateToPeers fans a delta out to the given peers and waits for acks.
// The local replica counts as the first acknowledgment; the write
// consistency level decides how many of the len(peers)+1 replicas must
// acknowledge before the deadline.
func (s *Service) ReplicateToPeers(ctx context.Context, delta StateDelta, peers []string) error {
	total := len(peers) + 1
	required := s.cfg.WriteConsistency.RequiredNodes(total)
	current := 1 // self

	if current >= required {
		return nil
	}

	requestID := uuid.NewString()
	acks := s.register(requestID, len(peers))
	defer s.unregister(requestID)

	req := ReplicateDelta{RequestID: requestID, From: s.cfg.NodeID, Delta: delta}
	for _, peer := range peers {
		s.send(peer, MsgReplicateDelta, req)
	}

	deadline := time.NewTimer(s.cfg.SyncTimeout)
	defer deadline.Stop()

	for current < required {
		select {
		case <-acks:
			current++
		case <-deadline.C:
			s.metricsRegistry.ReplicationQuorumFailures.Inc()
			return &QuorumError{Current: current, Required: required}
		case <-ctx.Done():
			s.metricsRegistry.ReplicationQuorumFailures.Inc()
			return &QuorumError{Current: current, Required: required}
		}
	}
	return nil
}

// Read returns the key's value at the configured read consistency. Levels
// above One consult peers, fold their versions into local state (read
// repair) and require enough replies before resolving.
func (s *Service) Read(ctx context.Context, key string) (VersionedValue, error) {
	if s.cfg.ReadConsistency == ConsistencyOne {
		return s.store.Read(key)
	}

	peers := s.peerIDs()
	total := len(peers) + 1
	required := s.cfg.ReadConsistency.RequiredNodes(total)
	current := 1 // self

	requestID := uuid.NewString()
	acks := s.register(requestID, len(peers))
	defer s.unregister(requestID)

	req := ReadRequest{RequestID: requestID, From: s.cfg.NodeID, Key: key}
	for _, peer := range peers {
		s.send(peer, MsgReadRequest, req)
	}

	deadline := time.NewTimer(s.cfg.SyncTimeout)
	defer deadline.Stop()

	for current < required {
		select {
		case reply := <-acks:
			current++
			for _, sibling := range reply.siblings {
				if _, err := s.store.ApplyDelta(StateDelta{Key: key, Value: sibling}); err != nil {
					s.logger.Warn("read repair rejected a sibling",
						logging.Key(key), logging.Peer(reply.from), logging.Err(err))
				}
			}
		case <-deadline.C:
			return VersionedValue{}, &QuorumError{Current: current, Required: required}
		case <-ctx.Done():
			return VersionedValue{}, &QuorumError{Current: current, Required: required}
		}
	}

	return s.store.Read(key)
}

// handleMessage dispatches one inbound replication message
func (s *Service) handleMessage(from string, msg *SyncMessage) {
	switch msg.Type {
	case MsgReplicateDelta:
		var req ReplicateDelta
		if err := msg.Decode(&req); err != nil {
			return
		}
		s.handleReplicateDelta(req)

	case MsgReplicateAck:
		var reply ReplicateAck
		if err := msg.Decode(&reply); err != nil {
			return
		}
		s.deliver(reply.RequestID, ack{from: reply.From})

	case MsgReadRequest:
		var req ReadRequest
		if err := msg.Decode(&req); err != nil {
			return
		}
		s.send(req.From, MsgReadReply, ReadReply{
			RequestID: req.RequestID,
			From:      s.cfg.NodeID,
			Key:       req.Key,
			Siblings:  s.store.Siblings(req.Key),
		})

	case MsgReadReply:
		var reply ReadReply
		if err := msg.Decode(&reply); err != nil {
			return
		}
		s.deliver(reply.RequestID, ack{from: reply.From, siblings: reply.Siblings})

	case MsgSyncRequest:
		var req SyncRequest
		if err := msg.Decode(&req); err != nil {
			return
		}
		s.handleSyncRequest(req)

	case MsgSyncResponse:
		var resp SyncResponse
		if err := msg.Decode(&resp); err != nil {
			return
		}
		s.handleSyncResponse(resp)
	}
}

// handleReplicateDelta applies a pushed write and acknowledges it. A delta
// already dominated by local state still acks: the data is replicated
// either way.
func (s *Service) handleReplicateDelta(req ReplicateDelta) {
	applied, err := s.store.ApplyDelta(req.Delta)
	if err != nil {
		s.logger.Warn("rejected delta",
			logging.Key(req.Delta.Key), logging.Peer(req.From), logging.Err(err))
		return
	}

	s.send(req.From, MsgReplicateAck, ReplicateAck{
		RequestID: req.RequestID,
		From:      s.cfg.NodeID,
		Applied:   applied,
	})
}

// register creates the ack channel for an in-flight request
func (s *Service) register(requestID string, capacity int) chan ack {
	ch := make(chan ack, capacity)
	s.pendingMu.Lock()
	s.pending[requestID] = ch
	s.pendingMu.Unlock()
	return ch
}

// unregister drops an in-flight request; late acks are discarded
func (s *Service) unregister(requestID string) {
	s.pendingMu.Lock()
	delete(s.pending, requestID)
	s.pendingMu.Unlock()
}

// deliver routes an ack to its waiting request, dropping strays
func (s *Service) deliver(requestID string, a ack) {
	s.pendingMu.Lock()
	ch, ok := s.pending[requestID]
	s.pendingMu.Unlock()

	if !ok {
		return
	}
	select {
	case ch <- a:
	default:
		// Channel full means more acks than peers; drop
	}
}

// peerIDs returns the IDs of all operational members except self
func (s *Service) peerIDs() []string {
	members := s.view.Members()
	out := make([]string, 0, len(members))
	for _, m := range members {
		if string(m.ID) == s.cfg.NodeID || !m.State.Operational() {
			continue
		}
		out = append(out, string(m.ID))
	}
	return out
}

// send marshals and delivers one message; failures are logged and treated
// as a missing ack
func (s *Service) send(peer string, msgType SyncMsgType, payload any) {
	msg, err := NewSyncMessage(msgType, payload)
	if err != nil {
		s.logger.Error("failed to build replication message", logging.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SyncTimeout)
	defer cancel()

	if err := transport.SendJSON(ctx, s.tp, peer, transport.KindSync, msg); err != nil {
		s.logger.Debug("replication send failed",
			logging.Peer(peer),
			logging.String("type", msgType.String()),
			logging.Err(err))
	}
}
