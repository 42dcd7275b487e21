package cluster

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/transport"
)

// PeerRegistrar lets discovery teach the transport new routes. The NNG
// transport implements it; the in-process transport needs no routes.
type PeerRegistrar interface {
	AddPeer(id, addr string)
}

// MemberRecord is the wire form of a membership view entry
type MemberRecord struct {
	ID          NodeID      `json:"id"`
	Addr        string      `json:"addr"`
	State       MemberState `json:"state"`
	Incarnation uint64      `json:"incarnation"`
}

// DiscoveryMessage carries both directions of the seed exchange: a node
// announces itself, a seed answers with its current member list.
type DiscoveryMessage struct {
	Kind        string         `json:"kind"` // "announce" or "members"
	Cluster     string         `json:"cluster,omitempty"`
	NodeID      NodeID         `json:"node_id"`
	Addr        string         `json:"addr,omitempty"`
	Incarnation uint64         `json:"incarnation,omitempty"`
	Members     []MemberRecord `json:"members,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Discovery announces this node to seed peers and folds their member lists
// into the view.
//
// Concurrent safety:
// 1. Start/Stop use sync.Once for single initialization/cleanup
// 2. The announce loop respects stopCh for clean shutdown
// 3. All view access goes through the view's own thread-safe methods
type Discovery struct {
	cfg       Config
	view      *MembershipView
	tp        transport.Transport
	registrar PeerRegistrar // may be nil
	logger    logging.Logger

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewDiscovery wires discovery to the view and transport. Seed addresses
// are registered with the registrar under their address as a provisional
// peer ID; real IDs replace them once the seeds answer.
func NewDiscovery(cfg Config, view *MembershipView, tp transport.Transport, registrar PeerRegistrar, logger logging.Logger) *Discovery {
	d := &Discovery{
		cfg:       cfg,
		view:      view,
		tp:        tp,
		registrar: registrar,
		logger:    logger.With(logging.Component("discovery"), logging.Node(string(cfg.NodeID))),
		stopCh:    make(chan struct{}),
	}

	if registrar != nil {
		for _, seed := range cfg.SeedNodes {
			registrar.AddPeer(seed, seed)
		}
	}

	tp.Handle(transport.KindDiscovery, func(from string, data []byte) {
		var msg DiscoveryMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			d.logger.Warn("malformed discovery message dropped", logging.Peer(from), logging.Err(err))
			return
		}
		d.HandleMessage(msg)
	})

	return d
}

// Start announces immediately, then keeps announcing on the configured
// interval. Safe to call more than once.
func (d *Discovery) Start() {
	d.startOnce.Do(func() {
		if err := d.announce(); err != nil {
			// Seeds may be unreachable at boot; the loop retries
			d.logger.Warn("initial seed announcement failed", logging.Err(err))
		}

		d.wg.Add(1)
		go d.announceLoop()
		d.logger.Info("discovery started", logging.Count(len(d.cfg.SeedNodes)))
	})
}

// Stop halts the announce loop. Safe to call more than once.
func (d *Discovery) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
		d.logger.Info("discovery stopped")
	})
}

func (d *Discovery) announceLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.announce(); err != nil {
				d.logger.Warn("seed announcement failed", logging.Err(err))
			}
		}
	}
}

// announce sends our record to every configured seed
func (d *Discovery) announce() error {
	if len(d.cfg.SeedNodes) == 0 {
		return ErrNoSeedNodes
	}

	self := d.view.Self()
	msg := DiscoveryMessage{
		Kind:        "announce",
		Cluster:     d.cfg.ClusterName,
		NodeID:      self.ID,
		Addr:        d.cfg.NodeAddr,
		Incarnation: self.Incarnation,
		Timestamp:   time.Now(),
	}

	sent := 0
	for _, seed := range d.cfg.SeedNodes {
		if seed == d.cfg.NodeAddr {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := transport.SendJSON(ctx, d.tp, seed, transport.KindDiscovery, msg)
		cancel()
		if err != nil {
			d.logger.Debug("announce to seed failed", logging.Addr(seed), logging.Err(err))
			continue
		}
		sent++
	}

	if sent == 0 && len(d.cfg.SeedNodes) > 0 {
		return ErrNoSeedNodes
	}
	return nil
}

// HandleMessage processes an inbound discovery exchange. Messages from
// other clusters are dropped so overlapping seed lists cannot merge views.
func (d *Discovery) HandleMessage(msg DiscoveryMessage) {
	if msg.Cluster != d.cfg.ClusterName {
		d.logger.Warn("discovery message from foreign cluster dropped",
			logging.Peer(string(msg.NodeID)), logging.String("cluster", msg.Cluster))
		return
	}

	switch msg.Kind {
	case "announce":
		d.handleAnnounce(msg)
	case "members":
		d.handleMembers(msg)
	}
}

// handleAnnounce registers the announcing node and answers with our member
// list so it can bootstrap its view
func (d *Discovery) handleAnnounce(msg DiscoveryMessage) {
	if msg.NodeID == "" || msg.Addr == "" {
		d.logger.Warn("announcement missing node ID or address")
		return
	}

	if d.registrar != nil {
		d.registrar.AddPeer(string(msg.NodeID), msg.Addr)
	}

	if d.view.Upsert(MemberInfo{
		ID:          msg.NodeID,
		Addr:        msg.Addr,
		State:       StateActive,
		Incarnation: msg.Incarnation,
	}) {
		d.logger.Info("node discovered", logging.Peer(string(msg.NodeID)), logging.Addr(msg.Addr))
	} else {
		d.view.Touch(msg.NodeID)
	}

	members := d.view.Members()
	records := make([]MemberRecord, 0, len(members))
	for _, m := range members {
		records = append(records, MemberRecord{
			ID:          m.ID,
			Addr:        m.Addr,
			State:       m.State,
			Incarnation: m.Incarnation,
		})
	}

	reply := DiscoveryMessage{
		Kind:      "members",
		Cluster:   d.cfg.ClusterName,
		NodeID:    d.view.SelfID(),
		Addr:      d.cfg.NodeAddr,
		Members:   records,
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := transport.SendJSON(ctx, d.tp, string(msg.NodeID), transport.KindDiscovery, reply); err != nil {
		d.logger.Debug("member list reply failed", logging.Peer(string(msg.NodeID)), logging.Err(err))
	}
}

// handleMembers folds a seed's member list into our view
func (d *Discovery) handleMembers(msg DiscoveryMessage) {
	for _, rec := range msg.Members {
		if rec.ID == d.view.SelfID() {
			continue
		}

		if d.registrar != nil && rec.Addr != "" {
			d.registrar.AddPeer(string(rec.ID), rec.Addr)
		}

		d.view.Upsert(MemberInfo{
			ID:          rec.ID,
			Addr:        rec.Addr,
			State:       rec.State,
			Incarnation: rec.Incarnation,
		})
	}
}
