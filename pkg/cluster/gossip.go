// Package cluster provides decentralized cluster membership: a versioned
// membership view with incarnation-based conflict resolution, a SWIM-style
// gossip/failure-detection protocol on top of it, and seed-based discovery.
package cluster

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/metrics"
	"github.com/dd0wney/cluso-coord/pkg/transport"
)

const sendTimeout = 2 * time.Second

// probe tracks one outstanding ping awaiting its ack
type probe struct {
	peer          NodeID
	sentAt        time.Time
	indirectAsked bool

	// Set when we probe on behalf of another node (proxy path)
	origin    NodeID
	originSeq uint64
}

// rumor is a membership update still being disseminated. Each gossip tick
// retransmits it to a fresh set of peers until remaining hits zero.
type rumor struct {
	msg       GossipMessage
	remaining int
}

// outbound is a message built under the lock and sent after releasing it
type outbound struct {
	peer NodeID
	msg  GossipMessage
}

// Gossiper runs the SWIM-style probe and dissemination protocol over a
// MembershipView.
//
// Concurrent safety:
// 1. Probe/suspicion/rumor state is protected by a single mutex
// 2. Messages are fully built under the lock and sent after releasing it;
//    no lock is ever held across a transport call
// 3. Start/Stop are idempotent; loops observe stopCh at each tick
type Gossiper struct {
	cfg             Config
	view            *MembershipView
	tp              transport.Transport
	logger          logging.Logger
	metricsRegistry *metrics.Registry

	mu         sync.Mutex
	seq        uint64
	probes     map[uint64]*probe
	suspicions map[NodeID]time.Time // when each suspicion was raised

	rumorMu sync.Mutex
	rumors  []rumor

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewGossiper wires a gossiper to the view and transport. The gossip
// handler is registered immediately so the node answers probes even before
// its own loops start.
func NewGossiper(cfg Config, view *MembershipView, tp transport.Transport, logger logging.Logger) *Gossiper {
	g := &Gossiper{
		cfg:             cfg,
		view:            view,
		tp:              tp,
		logger:          logger.With(logging.Component("gossip"), logging.Node(string(cfg.NodeID))),
		metricsRegistry: metrics.DefaultRegistry(),
		probes:          make(map[uint64]*probe),
		suspicions:      make(map[NodeID]time.Time),
		stopCh:          make(chan struct{}),
	}

	tp.Handle(transport.KindGossip, func(from string, data []byte) {
		var msg GossipMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.logger.Warn("malformed gossip message dropped", logging.Peer(from), logging.Err(err))
			return
		}
		g.HandleMessage(msg)
	})

	return g
}

// Start launches the gossip and failure-detection loops. Safe to call
// more than once.
func (g *Gossiper) Start() {
	g.startOnce.Do(func() {
		g.wg.Add(2)
		go g.gossipLoop()
		go g.failureLoop()
		g.logger.Info("gossiper started",
			logging.Duration("gossip_interval", g.cfg.GossipInterval),
			logging.Duration("suspicion_timeout", g.cfg.SuspicionTimeout))
	})
}

// Stop signals the loops and waits for them to observe the stop at their
// next tick. Safe to call more than once.
func (g *Gossiper) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
		g.wg.Wait()
		g.logger.Info("gossiper stopped")
	})
}

func (g *Gossiper) gossipLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.GossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.gossipTick()
		}
	}
}

func (g *Gossiper) failureLoop() {
	defer g.wg.Done()

	// Check at a fraction of the probe timeout so escalation is prompt
	interval := g.cfg.ProbeTimeout / 2
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.failureTick()
		}
	}
}

// gossipTick probes a random fanout of operational peers and retransmits
// pending rumors
func (g *Gossiper) gossipTick() {
	var sends []outbound

	peers := g.view.RandomMembers(g.cfg.GossipFanout)

	g.mu.Lock()
	for _, peer := range peers {
		g.seq++
		g.probes[g.seq] = &probe{peer: peer.ID, sentAt: time.Now()}
		sends = append(sends, outbound{
			peer: peer.ID,
			msg: GossipMessage{
				Type: MsgPing,
				From: g.view.SelfID(),
				Seq:  g.seq,
				Addr: g.cfg.NodeAddr,
			},
		})
	}
	g.mu.Unlock()

	sends = append(sends, g.drainRumors()...)
	g.sendAll(sends)
}

// drainRumors retransmits each pending rumor to a fresh fanout of peers and
// drops rumors whose transmission budget is spent
func (g *Gossiper) drainRumors() []outbound {
	g.rumorMu.Lock()
	defer g.rumorMu.Unlock()

	var sends []outbound
	kept := g.rumors[:0]
	for _, r := range g.rumors {
		for _, peer := range g.view.RandomMembers(g.cfg.GossipFanout) {
			sends = append(sends, outbound{peer: peer.ID, msg: r.msg})
		}
		r.remaining--
		if r.remaining > 0 {
			kept = append(kept, r)
		}
	}
	g.rumors = kept
	return sends
}

// enqueueRumor schedules a membership update for dissemination
func (g *Gossiper) enqueueRumor(msg GossipMessage) {
	if g.cfg.MaxTransmissions <= 0 {
		return
	}

	g.rumorMu.Lock()
	g.rumors = append(g.rumors, rumor{msg: msg, remaining: g.cfg.MaxTransmissions})
	g.rumorMu.Unlock()
}

// failureTick escalates expired probes to suspicion (via indirect probing)
// and expired suspicions to Failed
func (g *Gossiper) failureTick() {
	now := time.Now()
	var sends []outbound
	var suspects []NodeID

	g.mu.Lock()
	for seq, p := range g.probes {
		age := now.Sub(p.sentAt)

		if p.origin != "" {
			// Proxy probe: the origin runs its own escalation, we only
			// purge our bookkeeping
			if age > g.cfg.ProbeTimeout {
				delete(g.probes, seq)
			}
			continue
		}

		switch {
		case age > 2*g.cfg.ProbeTimeout:
			delete(g.probes, seq)
			suspects = append(suspects, p.peer)
			g.metricsRegistry.GossipProbesTotal.WithLabelValues("timeout").Inc()

		case age > g.cfg.ProbeTimeout && !p.indirectAsked:
			p.indirectAsked = true
			for _, proxy := range g.view.RandomMembers(g.cfg.IndirectProbes) {
				if proxy.ID == p.peer {
					continue
				}
				sends = append(sends, outbound{
					peer: proxy.ID,
					msg: GossipMessage{
						Type: MsgIndirectPing,
						From: g.view.SelfID(),
						Node: p.peer,
						Seq:  seq,
						Addr: g.cfg.NodeAddr,
					},
				})
			}
			g.metricsRegistry.GossipProbesTotal.WithLabelValues("indirect").Inc()
		}
	}
	g.mu.Unlock()

	for _, peer := range suspects {
		sends = append(sends, g.suspect(peer)...)
	}

	sends = append(sends, g.expireSuspicions(now)...)
	g.sendAll(sends)
}

// suspect marks a peer Suspected at its current incarnation and spreads
// the rumor
func (g *Gossiper) suspect(peer NodeID) []outbound {
	info, err := g.view.Get(peer)
	if err != nil {
		return nil
	}

	if !g.view.UpdateState(peer, StateSuspected, info.Incarnation) {
		return nil
	}

	g.mu.Lock()
	if _, exists := g.suspicions[peer]; !exists {
		g.suspicions[peer] = time.Now()
	}
	g.mu.Unlock()

	g.metricsRegistry.GossipSuspicionsTotal.Inc()
	g.logger.Info("peer suspected", logging.Peer(string(peer)), logging.Incarnation(info.Incarnation))

	msg := GossipMessage{
		Type:        MsgSuspect,
		From:        g.view.SelfID(),
		Node:        peer,
		Incarnation: info.Incarnation,
	}
	g.enqueueRumor(msg)

	var sends []outbound
	for _, p := range g.view.RandomMembers(g.cfg.GossipFanout) {
		sends = append(sends, outbound{peer: p.ID, msg: msg})
	}
	return sends
}

// expireSuspicions promotes suspicions older than the suspicion timeout to
// Failed and spreads Dead announcements
func (g *Gossiper) expireSuspicions(now time.Time) []outbound {
	var expired []NodeID

	g.mu.Lock()
	for node, since := range g.suspicions {
		if now.Sub(since) > g.cfg.SuspicionTimeout {
			delete(g.suspicions, node)
			expired = append(expired, node)
		}
	}
	g.mu.Unlock()

	var sends []outbound
	for _, node := range expired {
		if !g.view.MarkFailed(node) {
			continue
		}
		g.logger.Warn("peer declared failed", logging.Peer(string(node)))

		msg := GossipMessage{Type: MsgDead, From: g.view.SelfID(), Node: node}
		g.enqueueRumor(msg)
		for _, p := range g.view.RandomMembers(g.cfg.GossipFanout) {
			sends = append(sends, outbound{peer: p.ID, msg: msg})
		}
	}
	return sends
}

// sendAll delivers built messages; a failed send is logged and never stops
// the loop
func (g *Gossiper) sendAll(sends []outbound) {
	for _, s := range sends {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := transport.SendJSON(ctx, g.tp, string(s.peer), transport.KindGossip, s.msg)
		cancel()

		if err != nil {
			g.logger.Debug("gossip send failed",
				logging.Peer(string(s.peer)),
				logging.String("type", s.msg.Type.String()),
				logging.Err(err))
			continue
		}
		g.metricsRegistry.GossipMessagesTotal.WithLabelValues(s.msg.Type.String(), "sent").Inc()
	}
}
