package cluster

import (
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
)

// HandleMessage applies one inbound gossip message. Exported so tests and
// alternative transports can drive the protocol directly.
func (g *Gossiper) HandleMessage(msg GossipMessage) {
	g.metricsRegistry.GossipMessagesTotal.WithLabelValues(msg.Type.String(), "received").Inc()

	switch msg.Type {
	case MsgPing:
		g.handlePing(msg)
	case MsgAck:
		g.handleAck(msg)
	case MsgIndirectPing:
		g.handleIndirectPing(msg)
	case MsgSuspect:
		g.handleSuspect(msg)
	case MsgAlive:
		g.handleAlive(msg)
	case MsgDead:
		g.handleDead(msg)
	}
}

// handlePing touches the sender and answers with an ack. Unknown senders
// are learned: a node joins simply by pinging anyone in the cluster.
func (g *Gossiper) handlePing(msg GossipMessage) {
	if !g.view.Touch(msg.From) {
		g.view.Upsert(MemberInfo{
			ID:    msg.From,
			Addr:  msg.Addr,
			State: StateActive,
		})
	}

	g.sendAll([]outbound{{
		peer: msg.From,
		msg: GossipMessage{
			Type: MsgAck,
			From: g.view.SelfID(),
			Seq:  msg.Seq,
			Addr: g.cfg.NodeAddr,
		},
	}})
}

// handleAck resolves the matching outstanding probe, refreshes the peer and
// cancels any suspicion against it. Acks carrying Node are indirect: they
// vouch for Node rather than for the sender.
func (g *Gossiper) handleAck(msg GossipMessage) {
	target := msg.From
	if msg.Node != "" && msg.Node != msg.From {
		target = msg.Node
	}

	var forward []outbound

	g.mu.Lock()
	if p, ok := g.probes[msg.Seq]; ok && p.peer == target {
		delete(g.probes, msg.Seq)
		if p.origin != "" {
			// We probed on behalf of p.origin; relay the good news
			forward = append(forward, outbound{
				peer: p.origin,
				msg: GossipMessage{
					Type: MsgAck,
					From: g.view.SelfID(),
					Node: target,
					Seq:  p.originSeq,
				},
			})
		}
	}
	delete(g.suspicions, target)
	g.mu.Unlock()

	g.metricsRegistry.GossipProbesTotal.WithLabelValues("acked").Inc()
	g.view.Touch(target)
	g.sendAll(forward)
}

// handleIndirectPing probes the target on behalf of the asker
func (g *Gossiper) handleIndirectPing(msg GossipMessage) {
	if msg.Node == "" || msg.Node == g.view.SelfID() {
		return
	}

	g.mu.Lock()
	g.seq++
	seq := g.seq
	g.probes[seq] = &probe{
		peer:      msg.Node,
		sentAt:    time.Now(),
		origin:    msg.From,
		originSeq: msg.Seq,
	}
	g.mu.Unlock()

	g.sendAll([]outbound{{
		peer: msg.Node,
		msg: GossipMessage{
			Type: MsgPing,
			From: g.view.SelfID(),
			Seq:  seq,
			Addr: g.cfg.NodeAddr,
		},
	}})
}

// handleSuspect refutes suspicions about self and records them about others
func (g *Gossiper) handleSuspect(msg GossipMessage) {
	if msg.Node == g.view.SelfID() {
		// Mandatory self-refutation: bump our incarnation past the rumor
		// and assert liveness. We never mark ourselves suspected.
		inc := g.view.BumpIncarnation()
		g.metricsRegistry.GossipRefutationsTotal.Inc()
		g.logger.Info("refuting suspicion about self", logging.Incarnation(inc))

		alive := GossipMessage{
			Type:        MsgAlive,
			From:        g.view.SelfID(),
			Node:        g.view.SelfID(),
			Incarnation: inc,
		}
		g.enqueueRumor(alive)

		var sends []outbound
		for _, p := range g.view.RandomMembers(g.cfg.GossipFanout) {
			sends = append(sends, outbound{peer: p.ID, msg: alive})
		}
		g.sendAll(sends)
		return
	}

	if g.view.UpdateState(msg.Node, StateSuspected, msg.Incarnation) {
		g.mu.Lock()
		if _, exists := g.suspicions[msg.Node]; !exists {
			g.suspicions[msg.Node] = time.Now()
		}
		g.mu.Unlock()

		g.enqueueRumor(msg)
	}
}

// handleAlive applies a liveness assertion, subject to the incarnation rule
func (g *Gossiper) handleAlive(msg GossipMessage) {
	if g.view.UpdateState(msg.Node, StateActive, msg.Incarnation) {
		g.mu.Lock()
		delete(g.suspicions, msg.Node)
		g.mu.Unlock()

		g.enqueueRumor(msg)
	}
}

// handleDead marks the node failed unconditionally
func (g *Gossiper) handleDead(msg GossipMessage) {
	if msg.Node == g.view.SelfID() {
		// Same treatment as a suspicion: we know we are alive
		g.handleSuspect(GossipMessage{Type: MsgSuspect, From: msg.From, Node: msg.Node})
		return
	}

	if g.view.MarkFailed(msg.Node) {
		g.mu.Lock()
		delete(g.suspicions, msg.Node)
		g.mu.Unlock()

		g.enqueueRumor(msg)
	}
}
