package cluster

// GossipType identifies a gossip message
type GossipType uint8

const (
	// MsgPing is a direct liveness probe
	MsgPing GossipType = iota
	// MsgAck answers a probe; when Node is set it acks on behalf of Node
	// (the indirect-probe reply path)
	MsgAck
	// MsgIndirectPing asks the receiver to proxy-probe Node
	MsgIndirectPing
	// MsgSuspect spreads a suspicion rumor about Node
	MsgSuspect
	// MsgAlive spreads a liveness assertion about Node at Incarnation
	MsgAlive
	// MsgDead authoritatively declares Node failed
	MsgDead
)

// String returns the string representation of a GossipType
func (t GossipType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgAck:
		return "ack"
	case MsgIndirectPing:
		return "indirect_ping"
	case MsgSuspect:
		return "suspect"
	case MsgAlive:
		return "alive"
	case MsgDead:
		return "dead"
	default:
		return "unknown"
	}
}

// GossipMessage is the single wire format for the gossip protocol. Field
// usage by type:
//
//	Ping          {From, Seq}
//	Ack           {From, Seq} or {From, Node, Seq} for indirect acks
//	IndirectPing  {From, Node, Seq} (probe Node on behalf of From)
//	Suspect       {From, Node, Incarnation}
//	Alive         {From, Node, Incarnation}
//	Dead          {From, Node}
type GossipMessage struct {
	Type        GossipType `json:"type"`
	From        NodeID     `json:"from"`
	Node        NodeID     `json:"node,omitempty"`
	Incarnation uint64     `json:"incarnation,omitempty"`
	Seq         uint64     `json:"seq,omitempty"`
	Addr        string     `json:"addr,omitempty"` // sender address, lets receivers learn routes
}
