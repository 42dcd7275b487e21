package replication

import (
	"encoding/json"
	"time"
)

// SyncMsgType identifies a replication message on the wire
type SyncMsgType uint8

const (
	// MsgReplicateDelta pushes one write to a replica
	MsgReplicateDelta SyncMsgType = iota
	// MsgReplicateAck acknowledges an applied delta
	MsgReplicateAck
	// MsgReadRequest asks a replica for its versions of a key
	MsgReadRequest
	// MsgReadReply returns a replica's siblings for a key
	MsgReadReply
	// MsgSyncRequest asks a peer for its full snapshot
	MsgSyncRequest
	// MsgSyncResponse carries a snappy-compressed snapshot
	MsgSyncResponse
)

// String returns the string representation of a SyncMsgType
func (t SyncMsgType) String() string {
	switch t {
	case MsgReplicateDelta:
		return "replicate_delta"
	case MsgReplicateAck:
		return "replicate_ack"
	case MsgReadRequest:
		return "read_request"
	case MsgReadReply:
		return "read_reply"
	case MsgSyncRequest:
		return "sync_request"
	case MsgSyncResponse:
		return "sync_response"
	default:
		return "unknown"
	}
}

// SyncMessage is the envelope for all replication traffic
type SyncMessage struct {
	Type      SyncMsgType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewSyncMessage wraps a payload in an envelope
func NewSyncMessage(msgType SyncMsgType, payload any) (*SyncMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &SyncMessage{
		Type:      msgType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

// Decode unmarshals the payload into v
func (m *SyncMessage) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// ReplicateDelta pushes one write; RequestID correlates the ack
type ReplicateDelta struct {
	RequestID string     `json:"request_id"`
	From      string     `json:"from"`
	Delta     StateDelta `json:"delta"`
}

// ReplicateAck acknowledges an applied delta
type ReplicateAck struct {
	RequestID string `json:"request_id"`
	From      string `json:"from"`
	Applied   bool   `json:"applied"`
}

// ReadRequest asks for a replica's versions of a key
type ReadRequest struct {
	RequestID string `json:"request_id"`
	From      string `json:"from"`
	Key       string `json:"key"`
}

// ReadReply returns a replica's siblings for a key; empty means unknown
type ReadReply struct {
	RequestID string           `json:"request_id"`
	From      string           `json:"from"`
	Key       string           `json:"key"`
	Siblings  []VersionedValue `json:"siblings,omitempty"`
}

// SyncRequest asks a peer for everything it holds
type SyncRequest struct {
	From  string      `json:"from"`
	Clock VectorClock `json:"clock"` // requester's merged clock, advisory
}

// SyncResponse carries the responder's snapshot, snappy-compressed JSON
type SyncResponse struct {
	From     string `json:"from"`
	Snapshot []byte `json:"snapshot"`
}
