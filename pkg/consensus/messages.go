package consensus

import (
	"encoding/json"
	"time"
)

// RaftMsgType identifies a consensus RPC on the wire
type RaftMsgType uint8

const (
	// MsgRequestVote is sent by candidates to gather votes
	MsgRequestVote RaftMsgType = iota
	// MsgRequestVoteReply answers a vote request
	MsgRequestVoteReply
	// MsgAppendEntries replicates log entries; empty Entries is a heartbeat
	MsgAppendEntries
	// MsgAppendEntriesReply answers an append
	MsgAppendEntriesReply
)

// String returns the string representation of a RaftMsgType
func (t RaftMsgType) String() string {
	switch t {
	case MsgRequestVote:
		return "request_vote"
	case MsgRequestVoteReply:
		return "request_vote_reply"
	case MsgAppendEntries:
		return "append_entries"
	case MsgAppendEntriesReply:
		return "append_entries_reply"
	default:
		return "unknown"
	}
}

// RaftMessage is the envelope for all consensus RPCs
type RaftMessage struct {
	Type      RaftMsgType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewRaftMessage wraps a payload in an envelope
func NewRaftMessage(msgType RaftMsgType, payload any) (*RaftMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &RaftMessage{
		Type:      msgType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

// Decode unmarshals the payload into v
func (m *RaftMessage) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// RequestVote is sent by a candidate to gather votes
type RequestVote struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidate_id"`
	LastLogIndex uint64 `json:"last_log_index"`
	LastLogTerm  uint64 `json:"last_log_term"`
}

// RequestVoteReply answers a RequestVote
type RequestVoteReply struct {
	Term        uint64 `json:"term"`
	VoterID     string `json:"voter_id"`
	VoteGranted bool   `json:"vote_granted"`
	Reason      string `json:"reason,omitempty"`
}

// AppendEntries replicates log entries and doubles as the heartbeat
type AppendEntries struct {
	Term         uint64     `json:"term"`
	LeaderID     string     `json:"leader_id"`
	PrevLogIndex uint64     `json:"prev_log_index"`
	PrevLogTerm  uint64     `json:"prev_log_term"`
	Entries      []LogEntry `json:"entries,omitempty"`
	LeaderCommit uint64     `json:"leader_commit"`
}

// AppendEntriesReply answers an AppendEntries
type AppendEntriesReply struct {
	Term       uint64 `json:"term"`
	FollowerID string `json:"follower_id"`
	Success    bool   `json:"success"`
	MatchIndex uint64 `json:"match_index"`
}
