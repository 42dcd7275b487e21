package cluster

import "errors"

// Configuration errors
var (
	ErrInvalidNodeID          = errors.New("node ID cannot be empty")
	ErrInvalidGossipInterval  = errors.New("gossip interval must be positive")
	ErrInvalidGossipFanout    = errors.New("gossip fanout must be at least 1")
	ErrInvalidSuspicionWindow = errors.New("suspicion timeout must be greater than the probe timeout")
)

// Membership errors
var (
	ErrMemberNotFound   = errors.New("member not found in view")
	ErrCannotRemoveSelf = errors.New("cannot remove self from cluster")
)

// Discovery errors
var (
	ErrNoSeedNodes = errors.New("no seed nodes configured")
)
