package consensus

import "time"

// Config defines election and log settings for one node
type Config struct {
	NodeID string // Unique identifier for this node

	// Election
	ElectionTimeoutMin time.Duration // Lower bound of the randomized election timeout (default: 1.5s)
	ElectionTimeoutMax time.Duration // Upper bound of the randomized election timeout (default: 3s)
	HeartbeatInterval  time.Duration // Interval between leader heartbeats (default: 500ms)
	LeaderLease        time.Duration // How long a leadership claim stays trusted without renewal (default: 2s)
	EnablePreVote      bool          // Accepted for forward compatibility; not yet implemented

	// Log
	MaxLogEntries int // In-memory log entry cap, 0 = unbounded (default: 0)
}

// DefaultConfig returns a safe default configuration
func DefaultConfig() Config {
	return Config{
		ElectionTimeoutMin: 1500 * time.Millisecond,
		ElectionTimeoutMax: 3 * time.Second,
		HeartbeatInterval:  500 * time.Millisecond,
		LeaderLease:        2 * time.Second,
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrInvalidNodeID
	}
	if c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return ErrInvalidElectionWindow
	}
	if c.ElectionTimeoutMin <= c.HeartbeatInterval {
		return ErrElectionTimeoutTooSmall
	}
	if c.LeaderLease <= 0 {
		return ErrInvalidLeaderLease
	}
	return nil
}
