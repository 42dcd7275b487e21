package replication

import "time"

// Config defines replication settings for one node
type Config struct {
	NodeID string // Unique identifier for this node

	// Consistency
	WriteConsistency ConsistencyLevel // Acks required for a write (default: quorum)
	ReadConsistency  ConsistencyLevel // Replicas consulted on a read (default: one)
	ConflictStrategy ConflictStrategy // How concurrent siblings are resolved (default: lww)

	// Synchronization
	SyncTimeout         time.Duration // How long to wait for replica acks (default: 2s)
	AntiEntropyInterval time.Duration // Interval between background sync rounds (default: 30s)
}

// DefaultConfig returns a safe default configuration
func DefaultConfig() Config {
	return Config{
		WriteConsistency:    ConsistencyQuorum,
		ReadConsistency:     ConsistencyOne,
		ConflictStrategy:    StrategyLastWriteWins,
		SyncTimeout:         2 * time.Second,
		AntiEntropyInterval: 30 * time.Second,
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrInvalidNodeID
	}
	if c.SyncTimeout <= 0 {
		return ErrInvalidSyncTimeout
	}
	if c.AntiEntropyInterval <= 0 {
		return ErrInvalidAntiEntropyInterval
	}
	return nil
}
