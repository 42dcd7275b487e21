package cluster

import "time"

// Config defines membership and failure-detection settings for one node
type Config struct {
	// Node identification
	NodeID      NodeID // Unique identifier for this node
	NodeAddr    string // Address other nodes can reach this node at (host:port)
	ClusterName string // Cluster this node belongs to; discovery rejects mismatches

	// Gossip / failure detection
	GossipInterval   time.Duration // Interval between gossip ticks (default: 1s)
	GossipFanout     int           // Peers probed per gossip tick (default: 3)
	ProbeTimeout     time.Duration // Direct-probe timeout before indirect probing (default: 1s)
	SuspicionTimeout time.Duration // Suspicion age before declaring Failed (default: 5s)
	IndirectProbes   int           // Peers asked to proxy-probe before suspecting (default: 3)
	MaxTransmissions int           // Times each rumor is retransmitted (default: 3)

	// Seed discovery
	SeedNodes        []string      // Seed addresses for bootstrapping
	AnnounceInterval time.Duration // Interval between seed announcements (default: 30s)
}

// DefaultConfig returns a safe default configuration
func DefaultConfig() Config {
	return Config{
		ClusterName:      "default",
		GossipInterval:   1 * time.Second,
		GossipFanout:     3,
		ProbeTimeout:     1 * time.Second,
		SuspicionTimeout: 5 * time.Second,
		IndirectProbes:   3,
		MaxTransmissions: 3,
		AnnounceInterval: 30 * time.Second,
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrInvalidNodeID
	}
	if c.GossipInterval <= 0 {
		return ErrInvalidGossipInterval
	}
	if c.GossipFanout < 1 {
		return ErrInvalidGossipFanout
	}
	if c.SuspicionTimeout <= c.ProbeTimeout {
		return ErrInvalidSuspicionWindow
	}
	return nil
}
