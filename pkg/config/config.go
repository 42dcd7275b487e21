// Package config loads and validates the daemon's YAML configuration and
// converts it into the per-package configs the components consume.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/consensus"
	"github.com/dd0wney/cluso-coord/pkg/replication"
	"github.com/dd0wney/cluso-coord/pkg/validation"
)

var validate = validator.New()

// Duration wraps time.Duration so YAML accepts "500ms", "5s", "1m"
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration back to its string form
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// NodeConfig identifies this node on the network
type NodeConfig struct {
	ID          string `yaml:"id"`
	ClusterName string `yaml:"cluster_name"`
	BindAddr    string `yaml:"bind_addr" validate:"required"`
	HTTPAddr    string `yaml:"http_addr"` // health + metrics endpoint
}

// GossipConfig tunes the failure detector
type GossipConfig struct {
	Interval         Duration `yaml:"interval"`
	Fanout           int      `yaml:"fanout" validate:"omitempty,min=1"`
	ProbeTimeout     Duration `yaml:"probe_timeout"`
	SuspicionTimeout Duration `yaml:"suspicion_timeout"`
	IndirectProbes   int      `yaml:"indirect_probes" validate:"omitempty,min=1"`
	MaxTransmissions int      `yaml:"max_transmissions" validate:"omitempty,min=1"`
}

// DiscoveryConfig controls seed-based bootstrapping
type DiscoveryConfig struct {
	SeedNodes        []string `yaml:"seed_nodes"`
	AnnounceInterval Duration `yaml:"announce_interval"`
}

// ConsensusConfig tunes leader election and the replicated log
type ConsensusConfig struct {
	ElectionTimeoutMin Duration `yaml:"election_timeout_min"`
	ElectionTimeoutMax Duration `yaml:"election_timeout_max"`
	HeartbeatInterval  Duration `yaml:"heartbeat_interval"`
	LeaderLease        Duration `yaml:"leader_lease"`
	EnablePreVote      bool     `yaml:"enable_prevote"`
	MaxLogEntries      int      `yaml:"max_log_entries" validate:"omitempty,min=0"`
}

// ReplicationConfig tunes the key/value replication service
type ReplicationConfig struct {
	WriteConsistency    string   `yaml:"write_consistency" validate:"omitempty,oneof=one quorum all"`
	ReadConsistency     string   `yaml:"read_consistency" validate:"omitempty,oneof=one quorum all"`
	ConflictResolution  string   `yaml:"conflict_resolution" validate:"omitempty,oneof=lww last_write_wins vclock vector_clock custom"`
	SyncTimeout         Duration `yaml:"sync_timeout"`
	AntiEntropyInterval Duration `yaml:"anti_entropy_interval"`
}

// Config aggregates every component's settings. Immutable once loaded.
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Gossip      GossipConfig      `yaml:"gossip"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Consensus   ConsensusConfig   `yaml:"consensus"`
	Replication ReplicationConfig `yaml:"replication"`
	LogLevel    string            `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns the configuration used when no file is given. The node
// ID is a fresh UUID; production deployments should pin stable IDs.
func Default() *Config {
	clusterDefaults := cluster.DefaultConfig()
	consensusDefaults := consensus.DefaultConfig()
	replicationDefaults := replication.DefaultConfig()

	return &Config{
		Node: NodeConfig{
			ID:          uuid.NewString(),
			ClusterName: clusterDefaults.ClusterName,
			BindAddr:    "tcp://0.0.0.0:7946",
			HTTPAddr:    ":8080",
		},
		Gossip: GossipConfig{
			Interval:         Duration{clusterDefaults.GossipInterval},
			Fanout:           clusterDefaults.GossipFanout,
			ProbeTimeout:     Duration{clusterDefaults.ProbeTimeout},
			SuspicionTimeout: Duration{clusterDefaults.SuspicionTimeout},
			IndirectProbes:   clusterDefaults.IndirectProbes,
			MaxTransmissions: clusterDefaults.MaxTransmissions,
		},
		Discovery: DiscoveryConfig{
			AnnounceInterval: Duration{clusterDefaults.AnnounceInterval},
		},
		Consensus: ConsensusConfig{
			ElectionTimeoutMin: Duration{consensusDefaults.ElectionTimeoutMin},
			ElectionTimeoutMax: Duration{consensusDefaults.ElectionTimeoutMax},
			HeartbeatInterval:  Duration{consensusDefaults.HeartbeatInterval},
			LeaderLease:        Duration{consensusDefaults.LeaderLease},
		},
		Replication: ReplicationConfig{
			WriteConsistency:    replicationDefaults.WriteConsistency.String(),
			ReadConsistency:     replicationDefaults.ReadConsistency.String(),
			ConflictResolution:  replicationDefaults.ConflictStrategy.String(),
			SyncTimeout:         Duration{replicationDefaults.SyncTimeout},
			AntiEntropyInterval: Duration{replicationDefaults.AntiEntropyInterval},
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. Unknown fields are rejected so
// typos fail loudly instead of silently using defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills any field the file zeroed out
func (c *Config) applyDefaults() {
	d := Default()

	if c.Node.ID == "" {
		c.Node.ID = d.Node.ID
	}
	if c.Node.ClusterName == "" {
		c.Node.ClusterName = d.Node.ClusterName
	}
	if c.Node.HTTPAddr == "" {
		c.Node.HTTPAddr = d.Node.HTTPAddr
	}
	c.Gossip.Interval.Duration = validation.DefaultOrDuration(c.Gossip.Interval.Duration, d.Gossip.Interval.Duration)
	c.Gossip.Fanout = validation.DefaultOrInt(c.Gossip.Fanout, d.Gossip.Fanout)
	c.Gossip.ProbeTimeout.Duration = validation.DefaultOrDuration(c.Gossip.ProbeTimeout.Duration, d.Gossip.ProbeTimeout.Duration)
	c.Gossip.SuspicionTimeout.Duration = validation.DefaultOrDuration(c.Gossip.SuspicionTimeout.Duration, d.Gossip.SuspicionTimeout.Duration)
	c.Gossip.IndirectProbes = validation.DefaultOrInt(c.Gossip.IndirectProbes, d.Gossip.IndirectProbes)
	c.Gossip.MaxTransmissions = validation.DefaultOrInt(c.Gossip.MaxTransmissions, d.Gossip.MaxTransmissions)
	c.Discovery.AnnounceInterval.Duration = validation.DefaultOrDuration(c.Discovery.AnnounceInterval.Duration, d.Discovery.AnnounceInterval.Duration)
	c.Consensus.ElectionTimeoutMin.Duration = validation.DefaultOrDuration(c.Consensus.ElectionTimeoutMin.Duration, d.Consensus.ElectionTimeoutMin.Duration)
	c.Consensus.ElectionTimeoutMax.Duration = validation.DefaultOrDuration(c.Consensus.ElectionTimeoutMax.Duration, d.Consensus.ElectionTimeoutMax.Duration)
	c.Consensus.HeartbeatInterval.Duration = validation.DefaultOrDuration(c.Consensus.HeartbeatInterval.Duration, d.Consensus.HeartbeatInterval.Duration)
	c.Consensus.LeaderLease.Duration = validation.DefaultOrDuration(c.Consensus.LeaderLease.Duration, d.Consensus.LeaderLease.Duration)
	if c.Replication.WriteConsistency == "" {
		c.Replication.WriteConsistency = d.Replication.WriteConsistency
	}
	if c.Replication.ReadConsistency == "" {
		c.Replication.ReadConsistency = d.Replication.ReadConsistency
	}
	if c.Replication.ConflictResolution == "" {
		c.Replication.ConflictResolution = d.Replication.ConflictResolution
	}
	c.Replication.SyncTimeout.Duration = validation.DefaultOrDuration(c.Replication.SyncTimeout.Duration, d.Replication.SyncTimeout.Duration)
	c.Replication.AntiEntropyInterval.Duration = validation.DefaultOrDuration(c.Replication.AntiEntropyInterval.Duration, d.Replication.AntiEntropyInterval.Duration)
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate checks struct tags plus the cross-field constraints tags cannot
// express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return validation.NewConfigValidator("config").
		Required("node.id", c.Node.ID).
		Required("node.bind_addr", c.Node.BindAddr).
		MinDuration("gossip.interval", c.Gossip.Interval.Duration, 10*time.Millisecond).
		Custom("gossip.suspicion_timeout", func() error {
			if c.Gossip.SuspicionTimeout.Duration <= c.Gossip.ProbeTimeout.Duration {
				return fmt.Errorf("must exceed probe_timeout %v", c.Gossip.ProbeTimeout.Duration)
			}
			return nil
		}).
		Custom("consensus.election_timeout_max", func() error {
			if c.Consensus.ElectionTimeoutMax.Duration <= c.Consensus.ElectionTimeoutMin.Duration {
				return fmt.Errorf("must exceed election_timeout_min %v", c.Consensus.ElectionTimeoutMin.Duration)
			}
			return nil
		}).
		Custom("consensus.heartbeat_interval", func() error {
			if c.Consensus.HeartbeatInterval.Duration >= c.Consensus.ElectionTimeoutMin.Duration {
				return fmt.Errorf("must be below election_timeout_min %v", c.Consensus.ElectionTimeoutMin.Duration)
			}
			return nil
		}).
		Validate()
}

// ClusterConfig converts to the membership/gossip package's config
func (c *Config) ClusterConfig() cluster.Config {
	return cluster.Config{
		NodeID:           cluster.NodeID(c.Node.ID),
		NodeAddr:         c.Node.BindAddr,
		ClusterName:      c.Node.ClusterName,
		GossipInterval:   c.Gossip.Interval.Duration,
		GossipFanout:     c.Gossip.Fanout,
		ProbeTimeout:     c.Gossip.ProbeTimeout.Duration,
		SuspicionTimeout: c.Gossip.SuspicionTimeout.Duration,
		IndirectProbes:   c.Gossip.IndirectProbes,
		MaxTransmissions: c.Gossip.MaxTransmissions,
		SeedNodes:        c.Discovery.SeedNodes,
		AnnounceInterval: c.Discovery.AnnounceInterval.Duration,
	}
}

// ConsensusConfig converts to the consensus package's config
func (c *Config) ConsensusConfig() consensus.Config {
	return consensus.Config{
		NodeID:             c.Node.ID,
		ElectionTimeoutMin: c.Consensus.ElectionTimeoutMin.Duration,
		ElectionTimeoutMax: c.Consensus.ElectionTimeoutMax.Duration,
		HeartbeatInterval:  c.Consensus.HeartbeatInterval.Duration,
		LeaderLease:        c.Consensus.LeaderLease.Duration,
		EnablePreVote:      c.Consensus.EnablePreVote,
		MaxLogEntries:      c.Consensus.MaxLogEntries,
	}
}

// ReplicationConfig converts to the replication package's config
func (c *Config) ReplicationConfig() (replication.Config, error) {
	write, err := replication.ParseConsistencyLevel(c.Replication.WriteConsistency)
	if err != nil {
		return replication.Config{}, err
	}
	read, err := replication.ParseConsistencyLevel(c.Replication.ReadConsistency)
	if err != nil {
		return replication.Config{}, err
	}
	strategy, err := replication.ParseConflictStrategy(c.Replication.ConflictResolution)
	if err != nil {
		return replication.Config{}, err
	}

	return replication.Config{
		NodeID:              c.Node.ID,
		WriteConsistency:    write,
		ReadConsistency:     read,
		ConflictStrategy:    strategy,
		SyncTimeout:         c.Replication.SyncTimeout.Duration,
		AntiEntropyInterval: c.Replication.AntiEntropyInterval.Duration,
	}, nil
}
