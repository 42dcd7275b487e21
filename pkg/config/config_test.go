package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-coord/pkg/replication"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coordd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.NotEmpty(t, cfg.Node.ID, "a fresh UUID is assigned")
	assert.Equal(t, "default", cfg.Node.ClusterName)
	assert.Equal(t, "quorum", cfg.Replication.WriteConsistency)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  id: node-a
  bind_addr: tcp://10.0.0.1:7946
gossip:
  interval: 250ms
  fanout: 5
consensus:
  heartbeat_interval: 200ms
  election_timeout_min: 900ms
  election_timeout_max: 1800ms
replication:
  write_consistency: all
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Node.ID)
	assert.Equal(t, 250*time.Millisecond, cfg.Gossip.Interval.Duration)
	assert.Equal(t, 5, cfg.Gossip.Fanout)
	assert.Equal(t, 200*time.Millisecond, cfg.Consensus.HeartbeatInterval.Duration)
	assert.Equal(t, "all", cfg.Replication.WriteConsistency)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched fields keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Gossip.SuspicionTimeout.Duration)
	assert.Equal(t, "one", cfg.Replication.ReadConsistency)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
node:
  id: node-a
  bind_addr: tcp://10.0.0.1:7946
gosip:
  interval: 250ms
`)

	_, err := Load(path)
	assert.Error(t, err, "a typo must fail loudly, not fall back to defaults")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
node:
  id: node-a
  bind_addr: tcp://10.0.0.1:7946
gossip:
  interval: quickly
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestValidateRejectsBadLevels(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Replication.WriteConsistency = "most"
	assert.Error(t, cfg.Validate())
}

func TestValidateCrossFieldConstraints(t *testing.T) {
	cfg := Default()
	cfg.Gossip.SuspicionTimeout.Duration = cfg.Gossip.ProbeTimeout.Duration
	assert.ErrorContains(t, cfg.Validate(), "suspicion_timeout")

	cfg = Default()
	cfg.Consensus.ElectionTimeoutMax.Duration = cfg.Consensus.ElectionTimeoutMin.Duration
	assert.ErrorContains(t, cfg.Validate(), "election_timeout_max")

	cfg = Default()
	cfg.Consensus.HeartbeatInterval.Duration = cfg.Consensus.ElectionTimeoutMin.Duration
	assert.ErrorContains(t, cfg.Validate(), "heartbeat_interval")
}

func TestClusterConfigConversion(t *testing.T) {
	cfg := Default()
	cfg.Node.ID = "node-a"
	cfg.Discovery.SeedNodes = []string{"tcp://seed:7946"}

	cc := cfg.ClusterConfig()
	require.NoError(t, cc.Validate())
	assert.Equal(t, "node-a", string(cc.NodeID))
	assert.Equal(t, []string{"tcp://seed:7946"}, cc.SeedNodes)
}

func TestConsensusConfigConversion(t *testing.T) {
	cfg := Default()
	cfg.Node.ID = "node-a"

	cc := cfg.ConsensusConfig()
	require.NoError(t, cc.Validate())
	assert.Equal(t, cfg.Consensus.LeaderLease.Duration, cc.LeaderLease)
}

func TestReplicationConfigConversion(t *testing.T) {
	cfg := Default()
	cfg.Node.ID = "node-a"
	cfg.Replication.WriteConsistency = "all"
	cfg.Replication.ConflictResolution = "vector_clock"

	rc, err := cfg.ReplicationConfig()
	require.NoError(t, err)
	require.NoError(t, rc.Validate())
	assert.Equal(t, replication.ConsistencyAll, rc.WriteConsistency)
	assert.Equal(t, replication.StrategyVectorClock, rc.ConflictStrategy)
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	d := Duration{1500 * time.Millisecond}
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", out)
}
