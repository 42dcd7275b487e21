package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/consensus"
	"github.com/dd0wney/cluso-coord/pkg/logging"
)

func TestWorstStatusWins(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck("ok", func() Check { return Check{Name: "ok", Status: StatusHealthy} })
	hc.RegisterCheck("meh", func() Check { return Check{Name: "meh", Status: StatusDegraded} })

	assert.Equal(t, StatusDegraded, hc.Check().Status)

	hc.RegisterCheck("bad", func() Check { return Check{Name: "bad", Status: StatusUnhealthy} })
	assert.Equal(t, StatusUnhealthy, hc.Check().Status)
}

func TestEmptyCheckerIsHealthy(t *testing.T) {
	hc := NewHealthChecker()
	resp := hc.Check()

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestMembershipCheck(t *testing.T) {
	view := cluster.NewMembershipView("node-a", "tcp://127.0.0.1:7946")
	check := MembershipCheck(view)

	assert.Equal(t, StatusHealthy, check().Status, "a lone node has quorum")

	view.Upsert(cluster.MemberInfo{ID: "node-b", State: cluster.StateActive})
	view.Upsert(cluster.MemberInfo{ID: "node-c", State: cluster.StateActive})
	assert.Equal(t, StatusHealthy, check().Status)

	view.MarkFailed("node-b")
	assert.Equal(t, StatusDegraded, check().Status, "quorum held, but a member is down")

	view.MarkFailed("node-c")
	result := check()
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "No quorum", result.Message)
}

func TestLeadershipCheck(t *testing.T) {
	cfg := consensus.DefaultConfig()
	cfg.NodeID = "node-a"
	election := consensus.NewElection(cfg, logging.NewNopLogger())

	check := LeadershipCheck(election)
	assert.Equal(t, StatusDegraded, check().Status, "no leader yet")

	election.StartElection()
	election.BecomeLeader()

	result := check()
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "node-a", result.Details["leader"])
}

func TestReplicationCheck(t *testing.T) {
	var last time.Time
	check := ReplicationCheck(
		func() int { return 3 },
		func() time.Time { return last },
		time.Minute,
	)

	assert.Equal(t, StatusHealthy, check().Status, "no rounds yet is fine at boot")

	last = time.Now()
	assert.Equal(t, StatusHealthy, check().Status)

	last = time.Now().Add(-2 * time.Minute)
	result := check()
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "Anti-entropy falling behind", result.Message)
}

func TestHTTPHandlerStatusCodes(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck("ok", func() Check { return Check{Name: "ok", Status: StatusHealthy} })

	rec := httptest.NewRecorder()
	hc.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)

	hc.RegisterCheck("bad", func() Check { return Check{Name: "bad", Status: StatusUnhealthy} })
	rec = httptest.NewRecorder()
	hc.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDegradedIsStillServing(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck("meh", func() Check { return Check{Name: "meh", Status: StatusDegraded} })

	rec := httptest.NewRecorder()
	hc.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded must not trigger restarts")
}

func TestReadinessIsBinary(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterReadinessCheck("meh", func() Check { return Check{Name: "meh", Status: StatusDegraded} })

	rec := httptest.NewRecorder()
	hc.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "degraded is not ready")
}

func TestLivenessHandler(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterLivenessCheck("alive", func() Check { return SimpleCheck("alive") })

	rec := httptest.NewRecorder()
	hc.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
