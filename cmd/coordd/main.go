// coordd is the cluster coordination daemon: gossip membership, leader
// election with a replicated log, and quorum-replicated key/value state,
// plus an HTTP admin surface for probes, metrics and the KV API.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/config"
	"github.com/dd0wney/cluso-coord/pkg/consensus"
	"github.com/dd0wney/cluso-coord/pkg/health"
	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/metrics"
	"github.com/dd0wney/cluso-coord/pkg/replication"
	"github.com/dd0wney/cluso-coord/pkg/server"
	"github.com/dd0wney/cluso-coord/pkg/transport"
)

const telemetryInterval = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (defaults used when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordd: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	logger.Info("starting coordd",
		logging.Node(cfg.Node.ID),
		logging.Addr(cfg.Node.BindAddr),
		logging.String("http_addr", cfg.Node.HTTPAddr))

	if err := run(cfg, logger); err != nil {
		logger.Error("coordd exited with error", logging.Err(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

func run(cfg *config.Config, logger logging.Logger) error {
	startedAt := time.Now()
	registry := metrics.DefaultRegistry()

	tp, err := transport.NewNNGTransport(cfg.Node.ID, cfg.Node.BindAddr, logger)
	if err != nil {
		return fmt.Errorf("binding transport: %w", err)
	}
	defer tp.Close()

	clusterCfg := cfg.ClusterConfig()
	view := cluster.NewMembershipView(clusterCfg.NodeID, clusterCfg.NodeAddr)

	gossiper := cluster.NewGossiper(clusterCfg, view, tp, logger)
	discovery := cluster.NewDiscovery(clusterCfg, view, tp, tp, logger)

	consensusCfg := cfg.ConsensusConfig()
	node := consensus.NewNode(consensusCfg, logger)
	driver := consensus.NewDriver(consensusCfg, node, view, tp, logger)

	replCfg, err := cfg.ReplicationConfig()
	if err != nil {
		return fmt.Errorf("replication config: %w", err)
	}
	// Custom strategies need a merge function, which only embedding callers
	// can supply; the daemon runs lww or vclock.
	resolver, err := replication.NewResolver(replCfg.ConflictStrategy, nil)
	if err != nil {
		return fmt.Errorf("conflict resolver: %w", err)
	}
	store := replication.NewStore(cfg.Node.ID, resolver)
	replicator := replication.NewService(replCfg, store, view, tp, logger)

	checker := health.NewHealthChecker()
	checker.RegisterCheck("membership", health.MembershipCheck(view))
	checker.RegisterCheck("leadership", health.LeadershipCheck(node.Election()))
	checker.RegisterCheck("replication", health.ReplicationCheck(
		store.Len,
		replicator.LastSync,
		3*replCfg.AntiEntropyInterval,
	))
	checker.RegisterCheck("memory", health.MemoryCheck())
	checker.RegisterReadinessCheck("membership", health.MembershipCheck(view))
	checker.RegisterLivenessCheck("alive", func() health.Check {
		return health.SimpleCheck("alive")
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.HTTPHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	mux.HandleFunc("/livez", checker.LivenessHandler())
	mux.Handle("/metrics", registry.HTTPHandler())
	mux.HandleFunc("/v1/status", statusHandler(cfg.Node.ID, view, node, store, startedAt))
	mux.HandleFunc("/v1/members", membersHandler(view))
	mux.HandleFunc("/v1/kv/", kvHandler(replicator, logger))

	httpServer := server.NewGracefulServer(cfg.Node.HTTPAddr, mux, logger)
	httpServer.SetReloadFunc(func() error {
		reloaded, err := loadConfig(flag.Lookup("config").Value.String())
		if err != nil {
			return err
		}
		// Only the log level can change at runtime; topology and timing
		// changes need a restart.
		logger.SetLevel(logging.ParseLevel(reloaded.LogLevel))
		return nil
	})

	gossiper.Start()
	discovery.Start()
	driver.Start()
	replicator.Start()

	stopTelemetry := make(chan struct{})
	go telemetryLoop(registry, view, node, startedAt, stopTelemetry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
		httpServer.Shutdown(30 * time.Second)
	case <-httpServer.ShutdownChannel():
	}

	logger.Info("stopping coordination components")
	close(stopTelemetry)
	discovery.Stop()
	gossiper.Stop()
	driver.Stop()
	replicator.Stop()

	logger.Info("coordd stopped", logging.Duration("uptime", time.Since(startedAt)))
	return serveErr
}

// telemetryLoop samples gauges that are not updated inline on the hot path
func telemetryLoop(registry *metrics.Registry, view *cluster.MembershipView, node *consensus.Node, startedAt time.Time, stopCh <-chan struct{}) {
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			registry.CollectSystem(startedAt)
			registry.SetConsensusRole(node.Election().State().String())

			byState := make(map[string]int)
			for _, m := range view.Members() {
				byState[m.State.String()]++
			}
			registry.UpdateMembershipMetrics(byState, view.Version(), view.HasQuorum())
		}
	}
}

func statusHandler(nodeID string, view *cluster.MembershipView, node *consensus.Node, store *replication.Store, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		election := node.Election()
		leader, leaderKnown := election.CurrentLeader()

		writeJSON(w, http.StatusOK, map[string]any{
			"node":         nodeID,
			"uptime":       time.Since(startedAt).String(),
			"members":      view.Len(),
			"operational":  view.OperationalCount(),
			"has_quorum":   view.HasQuorum(),
			"view_version": view.Version(),
			"role":         election.State().String(),
			"term":         election.CurrentTerm(),
			"leader":       leader,
			"leader_known": leaderKnown,
			"keys":         store.Len(),
		})
	}
}

func membersHandler(view *cluster.MembershipView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		members := view.Members()
		out := make([]map[string]any, 0, len(members))
		for _, m := range members {
			out = append(out, map[string]any{
				"id":          string(m.ID),
				"addr":        m.Addr,
				"state":       m.State.String(),
				"incarnation": m.Incarnation,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// kvHandler serves the replicated KV API: GET reads at the configured read
// consistency, PUT writes at the configured write consistency. Concurrent
// siblings surface as 409 with all versions.
func kvHandler(replicator *replication.Service, logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/v1/kv/")
		if key == "" {
			writeError(w, http.StatusBadRequest, "key required")
			return
		}

		switch r.Method {
		case http.MethodGet:
			value, err := replicator.Read(r.Context(), key)
			switch {
			case err == nil:
				writeJSON(w, http.StatusOK, map[string]any{
					"key":       key,
					"value":     string(value.Value),
					"writer":    value.Writer,
					"version":   value.Version,
					"timestamp": value.Timestamp,
				})
			case replication.IsConflictError(err):
				var conflict *replication.ConflictError
				errors.As(err, &conflict)
				writeJSON(w, http.StatusConflict, map[string]any{
					"error":    err.Error(),
					"siblings": conflict.Siblings,
				})
			case errors.Is(err, replication.ErrKeyNotFound):
				writeError(w, http.StatusNotFound, "key not found")
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}

		case http.MethodPut, http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				writeError(w, http.StatusBadRequest, "reading body")
				return
			}

			value, err := replicator.Write(r.Context(), key, body)
			if err != nil {
				if replication.IsQuorumError(err) {
					// The local write survives; anti-entropy finishes the
					// spread once peers return.
					logger.Warn("write accepted without quorum", logging.Key(key), logging.Err(err))
					writeJSON(w, http.StatusAccepted, map[string]any{
						"key":     key,
						"version": value.Version,
						"warning": err.Error(),
					})
					return
				}
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"key":     key,
				"version": value.Version,
			})

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
