// Package server wraps the HTTP admin surface (health probes, metrics)
// with graceful shutdown and signal handling.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
)

// ReloadFunc is called when a configuration reload is requested via SIGHUP
type ReloadFunc func() error

// GracefulServer wraps an HTTP server with signal-driven graceful shutdown
type GracefulServer struct {
	server       *http.Server
	logger       logging.Logger
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	reloadMu sync.RWMutex
	reloadFn ReloadFunc
}

// NewGracefulServer creates a graceful HTTP server on the given address
func NewGracefulServer(addr string, handler http.Handler, logger logging.Logger) *GracefulServer {
	return &GracefulServer{
		server: &http.Server{
			Addr:           addr,
			Handler:        handler,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		logger:     logger.With(logging.Component("http")),
		shutdownCh: make(chan struct{}),
	}
}

// Start serves until Shutdown is called or a termination signal arrives.
// It blocks; run it from a goroutine if the caller has other work.
func (gs *GracefulServer) Start() error {
	go gs.handleSignals()

	gs.logger.Info("HTTP server listening", logging.Addr(gs.server.Addr))
	if err := gs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, waiting at most timeout
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("Shutting down HTTP server", logging.Duration("timeout", timeout))
		if shutdownErr := gs.server.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
			gs.logger.Error("HTTP shutdown failed", logging.Err(shutdownErr))
		}
	})
	return err
}

// handleSignals reacts to OS signals: SIGINT/SIGTERM drain and stop,
// SIGHUP triggers a configuration reload
func (gs *GracefulServer) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-gs.shutdownCh:
			return

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				gs.logger.Info("Termination signal received", logging.String("signal", sig.String()))
				if err := gs.Shutdown(30 * time.Second); err != nil {
					gs.logger.Error("Shutdown failed", logging.Err(err))
				}
				return

			case syscall.SIGHUP:
				gs.logger.Info("SIGHUP received, reloading configuration")
				if err := gs.Reload(); err != nil {
					gs.logger.Error("Configuration reload failed", logging.Err(err))
				}
			}
		}
	}
}

// IsShuttingDown reports whether shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel closes when shutdown is initiated; the daemon waits on
// it to stop the coordination components in order
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// SetReloadFunc installs the callback invoked on SIGHUP
func (gs *GracefulServer) SetReloadFunc(fn ReloadFunc) {
	gs.reloadMu.Lock()
	defer gs.reloadMu.Unlock()
	gs.reloadFn = fn
}

// Reload invokes the configured reload callback, if any
func (gs *GracefulServer) Reload() error {
	gs.reloadMu.RLock()
	reloadFn := gs.reloadFn
	gs.reloadMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Warn("Reload requested but no reload function configured")
		return nil
	}

	if err := reloadFn(); err != nil {
		return err
	}
	gs.logger.Info("Configuration reload complete")
	return nil
}
