// ABOUTME: Gateway orchestrator that wires the registry, trackers, and managers
// ABOUTME: together and runs the HTTP server hosting both websocket endpoints.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/vigilops/vigil-gateway/internal/auth"
	"github.com/vigilops/vigil-gateway/internal/config"
	"github.com/vigilops/vigil-gateway/internal/dedupe"
	"github.com/vigilops/vigil-gateway/internal/dispatch"
	"github.com/vigilops/vigil-gateway/internal/presence"
	"github.com/vigilops/vigil-gateway/internal/registry"
	"github.com/vigilops/vigil-gateway/internal/relay"
	"github.com/vigilops/vigil-gateway/internal/remote"
	"github.com/vigilops/vigil-gateway/internal/store"
	"github.com/vigilops/vigil-gateway/internal/terminal"
	"github.com/vigilops/vigil-gateway/internal/transfer"
)

// Gateway orchestrates the vigil-gateway server components. It owns the
// HTTP server carrying both websocket endpoints and the REST API, and
// wires every manager to the shared connection registry.
type Gateway struct {
	config   *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	presence *presence.Tracker
	dispatch *dispatch.Dispatcher
	remote   *remote.Manager
	terminal *terminal.Manager
	transfer *transfer.Coordinator
	relay    *relay.Relay
	store    *store.Store
	dedupe   *dedupe.Cache

	jwtVerifier   *auth.JWTVerifier
	agentVerifier *auth.AgentVerifier

	httpServer *http.Server
}

// initStore creates the audit store based on config and environment.
func initStore(cfg *config.Config) (*store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("VIGIL_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	jwtVerifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	agentVerifier := auth.NewAgentVerifier(cfg.Auth.AgentKeyHash)
	if !agentVerifier.Enabled() {
		logger.Warn("agent auth disabled - no agent_key_hash configured")
	}

	reg := registry.New(logger.With("component", "registry"))
	tracker := presence.New(reg, cfg.Agents.HeartbeatTimeout, logger.With("component", "presence"))
	reg.SetPresenceListener(tracker)

	dispatcher := dispatch.New(dispatch.Config{
		AckTimeout:       cfg.Commands.AckTimeout,
		OfflinePolicy:    dispatch.OfflinePolicy(cfg.Commands.OfflinePolicy),
		OfflineQueueSize: cfg.Commands.OfflineQueueSize,
	}, reg, logger.With("component", "dispatch"))
	tracker.SetConnectHook(dispatcher.AgentConnected)

	remoteMgr := remote.New(reg, cfg.Sessions.StartTimeout, logger.With("component", "remote"))
	terminalMgr := terminal.New(reg, cfg.Sessions.StartTimeout, logger.With("component", "terminal"))
	transferCoord := transfer.New(reg, cfg.Transfers.AcceptTimeout, logger.With("component", "transfer"))
	frameRelay := relay.New(reg, remoteMgr, logger.With("component", "relay"))

	g := &Gateway{
		config:        cfg,
		logger:        logger.With("component", "gateway"),
		registry:      reg,
		presence:      tracker,
		dispatch:      dispatcher,
		remote:        remoteMgr,
		terminal:      terminalMgr,
		transfer:      transferCoord,
		relay:         frameRelay,
		store:         s,
		dedupe:        dedupe.New(5*time.Minute, 100_000),
		jwtVerifier:   jwtVerifier,
		agentVerifier: agentVerifier,
	}
	g.wireAuditHooks()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/ws/agent", g.handleAgentWS)
	mux.HandleFunc("/ws/console", g.handleConsoleWS)

	authMiddleware := auth.HTTPMiddleware(jwtVerifier)
	mux.Handle("/api/computers", authMiddleware(http.HandlerFunc(g.handleListComputers)))
	mux.Handle("/api/sessions", authMiddleware(http.HandlerFunc(g.handleListSessions)))

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// wireAuditHooks installs the terminal-state callbacks that persist the
// audit trail. The managers themselves never touch the store.
func (g *Gateway) wireAuditHooks() {
	g.remote.SetTerminalHook(func(s remote.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.RecordSession(ctx, store.SessionAudit{
			SessionID:  s.ID,
			OrgID:      s.Agent.OrgID,
			ComputerID: s.Agent.ComputerID,
			UserID:     s.Console.UserID,
			Kind:       "remote_control",
			Mode:       s.Mode,
			FinalState: string(s.State),
			Reason:     s.Reason,
			StartedAt:  s.StartedAt,
			EndedAt:    time.Now().UTC(),
		}); err != nil {
			g.logger.Error("recording session audit", "session_id", s.ID, "error", err)
		}
	})

	g.terminal.SetClosedHook(func(s terminal.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.RecordSession(ctx, store.SessionAudit{
			SessionID:  s.ID,
			OrgID:      s.Agent.OrgID,
			ComputerID: s.Agent.ComputerID,
			UserID:     s.Console.UserID,
			Kind:       "terminal",
			FinalState: string(s.State),
			Reason:     s.Reason,
			StartedAt:  s.StartedAt,
			EndedAt:    time.Now().UTC(),
		}); err != nil {
			g.logger.Error("recording session audit", "session_id", s.ID, "error", err)
		}
	})

	g.transfer.SetTerminalHook(func(s transfer.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.RecordTransfer(ctx, store.TransferAudit{
			TransferID:       s.ID,
			OrgID:            s.Agent.OrgID,
			ComputerID:       s.Agent.ComputerID,
			UserID:           s.Console.UserID,
			Direction:        s.Direction,
			RemotePath:       s.RemotePath,
			FinalState:       string(s.State),
			Reason:           s.Reason,
			BytesTransferred: s.BytesTransferred,
			StartedAt:        s.StartedAt,
			EndedAt:          time.Now().UTC(),
		}); err != nil {
			g.logger.Error("recording transfer audit", "transfer_id", s.ID, "error", err)
		}
	})
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.presence.Start()

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.presence.Close()
	g.dedupe.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the server is accepting connections.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d commands in flight)", g.dispatch.InFlight())
}
