// ABOUTME: Presence tracker deriving online/offline agent sets from registry churn.
// ABOUTME: Sweeps stale heartbeats and notifies every console in the agent's org.

package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vigilops/vigil-gateway/internal/protocol"
	"github.com/vigilops/vigil-gateway/internal/registry"
)

// AgentConnected is the hook invoked when an agent comes online, after
// presence has been announced. The dispatcher uses it to flush queued
// commands.
type AgentConnected func(key registry.AgentKey)

// Tracker maintains last-heartbeat times for connected agents and turns
// registry churn into agent_online / agent_offline notifications.
// It implements registry.PresenceListener.
type Tracker struct {
	mu       sync.Mutex
	lastSeen map[registry.AgentKey]time.Time

	reg       *registry.Registry
	timeout   time.Duration
	onConnect AgentConnected
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Tracker. heartbeatTimeout bounds how long an agent may go
// silent before its connection is closed; zero disables the sweep.
func New(reg *registry.Registry, heartbeatTimeout time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		lastSeen: make(map[registry.AgentKey]time.Time),
		reg:      reg,
		timeout:  heartbeatTimeout,
		logger:   logger.With("component", "presence"),
		done:     make(chan struct{}),
	}
}

// SetConnectHook installs the agent-connected hook. Must be called before
// connections are admitted.
func (t *Tracker) SetConnectHook(hook AgentConnected) {
	t.onConnect = hook
}

// Start launches the heartbeat sweep. No-op when the timeout is zero.
func (t *Tracker) Start() {
	if t.timeout <= 0 {
		return
	}
	go t.sweep()
}

// Close stops the sweep goroutine.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

// AgentRegistered implements registry.PresenceListener.
func (t *Tracker) AgentRegistered(key registry.AgentKey) {
	t.mu.Lock()
	t.lastSeen[key] = time.Now()
	t.mu.Unlock()

	t.reg.BroadcastToOrg(key.OrgID, protocol.MustMake(protocol.EventAgentOnline,
		protocol.PresenceChange{ComputerID: key.ComputerID}))

	if t.onConnect != nil {
		t.onConnect(key)
	}
}

// AgentUnregistered implements registry.PresenceListener.
func (t *Tracker) AgentUnregistered(key registry.AgentKey) {
	t.mu.Lock()
	delete(t.lastSeen, key)
	t.mu.Unlock()

	t.reg.BroadcastToOrg(key.OrgID, protocol.MustMake(protocol.EventAgentOffline,
		protocol.PresenceChange{ComputerID: key.ComputerID}))
}

// MarkHeartbeat records a heartbeat from an agent.
func (t *Tracker) MarkHeartbeat(key registry.AgentKey) {
	t.mu.Lock()
	if _, ok := t.lastSeen[key]; ok {
		t.lastSeen[key] = time.Now()
	}
	t.mu.Unlock()
}

// Snapshot returns the online computer ids for an organization, delivered
// to a console when it connects.
func (t *Tracker) Snapshot(orgID string) protocol.OnlineComputers {
	ids := t.reg.OnlineComputers(orgID)
	if ids == nil {
		ids = []string{}
	}
	return protocol.OnlineComputers{ComputerIDs: ids}
}

// sweep closes agents whose heartbeats have gone stale. The connection
// teardown path performs the actual unregister, so offline is announced
// exactly once.
func (t *Tracker) sweep() {
	interval := t.timeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.closeStale()
		}
	}
}

func (t *Tracker) closeStale() {
	cutoff := time.Now().Add(-t.timeout)

	t.mu.Lock()
	var stale []registry.AgentKey
	for key, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	t.mu.Unlock()

	for _, key := range stale {
		peer, ok := t.reg.Agent(key)
		if !ok {
			continue
		}
		t.logger.Warn("closing agent after heartbeat timeout",
			"org_id", key.OrgID, "computer_id", key.ComputerID)
		peer.Close("heartbeat timeout")
	}
}
