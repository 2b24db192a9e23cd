// ABOUTME: Connection registry mapping org-scoped identities to live peers.
// ABOUTME: Owns watcher subscriptions and emits presence churn to a listener.

package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vigilops/vigil-gateway/internal/protocol"
)

// ErrNotConnected indicates the target identity has no live connection.
// Callers treat this as "offline", not as a fault.
var ErrNotConnected = errors.New("not connected")

// AgentKey identifies a monitored endpoint within one organization.
type AgentKey struct {
	OrgID      string
	ComputerID string
}

// ConsoleKey identifies an operator console within one organization.
type ConsoleKey struct {
	OrgID  string
	UserID string
}

// Peer is a live duplex connection. Enqueue is non-blocking: it returns
// false when the peer's outbound queue is full or the peer is closed, and
// the event is dropped for that peer.
type Peer interface {
	Enqueue(env protocol.Envelope) bool
	Close(reason string)
}

// PresenceListener observes agent churn. Callbacks run outside the registry
// lock and must not call back into Register/Unregister for the same key.
type PresenceListener interface {
	AgentRegistered(key AgentKey)
	AgentUnregistered(key AgentKey)
}

type agentEntry struct {
	peer        Peer
	connectedAt time.Time
}

type consoleEntry struct {
	peer    Peer
	watched map[AgentKey]struct{}
}

// Registry tracks every live agent and console connection and the
// console→agent watch subscriptions. It is the only holder of connection
// handles; every other component looks peers up here.
type Registry struct {
	mu       sync.RWMutex
	agents   map[AgentKey]*agentEntry
	consoles map[ConsoleKey]*consoleEntry
	watchers map[AgentKey]map[ConsoleKey]struct{}
	listener PresenceListener
	logger   *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents:   make(map[AgentKey]*agentEntry),
		consoles: make(map[ConsoleKey]*consoleEntry),
		watchers: make(map[AgentKey]map[ConsoleKey]struct{}),
		logger:   logger.With("component", "registry"),
	}
}

// SetPresenceListener installs the churn listener. Must be called before
// connections are admitted.
func (r *Registry) SetPresenceListener(l PresenceListener) {
	r.listener = l
}

// RegisterAgent admits an agent connection. Registration is idempotent per
// identity: a reconnect replaces the prior handle, which is closed.
func (r *Registry) RegisterAgent(key AgentKey, peer Peer) {
	r.mu.Lock()
	prior := r.agents[key]
	r.agents[key] = &agentEntry{peer: peer, connectedAt: time.Now()}
	total := len(r.agents)
	r.mu.Unlock()

	if prior != nil {
		prior.peer.Close("replaced by reconnect")
	}
	r.logger.Info("agent connected",
		"org_id", key.OrgID,
		"computer_id", key.ComputerID,
		"replaced", prior != nil,
		"total_agents", total,
	)
	if r.listener != nil && prior == nil {
		r.listener.AgentRegistered(key)
	}
}

// UnregisterAgent removes an agent connection. The peer must match the
// currently registered handle, so a reconnect that already replaced it is
// not torn down by the old connection's exit path. Reports whether this
// peer was the registered one; callers skip disconnect cascades when not.
func (r *Registry) UnregisterAgent(key AgentKey, peer Peer) bool {
	r.mu.Lock()
	entry, ok := r.agents[key]
	if !ok || entry.peer != peer {
		r.mu.Unlock()
		return false
	}
	delete(r.agents, key)
	total := len(r.agents)
	r.mu.Unlock()

	r.logger.Info("agent disconnected",
		"org_id", key.OrgID,
		"computer_id", key.ComputerID,
		"total_agents", total,
	)
	if r.listener != nil {
		r.listener.AgentUnregistered(key)
	}
	return true
}

// RegisterConsole admits a console connection, replacing any prior handle
// for the same identity.
func (r *Registry) RegisterConsole(key ConsoleKey, peer Peer) {
	r.mu.Lock()
	prior := r.consoles[key]
	entry := &consoleEntry{peer: peer, watched: make(map[AgentKey]struct{})}
	if prior != nil {
		// Carry the watch set across a reconnect.
		entry.watched = prior.watched
	}
	r.consoles[key] = entry
	r.mu.Unlock()

	if prior != nil {
		prior.peer.Close("replaced by reconnect")
	}
	r.logger.Info("console connected", "org_id", key.OrgID, "user_id", key.UserID)
}

// UnregisterConsole removes a console connection and releases every watch
// subscription it held. Reports whether this peer was the registered one;
// a stale handle from before a reconnect removes nothing.
func (r *Registry) UnregisterConsole(key ConsoleKey, peer Peer) bool {
	r.mu.Lock()
	entry, ok := r.consoles[key]
	if !ok || entry.peer != peer {
		r.mu.Unlock()
		return false
	}
	delete(r.consoles, key)
	for agentKey := range entry.watched {
		if set, ok := r.watchers[agentKey]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(r.watchers, agentKey)
			}
		}
	}
	r.mu.Unlock()

	r.logger.Info("console disconnected", "org_id", key.OrgID, "user_id", key.UserID)
	return true
}

// Agent returns the live peer for an agent identity.
func (r *Registry) Agent(key AgentKey) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.agents[key]
	if !ok {
		return nil, false
	}
	return entry.peer, true
}

// Console returns the live peer for a console identity.
func (r *Registry) Console(key ConsoleKey) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.consoles[key]
	if !ok {
		return nil, false
	}
	return entry.peer, true
}

// AgentOnline reports whether the agent has a live connection.
func (r *Registry) AgentOnline(key AgentKey) bool {
	_, ok := r.Agent(key)
	return ok
}

// SendToAgent enqueues an envelope on the agent's connection.
// Returns ErrNotConnected if the agent is offline. A full outbound queue
// drops the event; session-critical paths use their own acknowledgment.
func (r *Registry) SendToAgent(key AgentKey, env protocol.Envelope) error {
	peer, ok := r.Agent(key)
	if !ok {
		return ErrNotConnected
	}
	if !peer.Enqueue(env) {
		r.logger.Warn("agent outbound queue full, dropping event",
			"computer_id", key.ComputerID, "event", env.Event)
	}
	return nil
}

// SendToConsole enqueues an envelope on the console's connection.
func (r *Registry) SendToConsole(key ConsoleKey, env protocol.Envelope) error {
	peer, ok := r.Console(key)
	if !ok {
		return ErrNotConnected
	}
	if !peer.Enqueue(env) {
		r.logger.Debug("console outbound queue full, dropping event",
			"user_id", key.UserID, "event", env.Event)
	}
	return nil
}

// Watch subscribes a console to an agent's live events. The subscription is
// independent of the agent's connection state, so a console can watch an
// offline computer and start receiving events when it comes back.
// Cross-organization watches are rejected.
func (r *Registry) Watch(console ConsoleKey, computerID string) error {
	agentKey := AgentKey{OrgID: console.OrgID, ComputerID: computerID}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.consoles[console]
	if !ok {
		return ErrNotConnected
	}
	entry.watched[agentKey] = struct{}{}
	if r.watchers[agentKey] == nil {
		r.watchers[agentKey] = make(map[ConsoleKey]struct{})
	}
	r.watchers[agentKey][console] = struct{}{}
	return nil
}

// Unwatch removes a console's subscription to an agent.
func (r *Registry) Unwatch(console ConsoleKey, computerID string) {
	agentKey := AgentKey{OrgID: console.OrgID, ComputerID: computerID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.consoles[console]; ok {
		delete(entry.watched, agentKey)
	}
	if set, ok := r.watchers[agentKey]; ok {
		delete(set, console)
		if len(set) == 0 {
			delete(r.watchers, agentKey)
		}
	}
}

// Watchers returns the consoles currently watching an agent.
func (r *Registry) Watchers(key AgentKey) []ConsoleKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.watchers[key]
	out := make([]ConsoleKey, 0, len(set))
	for console := range set {
		out = append(out, console)
	}
	return out
}

// OnlineComputers returns the computer ids of every connected agent in the
// organization.
func (r *Registry) OnlineComputers(orgID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for key := range r.agents {
		if key.OrgID == orgID {
			out = append(out, key.ComputerID)
		}
	}
	return out
}

// BroadcastToOrg enqueues an envelope on every console in the organization.
func (r *Registry) BroadcastToOrg(orgID string, env protocol.Envelope) {
	r.mu.RLock()
	targets := make([]Peer, 0, len(r.consoles))
	for key, entry := range r.consoles {
		if key.OrgID == orgID {
			targets = append(targets, entry.peer)
		}
	}
	r.mu.RUnlock()

	for _, peer := range targets {
		if !peer.Enqueue(env) {
			r.logger.Debug("dropped broadcast for slow console", "event", env.Event)
		}
	}
}
