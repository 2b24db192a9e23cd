// ABOUTME: Remote-control session state machine between one console and one agent.
// ABOUTME: REQUESTED -> ACTIVE -> ENDED, with REJECTED reachable only from REQUESTED.

package remote

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil-gateway/internal/protocol"
	"github.com/vigilops/vigil-gateway/internal/registry"
)

// Session states.
type State string

const (
	StateRequested State = "REQUESTED"
	StateActive    State = "ACTIVE"
	StateEnded     State = "ENDED"
	StateRejected  State = "REJECTED"
)

// Manager errors.
var (
	// ErrAgentOffline means the target agent has no live connection; the
	// session is rejected immediately.
	ErrAgentOffline = errors.New("agent is offline")

	// ErrNoSession means no active session exists for the console/agent pair.
	ErrNoSession = errors.New("no remote-control session")

	// ErrBadMode means the requested mode is neither VIEW nor CONTROL.
	ErrBadMode = errors.New("invalid remote-control mode")
)

// Links is the outbound half the manager needs from the registry.
type Links interface {
	AgentOnline(key registry.AgentKey) bool
	SendToAgent(key registry.AgentKey, env protocol.Envelope) error
	SendToConsole(key registry.ConsoleKey, env protocol.Envelope) error
}

// Terminal is a callback fired once when a session reaches a terminal
// state. The gateway uses it to write the audit record.
type Terminal func(s Snapshot)

// Snapshot is an immutable copy of session state for callers.
type Snapshot struct {
	ID        string
	Agent     registry.AgentKey
	Console   registry.ConsoleKey
	Mode      string
	State     State
	Reason    string
	StartedAt time.Time
}

type session struct {
	id        string
	agent     registry.AgentKey
	console   registry.ConsoleKey
	mode      string
	state     State
	startedAt time.Time
	timer     *time.Timer
}

type pairKey struct {
	agent   registry.AgentKey
	console registry.ConsoleKey
}

// Manager owns every remote-control session. One live session per
// (agent, console) pair; a second start returns the existing id.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	byPair   map[pairKey]string

	links        Links
	startTimeout time.Duration
	onTerminal   Terminal
	logger       *slog.Logger
}

// New creates a Manager.
func New(links Links, startTimeout time.Duration, logger *slog.Logger) *Manager {
	if startTimeout <= 0 {
		startTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:     make(map[string]*session),
		byPair:       make(map[pairKey]string),
		links:        links,
		startTimeout: startTimeout,
		logger:       logger.With("component", "remote"),
	}
}

// SetTerminalHook installs the terminal-state callback.
func (m *Manager) SetTerminalHook(hook Terminal) {
	m.onTerminal = hook
}

// Start requests a session. Idempotent per (agent, console) pair: if a live
// session exists its id is returned and no directive is re-sent. An offline
// agent rejects immediately with ErrAgentOffline.
func (m *Manager) Start(console registry.ConsoleKey, computerID, mode string, quality, fps int) (string, error) {
	if mode != protocol.ModeView && mode != protocol.ModeControl {
		return "", ErrBadMode
	}
	agent := registry.AgentKey{OrgID: console.OrgID, ComputerID: computerID}
	if !m.links.AgentOnline(agent) {
		return "", ErrAgentOffline
	}

	pair := pairKey{agent: agent, console: console}

	m.mu.Lock()
	if id, ok := m.byPair[pair]; ok {
		m.mu.Unlock()
		m.logger.Debug("reusing existing session", "session_id", id)
		return id, nil
	}
	s := &session{
		id:        uuid.New().String(),
		agent:     agent,
		console:   console,
		mode:      mode,
		state:     StateRequested,
		startedAt: time.Now(),
	}
	m.sessions[s.id] = s
	m.byPair[pair] = s.id
	s.timer = time.AfterFunc(m.startTimeout, func() { m.expire(s.id) })
	m.mu.Unlock()

	if quality <= 0 {
		quality = 60
	}
	if fps <= 0 {
		fps = 10
	}
	err := m.links.SendToAgent(agent, protocol.MustMake(protocol.EventStartRemoteControl,
		protocol.StartRemoteControlDirective{
			SessionID: s.id,
			Mode:      mode,
			Quality:   quality,
			FPS:       fps,
		}))
	if err != nil {
		// Raced with a disconnect between the online check and the send.
		m.reject(s.id, "agent disconnected")
		return "", ErrAgentOffline
	}

	m.logger.Info("remote-control session requested",
		"session_id", s.id, "computer_id", computerID, "mode", mode)
	return s.id, nil
}

// HandleAck applies the agent's accept or refuse for a REQUESTED session.
// Acks for unknown sessions, sessions owned by another agent, or sessions
// past REQUESTED are logged and dropped.
func (m *Manager) HandleAck(from registry.AgentKey, ack protocol.SessionAck) {
	m.mu.Lock()
	s, ok := m.sessions[ack.SessionID]
	if !ok || s.agent != from || s.state != StateRequested {
		m.mu.Unlock()
		m.logger.Warn("dropping remote-control ack with no matching request",
			"session_id", ack.SessionID)
		return
	}
	if !ack.Accepted {
		m.mu.Unlock()
		m.reject(ack.SessionID, ack.Reason)
		return
	}
	s.state = StateActive
	if s.timer != nil {
		s.timer.Stop()
	}
	console, agent, id := s.console, s.agent, s.id
	m.mu.Unlock()

	m.logger.Info("remote-control session active", "session_id", id)
	_ = m.links.SendToConsole(console, protocol.MustMake(protocol.EventRemoteControlStarted,
		protocol.SessionEvent{SessionID: id, ComputerID: agent.ComputerID}))
}

// Input forwards a mouse/keyboard event for the console's active session
// with the computer. CONTROL mode forwards fire-and-forget; VIEW mode
// silently drops the event, which viewers may rely on. No active session is
// an ErrNoSession contract violation.
func (m *Manager) Input(console registry.ConsoleKey, computerID string, in protocol.RemoteInput) error {
	agent := registry.AgentKey{OrgID: console.OrgID, ComputerID: computerID}

	m.mu.Lock()
	id, ok := m.byPair[pairKey{agent: agent, console: console}]
	var s *session
	if ok {
		s = m.sessions[id]
	}
	if s == nil || s.state != StateActive {
		m.mu.Unlock()
		return ErrNoSession
	}
	mode := s.mode
	m.mu.Unlock()

	if mode == protocol.ModeView {
		// Policy drop, not an error: viewers have no control rights.
		return nil
	}
	return m.links.SendToAgent(agent, protocol.MustMake(protocol.EventRemoteInput, in))
}

// Stop ends a session at the console's request. Ending an already-ended or
// unknown session is a no-op.
func (m *Manager) Stop(console registry.ConsoleKey, sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.console != console {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.end(sessionID, "stopped by console", true, true)
}

// ActiveConsoles returns consoles holding an ACTIVE session with the agent;
// the screen-frame relay includes them alongside watchers.
func (m *Manager) ActiveConsoles(agent registry.AgentKey) []registry.ConsoleKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []registry.ConsoleKey
	for _, s := range m.sessions {
		if s.agent == agent && s.state == StateActive {
			out = append(out, s.console)
		}
	}
	return out
}

// AgentGone ends every session for a disconnected agent.
func (m *Manager) AgentGone(agent registry.AgentKey) {
	for _, id := range m.sessionsFor(func(s *session) bool { return s.agent == agent }) {
		m.end(id, "agent disconnected", false, true)
	}
}

// ConsoleGone ends every session for a disconnected console.
func (m *Manager) ConsoleGone(console registry.ConsoleKey) {
	for _, id := range m.sessionsFor(func(s *session) bool { return s.console == console }) {
		m.end(id, "console disconnected", true, false)
	}
}

func (m *Manager) sessionsFor(match func(*session) bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if match(s) {
			ids = append(ids, id)
		}
	}
	return ids
}

// expire rejects a session whose start directive was never acknowledged.
func (m *Manager) expire(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	stillRequested := ok && s.state == StateRequested
	m.mu.Unlock()
	if stillRequested {
		m.reject(id, "start not acknowledged within timeout")
	}
}

// reject moves REQUESTED -> REJECTED and notifies the console.
func (m *Manager) reject(id, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.state != StateRequested {
		m.mu.Unlock()
		return
	}
	s.state = StateRejected
	snap := m.removeLocked(s, reason)
	m.mu.Unlock()

	m.logger.Info("remote-control session rejected", "session_id", id, "reason", reason)
	_ = m.links.SendToConsole(snap.Console, protocol.MustMake(protocol.EventRemoteControlRejected,
		protocol.SessionEvent{SessionID: id, ComputerID: snap.Agent.ComputerID, Reason: reason}))
	if m.onTerminal != nil {
		m.onTerminal(snap)
	}
}

// end is the terminal transition for REQUESTED or ACTIVE sessions. It is
// idempotent and notifies the endpoints that are still connected.
func (m *Manager) end(id, reason string, notifyAgent, notifyConsole bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.state = StateEnded
	snap := m.removeLocked(s, reason)
	m.mu.Unlock()

	m.logger.Info("remote-control session ended", "session_id", id, "reason", reason)
	if notifyAgent {
		_ = m.links.SendToAgent(snap.Agent, protocol.MustMake(protocol.EventStopRemoteControl,
			protocol.StopRemoteControl{SessionID: id}))
	}
	if notifyConsole {
		_ = m.links.SendToConsole(snap.Console, protocol.MustMake(protocol.EventRemoteControlEnded,
			protocol.SessionEvent{SessionID: id, ComputerID: snap.Agent.ComputerID, Reason: reason}))
	}
	if m.onTerminal != nil {
		m.onTerminal(snap)
	}
}

// removeLocked drops the session from both indexes and returns a snapshot.
// Callers hold m.mu and have already set the terminal state.
func (m *Manager) removeLocked(s *session, reason string) Snapshot {
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(m.sessions, s.id)
	delete(m.byPair, pairKey{agent: s.agent, console: s.console})
	return Snapshot{
		ID:        s.id,
		Agent:     s.agent,
		Console:   s.console,
		Mode:      s.mode,
		State:     s.state,
		Reason:    reason,
		StartedAt: s.startedAt,
	}
}
