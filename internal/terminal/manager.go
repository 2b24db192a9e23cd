// ABOUTME: Multiplexed pseudo-terminal sessions, each with ordered output delivery.
// ABOUTME: STARTING -> RUNNING -> CLOSED; input outside RUNNING is a reported error.

package terminal

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
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateClosed   State = "CLOSED"
)

// Manager errors.
var (
	// ErrAgentOffline means the target agent has no live connection.
	ErrAgentOffline = errors.New("agent is offline")

	// ErrUnknownSession means the session id is not (or no longer) known.
	// Unlike remote-control input, terminal input against a missing session
	// is reported: terminal correctness depends on every keystroke landing.
	ErrUnknownSession = errors.New("unknown terminal session")

	// ErrNotRunning means the session exists but is not in RUNNING state.
	ErrNotRunning = errors.New("terminal session not running")
)

// Links is the outbound half the manager needs from the registry.
type Links interface {
	AgentOnline(key registry.AgentKey) bool
	SendToAgent(key registry.AgentKey, env protocol.Envelope) error
	SendToConsole(key registry.ConsoleKey, env protocol.Envelope) error
}

// Terminal is fired once per session when it closes.
type Terminal func(s Snapshot)

// Snapshot is an immutable copy of session state.
type Snapshot struct {
	ID        string
	Agent     registry.AgentKey
	Console   registry.ConsoleKey
	Shell     string
	State     State
	Reason    string
	StartedAt time.Time
	LastSeq   uint64
}

type session struct {
	id        string
	agent     registry.AgentKey
	console   registry.ConsoleKey
	shell     string
	state     State
	seq       uint64
	startedAt time.Time
	timer     *time.Timer
}

// Manager owns every terminal session. Multiple concurrent sessions per
// agent are allowed, each independently ordered by a per-session sequence
// number assigned on output arrival.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	links        Links
	startTimeout time.Duration
	onClosed     Terminal
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
		links:        links,
		startTimeout: startTimeout,
		logger:       logger.With("component", "terminal"),
	}
}

// SetClosedHook installs the close callback.
func (m *Manager) SetClosedHook(hook Terminal) {
	m.onClosed = hook
}

// Start creates a STARTING session and forwards the start directive.
func (m *Manager) Start(console registry.ConsoleKey, computerID, shell string) (string, error) {
	agent := registry.AgentKey{OrgID: console.OrgID, ComputerID: computerID}
	if !m.links.AgentOnline(agent) {
		return "", ErrAgentOffline
	}

	s := &session{
		id:        uuid.New().String(),
		agent:     agent,
		console:   console,
		shell:     shell,
		state:     StateStarting,
		startedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	s.timer = time.AfterFunc(m.startTimeout, func() { m.expire(s.id) })
	m.mu.Unlock()

	err := m.links.SendToAgent(agent, protocol.MustMake(protocol.EventStartTerminal,
		protocol.StartTerminalDirective{SessionID: s.id, Shell: shell}))
	if err != nil {
		m.close(s.id, "agent disconnected", false, true)
		return "", ErrAgentOffline
	}

	m.logger.Info("terminal session starting",
		"session_id", s.id, "computer_id", computerID, "shell", shell)
	return s.id, nil
}

// HandleAck applies the agent's accept or refuse for a STARTING session.
func (m *Manager) HandleAck(from registry.AgentKey, ack protocol.SessionAck) {
	m.mu.Lock()
	s, ok := m.sessions[ack.SessionID]
	if !ok || s.agent != from || s.state != StateStarting {
		m.mu.Unlock()
		m.logger.Warn("dropping terminal ack with no matching request",
			"session_id", ack.SessionID)
		return
	}
	if !ack.Accepted {
		m.mu.Unlock()
		reason := ack.Reason
		if reason == "" {
			reason = "refused by agent"
		}
		m.close(ack.SessionID, reason, false, true)
		return
	}
	s.state = StateRunning
	if s.timer != nil {
		s.timer.Stop()
	}
	console, agent, id := s.console, s.agent, s.id
	m.mu.Unlock()

	m.logger.Info("terminal session running", "session_id", id)
	_ = m.links.SendToConsole(console, protocol.MustMake(protocol.EventTerminalStarted,
		protocol.SessionEvent{SessionID: id, ComputerID: agent.ComputerID}))
}

// Input forwards console keystrokes to a RUNNING session owned by the
// caller. Input to an unknown or non-running session is a reported error,
// never a silent no-op.
func (m *Manager) Input(console registry.ConsoleKey, sessionID, input string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.console != console {
		m.mu.Unlock()
		return ErrUnknownSession
	}
	if s.state != StateRunning {
		m.mu.Unlock()
		return ErrNotRunning
	}
	agent := s.agent
	m.mu.Unlock()

	return m.links.SendToAgent(agent, protocol.MustMake(protocol.EventTerminalInput,
		protocol.TerminalInput{SessionID: sessionID, Input: input}))
}

// Output delivers agent output to the owning console, stamped with the next
// per-session sequence number. Output for a closed or unknown session is
// discarded. Arrival order is preserved: the agent's read loop calls this
// serially and the console's outbound queue is FIFO.
func (m *Manager) Output(from registry.AgentKey, sessionID, output string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.agent != from || s.state != StateRunning {
		m.mu.Unlock()
		m.logger.Debug("discarding output for inactive terminal session",
			"session_id", sessionID)
		return
	}
	s.seq++
	seq := s.seq
	console := s.console
	m.mu.Unlock()

	_ = m.links.SendToConsole(console, protocol.MustMake(protocol.EventTerminalOutput,
		protocol.TerminalOutput{SessionID: sessionID, Seq: seq, Output: output}))
}

// Close ends a session at the console's request. Idempotent.
func (m *Manager) Close(console registry.ConsoleKey, sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.console != console {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.close(sessionID, "closed by console", true, true)
}

// HandleClosed applies an agent-reported session exit.
func (m *Manager) HandleClosed(from registry.AgentKey, sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.agent != from {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.close(sessionID, "process exited", false, true)
}

// AgentGone closes every session for a disconnected agent. Releasing the
// underlying process is the agent's contract.
func (m *Manager) AgentGone(agent registry.AgentKey) {
	for _, id := range m.sessionsFor(func(s *session) bool { return s.agent == agent }) {
		m.close(id, "agent disconnected", false, true)
	}
}

// ConsoleGone closes every session for a disconnected console.
func (m *Manager) ConsoleGone(console registry.ConsoleKey) {
	for _, id := range m.sessionsFor(func(s *session) bool { return s.console == console }) {
		m.close(id, "console disconnected", true, false)
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

func (m *Manager) expire(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	stillStarting := ok && s.state == StateStarting
	m.mu.Unlock()
	if stillStarting {
		m.close(id, "start not acknowledged within timeout", false, true)
	}
}

// close is the terminal transition. Idempotent; notifies the endpoints
// that are still relevant.
func (m *Manager) close(id, reason string, notifyAgent, notifyConsole bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.state = StateClosed
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(m.sessions, id)
	snap := Snapshot{
		ID:        s.id,
		Agent:     s.agent,
		Console:   s.console,
		Shell:     s.shell,
		State:     s.state,
		Reason:    reason,
		StartedAt: s.startedAt,
		LastSeq:   s.seq,
	}
	m.mu.Unlock()

	m.logger.Info("terminal session closed", "session_id", id, "reason", reason)
	if notifyAgent {
		_ = m.links.SendToAgent(snap.Agent, protocol.MustMake(protocol.EventStopTerminal,
			protocol.StopTerminal{SessionID: id}))
	}
	if notifyConsole {
		_ = m.links.SendToConsole(snap.Console, protocol.MustMake(protocol.EventTerminalClosed,
			protocol.TerminalClosed{SessionID: id}))
	}
	if m.onClosed != nil {
		m.onClosed(snap)
	}
}
