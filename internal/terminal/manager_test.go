// ABOUTME: Tests for terminal sessions: lifecycle, ordered output, errors.
// ABOUTME: Covers sequence stamping, post-close discard, and ownership checks.

package terminal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil-gateway/internal/protocol"
	"github.com/vigilops/vigil-gateway/internal/registry"
)

type fakeLinks struct {
	mu      sync.Mutex
	online  map[registry.AgentKey]bool
	toAgent []protocol.Envelope
	toCons  []protocol.Envelope
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{online: make(map[registry.AgentKey]bool)}
}

func (l *fakeLinks) setOnline(key registry.AgentKey, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online[key] = on
}

func (l *fakeLinks) AgentOnline(key registry.AgentKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online[key]
}

func (l *fakeLinks) SendToAgent(key registry.AgentKey, env protocol.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.online[key] {
		return registry.ErrNotConnected
	}
	l.toAgent = append(l.toAgent, env)
	return nil
}

func (l *fakeLinks) SendToConsole(key registry.ConsoleKey, env protocol.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toCons = append(l.toCons, env)
	return nil
}

func (l *fakeLinks) consoleOutput(t *testing.T) []protocol.TerminalOutput {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []protocol.TerminalOutput
	for _, env := range l.toCons {
		if env.Event != protocol.EventTerminalOutput {
			continue
		}
		var o protocol.TerminalOutput
		require.NoError(t, env.Decode(&o))
		out = append(out, o)
	}
	return out
}

func (l *fakeLinks) consoleEvents(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, env := range l.toCons {
		if env.Event == event {
			n++
		}
	}
	return n
}

var (
	agentKey   = registry.AgentKey{OrgID: "org-1", ComputerID: "pc-1"}
	consoleKey = registry.ConsoleKey{OrgID: "org-1", UserID: "u1"}
)

func startRunning(t *testing.T, m *Manager, links *fakeLinks) string {
	t.Helper()
	links.setOnline(agentKey, true)
	id, err := m.Start(consoleKey, "pc-1", "/bin/bash")
	require.NoError(t, err)
	m.HandleAck(agentKey, protocol.SessionAck{SessionID: id, Accepted: true})
	return id
}

func TestManager_Start_OfflineAgent(t *testing.T) {
	m := New(newFakeLinks(), time.Minute, nil)

	_, err := m.Start(consoleKey, "pc-1", "")
	assert.ErrorIs(t, err, ErrAgentOffline)
}

func TestManager_HandleAck_RunsSession(t *testing.T) {
	links := newFakeLinks()
	m := New(links, time.Minute, nil)

	startRunning(t, m, links)
	assert.Equal(t, 1, links.consoleEvents(protocol.EventTerminalStarted))
}

func TestManager_HandleAck_Refused(t *testing.T) {
	links := newFakeLinks()
	links.setOnline(agentKey, true)
	m := New(links, time.Minute, nil)

	id, err := m.Start(consoleKey, "pc-1", "")
	require.NoError(t, err)
	m.HandleAck(agentKey, protocol.SessionAck{SessionID: id, Accepted: false, Reason: "no shell"})

	assert.Equal(t, 1, links.consoleEvents(protocol.EventTerminalClosed))
	assert.ErrorIs(t, m.Input(consoleKey, id, "ls"), ErrUnknownSession)
}

func TestManager_Output_SequencePreservesOrder(t *testing.T) {
	links := newFakeLinks()
	m := New(links, time.Minute, nil)
	id := startRunning(t, m, links)

	m.Output(agentKey, id, "H")
	m.Output(agentKey, id, "e")
	m.Output(agentKey, id, "llo")

	out := links.consoleOutput(t)
	require.Len(t, out, 3)
	assert.Equal(t, uint64(1), out[0].Seq)
	assert.Equal(t, "H", out[0].Output)
	assert.Equal(t, uint64(2), out[1].Seq)
	assert.Equal(t, "e", out[1].Output)
	assert.Equal(t, uint64(3), out[2].Seq)
	assert.Equal(t, "llo", out[2].Output)
}

func TestManager_Output_IndependentSequencesPerSession(t *testing.T) {
	links := newFakeLinks()
	m := New(links, time.Minute, nil)
	first := startRunning(t, m, links)

	second, err := m.Start(consoleKey, "pc-1", "")
	require.NoError(t, err)
	m.HandleAck(agentKey, protocol.SessionAck{SessionID: second, Accepted: true})

	m.Output(agentKey, first, "a")
	m.Output(agentKey, second, "b")
	m.Output(agentKey, first, "c")

	out := links.consoleOutput(t)
	require.Len(t, out, 3)
	// Each session counts on its own.
	assert.Equal(t, uint64(1), out[0].Seq)
	assert.Equal(t, uint64(1), out[1].Seq)
	assert.Equal(t, uint64(2), out[2].Seq)
}

func TestManager_Output_AfterCloseDiscarded(t *testing.T) {
	links := newFakeLinks()
	m := New(links, time.Minute, nil)
	id := startRunning(t, m, links)

	m.Close(consoleKey, id)
	m.Output(agentKey, id, "late")

	assert.Empty(t, links.consoleOutput(t))
}

func TestManager_Input_UnknownSession(t *testing.T) {
	links := newFakeLinks()
	m := New(links, time.Minute, nil)
	startRunning(t, m, links)

	assert.ErrorIs(t, m.Input(consoleKey, "no-such-id", "ls"), ErrUnknownSession)
}

func TestManager_Input_NotOwnedSession(t *testing.T) {
	links := newFakeLinks()
	m := New(links, time.Minute, nil)
	id := startRunning(t, m, links)

	other := registry.ConsoleKey{OrgID: "org-1", UserID: "intruder"}
	assert.ErrorIs(t, m.Input(other, id, "ls"), ErrUnknownSession)
}

func TestManager_Input_BeforeRunning(t *testing.T) {
	links := newFakeLinks()
	links.setOnline(agentKey, true)
	m := New(links, time.Minute, nil)

	id, err := m.Start(consoleKey, "pc-1", "")
	require.NoError(t, err)

	// STARTING session exists but is not accepting input yet.
	assert.ErrorIs(t, m.Input(consoleKey, id, "ls"), ErrNotRunning)
}

func TestManager_HandleClosed_AgentExit(t *testing.T) {
	links := newFakeLinks()
	m := New(links, time.Minute, nil)

	var snaps []Snapshot
	m.SetClosedHook(func(s Snapshot) { snaps = append(snaps, s) })

	id := startRunning(t, m, links)
	m.Output(agentKey, id, "bye")
	m.HandleClosed(agentKey, id)

	assert.Equal(t, 1, links.consoleEvents(protocol.EventTerminalClosed))
	require.Len(t, snaps, 1)
	assert.Equal(t, StateClosed, snaps[0].State)
	assert.Equal(t, uint64(1), snaps[0].LastSeq)
}

func TestManager_AgentGone_ClosesAllSessions(t *testing.T) {
	links := newFakeLinks()
	m := New(links, time.Minute, nil)
	startRunning(t, m, links)

	second, err := m.Start(consoleKey, "pc-1", "")
	require.NoError(t, err)
	m.HandleAck(agentKey, protocol.SessionAck{SessionID: second, Accepted: true})

	m.AgentGone(agentKey)
	assert.Equal(t, 2, links.consoleEvents(protocol.EventTerminalClosed))
}

func TestManager_Expire_UnackedStart(t *testing.T) {
	links := newFakeLinks()
	links.setOnline(agentKey, true)
	m := New(links, 20*time.Millisecond, nil)

	_, err := m.Start(consoleKey, "pc-1", "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return links.consoleEvents(protocol.EventTerminalClosed) == 1
	}, time.Second, 10*time.Millisecond)
}
