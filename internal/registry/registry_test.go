// ABOUTME: Tests for the connection registry: registration, watches, fan-out.
// ABOUTME: Covers reconnect replacement, org scoping, and slow-peer drops.

package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil-gateway/internal/protocol"
)

// fakePeer records enqueued envelopes. full simulates a saturated queue.
type fakePeer struct {
	mu       sync.Mutex
	events   []protocol.Envelope
	closed   bool
	closeMsg string
	full     bool
}

func (p *fakePeer) Enqueue(env protocol.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full || p.closed {
		return false
	}
	p.events = append(p.events, env)
	return true
}

func (p *fakePeer) Close(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeMsg = reason
}

func (p *fakePeer) received() []protocol.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Envelope, len(p.events))
	copy(out, p.events)
	return out
}

type recordingListener struct {
	mu           sync.Mutex
	registered   []AgentKey
	unregistered []AgentKey
}

func (l *recordingListener) AgentRegistered(key AgentKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registered = append(l.registered, key)
}

func (l *recordingListener) AgentUnregistered(key AgentKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unregistered = append(l.unregistered, key)
}

func TestRegistry_RegisterAgent_Reconnect(t *testing.T) {
	r := New(nil)
	listener := &recordingListener{}
	r.SetPresenceListener(listener)

	key := AgentKey{OrgID: "org-1", ComputerID: "pc-1"}
	first := &fakePeer{}
	second := &fakePeer{}

	r.RegisterAgent(key, first)
	r.RegisterAgent(key, second)

	// The replaced handle is closed; the identity stays online throughout.
	assert.True(t, first.closed)
	assert.False(t, second.closed)
	assert.True(t, r.AgentOnline(key))

	// Presence fires once: the identity never went offline.
	assert.Len(t, listener.registered, 1)
	assert.Empty(t, listener.unregistered)
}

func TestRegistry_UnregisterAgent_StaleHandleIgnored(t *testing.T) {
	r := New(nil)
	listener := &recordingListener{}
	r.SetPresenceListener(listener)

	key := AgentKey{OrgID: "org-1", ComputerID: "pc-1"}
	old := &fakePeer{}
	current := &fakePeer{}

	r.RegisterAgent(key, old)
	r.RegisterAgent(key, current)

	// The old connection's teardown must not remove the new one, and must
	// report that nothing was removed so callers skip their cascades.
	assert.False(t, r.UnregisterAgent(key, old))
	assert.True(t, r.AgentOnline(key))
	assert.Empty(t, listener.unregistered)

	assert.True(t, r.UnregisterAgent(key, current))
	assert.False(t, r.AgentOnline(key))
	assert.Len(t, listener.unregistered, 1)
}

func TestRegistry_SendToAgent_Offline(t *testing.T) {
	r := New(nil)
	err := r.SendToAgent(AgentKey{OrgID: "org-1", ComputerID: "ghost"},
		protocol.MustMake("test", nil))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRegistry_SendToAgent_FullQueueDrops(t *testing.T) {
	r := New(nil)
	key := AgentKey{OrgID: "org-1", ComputerID: "pc-1"}
	peer := &fakePeer{full: true}
	r.RegisterAgent(key, peer)

	// Drop is not an error: the connection is alive, just behind.
	err := r.SendToAgent(key, protocol.MustMake("test", nil))
	assert.NoError(t, err)
	assert.Empty(t, peer.received())
}

func TestRegistry_Watch_OfflineComputer(t *testing.T) {
	r := New(nil)
	console := ConsoleKey{OrgID: "org-1", UserID: "u1"}
	r.RegisterConsole(console, &fakePeer{})

	// Watching an offline computer is allowed; events flow when it connects.
	require.NoError(t, r.Watch(console, "pc-offline"))

	agentKey := AgentKey{OrgID: "org-1", ComputerID: "pc-offline"}
	assert.Equal(t, []ConsoleKey{console}, r.Watchers(agentKey))
}

func TestRegistry_Watch_UnregisteredConsole(t *testing.T) {
	r := New(nil)
	err := r.Watch(ConsoleKey{OrgID: "org-1", UserID: "ghost"}, "pc-1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRegistry_Watch_OrgScoped(t *testing.T) {
	r := New(nil)
	console := ConsoleKey{OrgID: "org-a", UserID: "u1"}
	r.RegisterConsole(console, &fakePeer{})
	require.NoError(t, r.Watch(console, "pc-1"))

	// The watch key is built from the console's own org, so a computer id
	// in another org never matches.
	otherOrg := AgentKey{OrgID: "org-b", ComputerID: "pc-1"}
	assert.Empty(t, r.Watchers(otherOrg))

	sameOrg := AgentKey{OrgID: "org-a", ComputerID: "pc-1"}
	assert.Len(t, r.Watchers(sameOrg), 1)
}

func TestRegistry_UnregisterConsole_ReleasesWatches(t *testing.T) {
	r := New(nil)
	console := ConsoleKey{OrgID: "org-1", UserID: "u1"}
	peer := &fakePeer{}
	r.RegisterConsole(console, peer)
	require.NoError(t, r.Watch(console, "pc-1"))
	require.NoError(t, r.Watch(console, "pc-2"))

	r.UnregisterConsole(console, peer)

	assert.Empty(t, r.Watchers(AgentKey{OrgID: "org-1", ComputerID: "pc-1"}))
	assert.Empty(t, r.Watchers(AgentKey{OrgID: "org-1", ComputerID: "pc-2"}))
}

func TestRegistry_RegisterConsole_ReconnectKeepsWatches(t *testing.T) {
	r := New(nil)
	console := ConsoleKey{OrgID: "org-1", UserID: "u1"}
	first := &fakePeer{}
	r.RegisterConsole(console, first)
	require.NoError(t, r.Watch(console, "pc-1"))

	second := &fakePeer{}
	r.RegisterConsole(console, second)

	assert.True(t, first.closed)
	assert.Len(t, r.Watchers(AgentKey{OrgID: "org-1", ComputerID: "pc-1"}), 1)

	// The replaced connection's exit path removes nothing and keeps the
	// replacement's watches intact.
	assert.False(t, r.UnregisterConsole(console, first))
	assert.Len(t, r.Watchers(AgentKey{OrgID: "org-1", ComputerID: "pc-1"}), 1)
	assert.True(t, r.UnregisterConsole(console, second))
}

func TestRegistry_OnlineComputers_OrgIsolation(t *testing.T) {
	r := New(nil)
	r.RegisterAgent(AgentKey{OrgID: "org-a", ComputerID: "pc-1"}, &fakePeer{})
	r.RegisterAgent(AgentKey{OrgID: "org-a", ComputerID: "pc-2"}, &fakePeer{})
	r.RegisterAgent(AgentKey{OrgID: "org-b", ComputerID: "pc-3"}, &fakePeer{})

	assert.ElementsMatch(t, []string{"pc-1", "pc-2"}, r.OnlineComputers("org-a"))
	assert.ElementsMatch(t, []string{"pc-3"}, r.OnlineComputers("org-b"))
}

func TestRegistry_BroadcastToOrg(t *testing.T) {
	r := New(nil)
	inOrg := &fakePeer{}
	otherOrg := &fakePeer{}
	r.RegisterConsole(ConsoleKey{OrgID: "org-a", UserID: "u1"}, inOrg)
	r.RegisterConsole(ConsoleKey{OrgID: "org-b", UserID: "u2"}, otherOrg)

	r.BroadcastToOrg("org-a", protocol.MustMake("agent_online", protocol.PresenceChange{ComputerID: "pc-1"}))

	require.Len(t, inOrg.received(), 1)
	assert.Equal(t, "agent_online", inOrg.received()[0].Event)
	assert.Empty(t, otherOrg.received())
}
