// ABOUTME: Tests for command dispatch: correlation, timeouts, offline queueing.
// ABOUTME: Covers out-of-order resolution, eviction, and concurrent dispatches.

package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil-gateway/internal/protocol"
	"github.com/vigilops/vigil-gateway/internal/registry"
)

// fakeLink records sent envelopes and fakes agent presence.
type fakeLink struct {
	mu     sync.Mutex
	online map[registry.AgentKey]bool
	sent   []protocol.Envelope
}

func newFakeLink() *fakeLink {
	return &fakeLink{online: make(map[registry.AgentKey]bool)}
}

func (l *fakeLink) setOnline(key registry.AgentKey, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online[key] = on
}

func (l *fakeLink) AgentOnline(key registry.AgentKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online[key]
}

func (l *fakeLink) SendToAgent(key registry.AgentKey, env protocol.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.online[key] {
		return registry.ErrNotConnected
	}
	l.sent = append(l.sent, env)
	return nil
}

func (l *fakeLink) sentCommands(t *testing.T) []protocol.Command {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.Command, 0, len(l.sent))
	for _, env := range l.sent {
		var cmd protocol.Command
		require.NoError(t, env.Decode(&cmd))
		out = append(out, cmd)
	}
	return out
}

var testKey = registry.AgentKey{OrgID: "org-1", ComputerID: "pc-1"}

func TestDispatcher_Dispatch_UnknownCommand(t *testing.T) {
	d := New(Config{}, newFakeLink(), nil)

	_, err := d.Dispatch(testKey, "MAKE_COFFEE", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestDispatcher_Dispatch_OnlineAgent(t *testing.T) {
	link := newFakeLink()
	link.setOnline(testKey, true)
	d := New(Config{AckTimeout: time.Minute}, link, nil)

	receipt, err := d.Dispatch(testKey, protocol.CommandLock, nil)
	require.NoError(t, err)
	assert.False(t, receipt.Queued)
	assert.NotEmpty(t, receipt.CommandID)

	cmds := link.sentCommands(t)
	require.Len(t, cmds, 1)
	assert.Equal(t, receipt.CommandID, cmds[0].ID)
	assert.Equal(t, protocol.CommandLock, cmds[0].Command)
}

func TestDispatcher_Resolve_DeliversOutcomeOnce(t *testing.T) {
	link := newFakeLink()
	link.setOnline(testKey, true)
	d := New(Config{AckTimeout: time.Minute}, link, nil)

	receipt, err := d.Dispatch(testKey, protocol.CommandMessage, json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)

	require.NoError(t, d.Resolve(testKey, protocol.CommandResponse{
		CommandID: receipt.CommandID,
		Success:   true,
		Response:  "shown",
	}))

	out := <-receipt.Outcome
	assert.Equal(t, StatusAcked, out.Status)
	assert.Equal(t, "shown", out.Response)

	// A second response for the same id is an unknown correlation.
	err = d.Resolve(testKey, protocol.CommandResponse{CommandID: receipt.CommandID, Success: true})
	assert.ErrorIs(t, err, ErrUnknownCorrelation)
	assert.Zero(t, d.InFlight())
}

func TestDispatcher_Resolve_FailedResponse(t *testing.T) {
	link := newFakeLink()
	link.setOnline(testKey, true)
	d := New(Config{AckTimeout: time.Minute}, link, nil)

	receipt, _ := d.Dispatch(testKey, protocol.CommandRestart, nil)
	require.NoError(t, d.Resolve(testKey, protocol.CommandResponse{
		CommandID: receipt.CommandID,
		Success:   false,
		Error:     "permission denied",
	}))

	out := <-receipt.Outcome
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "permission denied", out.Error)
}

func TestDispatcher_Resolve_WrongAgentRejected(t *testing.T) {
	link := newFakeLink()
	link.setOnline(testKey, true)
	d := New(Config{AckTimeout: time.Minute}, link, nil)

	receipt, _ := d.Dispatch(testKey, protocol.CommandLock, nil)

	// A response from an agent the command was never sent to must not
	// resolve it.
	other := registry.AgentKey{OrgID: "org-1", ComputerID: "pc-2"}
	err := d.Resolve(other, protocol.CommandResponse{CommandID: receipt.CommandID, Success: true})
	assert.ErrorIs(t, err, ErrUnknownCorrelation)
	assert.Equal(t, 1, d.InFlight())
}

func TestDispatcher_Resolve_OutOfOrder(t *testing.T) {
	link := newFakeLink()
	link.setOnline(testKey, true)
	d := New(Config{AckTimeout: time.Minute}, link, nil)

	first, _ := d.Dispatch(testKey, protocol.CommandLock, nil)
	second, _ := d.Dispatch(testKey, protocol.CommandUnlock, nil)

	// Resolving the second command must not disturb the first.
	require.NoError(t, d.Resolve(testKey, protocol.CommandResponse{CommandID: second.CommandID, Success: true}))
	require.NoError(t, d.Resolve(testKey, protocol.CommandResponse{CommandID: first.CommandID, Success: true}))

	assert.Equal(t, second.CommandID, (<-second.Outcome).CommandID)
	assert.Equal(t, first.CommandID, (<-first.Outcome).CommandID)
}

func TestDispatcher_Expire_TimedOut(t *testing.T) {
	link := newFakeLink()
	link.setOnline(testKey, true)
	d := New(Config{AckTimeout: 20 * time.Millisecond}, link, nil)

	receipt, _ := d.Dispatch(testKey, protocol.CommandShutdown, nil)

	select {
	case out := <-receipt.Outcome:
		assert.Equal(t, StatusTimedOut, out.Status)
	case <-time.After(time.Second):
		t.Fatal("outcome never delivered")
	}
	assert.Zero(t, d.InFlight())
}

func TestDispatcher_OfflineQueue_FlushOnReconnect(t *testing.T) {
	link := newFakeLink()
	d := New(Config{AckTimeout: time.Minute, OfflinePolicy: PolicyQueue}, link, nil)

	first, err := d.Dispatch(testKey, protocol.CommandLock, nil)
	require.NoError(t, err)
	assert.True(t, first.Queued)
	second, _ := d.Dispatch(testKey, protocol.CommandUnlock, nil)

	assert.Empty(t, link.sentCommands(t))

	link.setOnline(testKey, true)
	d.AgentConnected(testKey)

	cmds := link.sentCommands(t)
	require.Len(t, cmds, 2)
	// Enqueue order survives the flush.
	assert.Equal(t, first.CommandID, cmds[0].ID)
	assert.Equal(t, second.CommandID, cmds[1].ID)
}

func TestDispatcher_OfflineQueue_OverflowEvictsOldest(t *testing.T) {
	link := newFakeLink()
	d := New(Config{AckTimeout: time.Minute, OfflinePolicy: PolicyQueue, OfflineQueueSize: 2}, link, nil)

	first, _ := d.Dispatch(testKey, protocol.CommandLock, nil)
	_, _ = d.Dispatch(testKey, protocol.CommandUnlock, nil)
	_, _ = d.Dispatch(testKey, protocol.CommandRestart, nil)

	// The oldest command resolves as failed, not silently lost.
	select {
	case out := <-first.Outcome:
		assert.Equal(t, StatusFailed, out.Status)
		assert.Equal(t, "evicted from offline queue", out.Error)
	case <-time.After(time.Second):
		t.Fatal("evicted command never resolved")
	}

	// Reconnect flushes only the two surviving commands.
	link.setOnline(testKey, true)
	d.AgentConnected(testKey)
	assert.Len(t, link.sentCommands(t), 2)
}

func TestDispatcher_PolicyDrop_NoQueue(t *testing.T) {
	link := newFakeLink()
	d := New(Config{AckTimeout: 20 * time.Millisecond, OfflinePolicy: PolicyDrop}, link, nil)

	receipt, err := d.Dispatch(testKey, protocol.CommandLock, nil)
	require.NoError(t, err)
	assert.True(t, receipt.Queued)

	// Nothing is flushed on reconnect; the wait resolves by timeout.
	link.setOnline(testKey, true)
	d.AgentConnected(testKey)
	assert.Empty(t, link.sentCommands(t))

	out := <-receipt.Outcome
	assert.Equal(t, StatusTimedOut, out.Status)
}

func TestDispatcher_ConcurrentDispatches(t *testing.T) {
	link := newFakeLink()
	link.setOnline(testKey, true)
	d := New(Config{AckTimeout: time.Minute}, link, nil)

	const n = 50
	receipts := make([]*Receipt, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := d.Dispatch(testKey, protocol.CommandMessage,
				json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
			require.NoError(t, err)
			receipts[i] = r
		}(i)
	}
	wg.Wait()

	// Every receipt carries a distinct id and resolves independently.
	seen := make(map[string]bool, n)
	for _, r := range receipts {
		assert.False(t, seen[r.CommandID])
		seen[r.CommandID] = true
		require.NoError(t, d.Resolve(testKey, protocol.CommandResponse{CommandID: r.CommandID, Success: true}))
		assert.Equal(t, StatusAcked, (<-r.Outcome).Status)
	}
	assert.Zero(t, d.InFlight())
}
