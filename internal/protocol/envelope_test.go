// ABOUTME: Tests for envelope framing and the command vocabulary.
// ABOUTME: Covers payload-free events, decode failures, and unknown commands.

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake_RoundTrip(t *testing.T) {
	env, err := Make(EventCommand, Command{
		ID:      "cmd-1",
		Command: CommandLock,
	})
	require.NoError(t, err)
	assert.Equal(t, EventCommand, env.Event)

	var got Command
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "cmd-1", got.ID)
	assert.Equal(t, CommandLock, got.Command)
}

func TestMake_NilPayloadOmitted(t *testing.T) {
	env, err := Make(EventCaptureScreenshot, nil)
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"capture_screenshot"}`, string(data))
}

func TestDecode_EmptyPayload(t *testing.T) {
	env := Envelope{Event: EventHeartbeat}

	var hb Heartbeat
	err := env.Decode(&hb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty payload")
}

func TestDecode_MalformedPayload(t *testing.T) {
	env := Envelope{Event: EventHeartbeat, Payload: json.RawMessage(`{"cpuUsage":"not a number"}`)}

	var hb Heartbeat
	assert.Error(t, env.Decode(&hb))
}

func TestMustMake_PanicsOnUnmarshalable(t *testing.T) {
	assert.Panics(t, func() {
		MustMake(EventError, make(chan int))
	})
}

func TestValidCommand(t *testing.T) {
	assert.True(t, ValidCommand(CommandLock))
	assert.True(t, ValidCommand(CommandSetBlockingRules))
	assert.False(t, ValidCommand("FORMAT_DISK"))
	assert.False(t, ValidCommand(""))
	assert.False(t, ValidCommand("lock"), "command types are case sensitive")
}
