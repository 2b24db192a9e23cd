// ABOUTME: The fixed command vocabulary agents understand.
// ABOUTME: Dispatch rejects anything outside this set before it leaves the core.

package protocol

// Command types accepted by dispatch. The blocking, restriction, and
// recording families map onto agent-side services; the rest are direct
// machine actions.
const (
	CommandLock     = "LOCK"
	CommandUnlock   = "UNLOCK"
	CommandMessage  = "MESSAGE"
	CommandExecute  = "EXECUTE"
	CommandRestart  = "RESTART"
	CommandShutdown = "SHUTDOWN"

	CommandBlockWebsite       = "BLOCK_WEBSITE"
	CommandUnblockWebsite     = "UNBLOCK_WEBSITE"
	CommandBlockApplication   = "BLOCK_APPLICATION"
	CommandUnblockApplication = "UNBLOCK_APPLICATION"
	CommandSetBlockingRules   = "SET_BLOCKING_RULES"
	CommandGetBlockingRules   = "GET_BLOCKING_RULES"

	CommandSetRestrictions    = "SET_RESTRICTIONS"
	CommandGetRestrictions    = "GET_RESTRICTIONS"
	CommandRemoveRestrictions = "REMOVE_RESTRICTIONS"

	CommandStartRecording     = "START_RECORDING"
	CommandStopRecording      = "STOP_RECORDING"
	CommandGetRecordingStatus = "GET_RECORDING_STATUS"
)

var knownCommands = map[string]struct{}{
	CommandLock:               {},
	CommandUnlock:             {},
	CommandMessage:            {},
	CommandExecute:            {},
	CommandRestart:            {},
	CommandShutdown:           {},
	CommandBlockWebsite:       {},
	CommandUnblockWebsite:     {},
	CommandBlockApplication:   {},
	CommandUnblockApplication: {},
	CommandSetBlockingRules:   {},
	CommandGetBlockingRules:   {},
	CommandSetRestrictions:    {},
	CommandGetRestrictions:    {},
	CommandRemoveRestrictions: {},
	CommandStartRecording:     {},
	CommandStopRecording:      {},
	CommandGetRecordingStatus: {},
}

// ValidCommand reports whether t is part of the command vocabulary.
func ValidCommand(t string) bool {
	_, ok := knownCommands[t]
	return ok
}
