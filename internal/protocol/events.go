// ABOUTME: Event names for the vigil wire protocol, all three directions.
// ABOUTME: Names mirror the agent socket vocabulary; consoles share most of them.

package protocol

// Console → core events.
const (
	EventWatchComputer      = "watch_computer"
	EventUnwatchComputer    = "unwatch_computer"
	EventSendCommand        = "send_command"
	EventStartRemoteControl = "start_remote_control"
	EventStopRemoteControl  = "stop_remote_control"
	EventRemoteInput        = "remote_input"
	EventStartTerminal      = "start_terminal"
	EventTerminalInput      = "terminal_input"
	EventStopTerminal       = "stop_terminal"
	EventRequestScreenshot  = "request_screenshot"
	EventFileTransfer       = "file_transfer"
	EventFileChunk          = "file_chunk"
	EventListDirectory      = "list_directory"
)

// Agent → core events.
const (
	EventAuth                 = "auth"
	EventHeartbeat            = "heartbeat"
	EventScreenshot           = "screenshot"
	EventScreenFrame          = "screen_frame"
	EventActivityLog          = "activity_log"
	EventKeystrokes           = "keystrokes"
	EventClipboard            = "clipboard"
	EventProcessList          = "process_list"
	EventCommandResponse      = "command_response"
	EventRemoteControlAck     = "remote_control_ack"
	EventTerminalAck          = "terminal_ack"
	EventTerminalOutput       = "terminal_output"
	EventTerminalClosed       = "terminal_closed"
	EventFileTransferAck      = "file_transfer_ack"
	EventFileTransferProgress = "file_transfer_progress"
	EventFileContent          = "file_content"
	EventFileTransferComplete = "file_transfer_complete"
	EventFileTransferError    = "file_transfer_error"
	EventDirectoryListing     = "directory_listing"
)

// Core → agent events.
const (
	EventAuthSuccess       = "auth_success"
	EventAuthError         = "auth_error"
	EventCommand           = "command"
	EventCaptureScreenshot = "capture_screenshot"
	EventStartScreenStream = "start_screen_stream"
	EventStopScreenStream  = "stop_screen_stream"
)

// Core → console events.
const (
	EventOnlineComputers       = "online_computers"
	EventAgentOnline           = "agent_online"
	EventAgentOffline          = "agent_offline"
	EventCommandSent           = "command_sent"
	EventCommandResult         = "command_result"
	EventRemoteControlStarted  = "remote_control_started"
	EventRemoteControlRejected = "remote_control_rejected"
	EventRemoteControlEnded    = "remote_control_ended"
	EventTerminalStarted       = "terminal_started"
	EventFileTransferStarted   = "file_transfer_started"
	EventFileTransferFailed    = "file_transfer_failed"
	EventError                 = "error"
)
