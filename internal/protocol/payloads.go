// ABOUTME: Payload shapes for every protocol event, JSON camelCase on the wire.
// ABOUTME: Split by originating direction; shared shapes appear once.

package protocol

import "encoding/json"

// Remote-control session modes.
const (
	ModeView    = "VIEW"
	ModeControl = "CONTROL"
)

// File-transfer directions.
const (
	DirectionUpload   = "UPLOAD"
	DirectionDownload = "DOWNLOAD"
)

// ---- Console → core ----

// WatchComputer subscribes or unsubscribes a console to an agent's live events.
type WatchComputer struct {
	ComputerID string `json:"computerId"`
}

// SendCommand asks the core to dispatch a command to an agent.
type SendCommand struct {
	ComputerID string          `json:"computerId"`
	Command    string          `json:"command"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// StartRemoteControl requests a screen-view or control session.
type StartRemoteControl struct {
	ComputerID string `json:"computerId"`
	Mode       string `json:"mode"`
	Quality    int    `json:"quality,omitempty"`
	FPS        int    `json:"fps,omitempty"`
}

// StopRemoteControl ends a remote-control session.
type StopRemoteControl struct {
	SessionID string `json:"sessionId"`
}

// RemoteInput carries a mouse or keyboard event toward the agent.
type RemoteInput struct {
	ComputerID string          `json:"computerId"`
	Type       string          `json:"type"` // "mouse" or "keyboard"
	Event      json.RawMessage `json:"event"`
}

// StartTerminal requests a new pseudo-terminal session.
type StartTerminal struct {
	ComputerID string `json:"computerId"`
	Shell      string `json:"shell,omitempty"`
}

// TerminalInput carries console keystrokes to a running terminal session.
type TerminalInput struct {
	SessionID string `json:"sessionId"`
	Input     string `json:"input"`
}

// StopTerminal closes a terminal session.
type StopTerminal struct {
	SessionID string `json:"sessionId"`
}

// RequestScreenshot asks for a one-shot capture from an agent.
type RequestScreenshot struct {
	ComputerID string `json:"computerId"`
}

// FileTransferRequest initiates an upload or download negotiation.
// FileData optionally carries a small upload inline, base64 encoded.
type FileTransferRequest struct {
	ComputerID string `json:"computerId"`
	Direction  string `json:"direction"`
	RemotePath string `json:"remotePath"`
	LocalPath  string `json:"localPath,omitempty"`
	FileData   string `json:"fileData,omitempty"`
	FileSize   int64  `json:"fileSize"`
}

// FileChunk carries one piece of transfer data in either direction.
type FileChunk struct {
	TransferID string `json:"transferId"`
	Data       string `json:"data"` // base64
}

// ListDirectory asks an agent for a directory listing.
type ListDirectory struct {
	ComputerID string `json:"computerId"`
	Path       string `json:"path"`
}

// ---- Agent → core ----

// AgentAuth is the first event an agent must send after connecting.
type AgentAuth struct {
	OrganizationID string `json:"organizationId"`
	MachineID      string `json:"machineId"`
	Hostname       string `json:"hostname"`
	OSType         string `json:"osType"`
	OSVersion      string `json:"osVersion"`
	MacAddress     string `json:"macAddress"`
	IPAddress      string `json:"ipAddress"`
	AgentVersion   string `json:"agentVersion"`
	EnrollmentKey  string `json:"enrollmentKey"`
}

// Heartbeat is periodic agent telemetry.
type Heartbeat struct {
	CPUUsage      float64 `json:"cpuUsage"`
	MemoryUsage   float64 `json:"memoryUsage"`
	DiskUsage     float64 `json:"diskUsage"`
	ActiveWindow  string  `json:"activeWindow,omitempty"`
	ActiveProcess string  `json:"activeProcess,omitempty"`
	IsIdle        bool    `json:"isIdle"`
	IdleTime      uint64  `json:"idleTime"`
}

// Screenshot is a one-shot capture result.
type Screenshot struct {
	Image        string `json:"image"` // base64
	Timestamp    int64  `json:"timestamp"`
	ActiveWindow string `json:"activeWindow"`
}

// ScreenFrame is one frame of a live screen stream.
type ScreenFrame struct {
	Frame        string `json:"frame"` // base64
	Timestamp    int64  `json:"timestamp"`
	MonitorIndex int    `json:"monitorIndex"`
}

// CommandResponse correlates an agent's result to a dispatched command.
type CommandResponse struct {
	CommandID string `json:"commandId"`
	Success   bool   `json:"success"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionAck acknowledges or refuses a remote-control or terminal start.
type SessionAck struct {
	SessionID string `json:"sessionId"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

// TerminalOutput carries terminal bytes from the agent. Seq is assigned by
// the core before delivery to the console; agents leave it zero.
type TerminalOutput struct {
	SessionID string `json:"sessionId"`
	Seq       uint64 `json:"seq,omitempty"`
	Output    string `json:"output"`
}

// TerminalClosed reports that the agent-side process has exited.
type TerminalClosed struct {
	SessionID string `json:"sessionId"`
}

// TransferAck acknowledges or refuses a file-transfer negotiation.
type TransferAck struct {
	TransferID string `json:"transferId"`
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
}

// TransferProgress reports cumulative bytes moved for a transfer.
type TransferProgress struct {
	TransferID       string `json:"transferId"`
	Progress         int    `json:"progress"`
	BytesTransferred int64  `json:"bytesTransferred"`
}

// FileContent carries a complete small download in one event.
type FileContent struct {
	TransferID string `json:"transferId"`
	FileName   string `json:"fileName"`
	FileData   string `json:"fileData"` // base64
	FileSize   int64  `json:"fileSize"`
}

// TransferComplete is the explicit end-of-transfer signal.
type TransferComplete struct {
	TransferID string `json:"transferId"`
}

// TransferError reports an agent-side transfer failure.
type TransferError struct {
	TransferID string `json:"transferId"`
	Error      string `json:"error"`
}

// ---- Core → agent ----

// AuthSuccess confirms agent admission and carries its assigned computer id.
type AuthSuccess struct {
	ComputerID string       `json:"computerId"`
	Config     ServerConfig `json:"config"`
}

// ServerConfig tunes agent-side collection intervals.
type ServerConfig struct {
	ScreenshotInterval  uint64 `json:"screenshotInterval,omitempty"`
	ActivityLogInterval uint64 `json:"activityLogInterval,omitempty"`
	KeystrokeBufferSize int    `json:"keystrokeBufferSize,omitempty"`
}

// AuthError rejects an agent or console connection.
type AuthError struct {
	Message string `json:"message"`
}

// Command is a dispatched command directive.
type Command struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartRemoteControlDirective tells the agent to begin a session.
type StartRemoteControlDirective struct {
	SessionID string `json:"sessionId"`
	Mode      string `json:"mode"`
	Quality   int    `json:"quality"`
	FPS       int    `json:"fps"`
}

// StartTerminalDirective tells the agent to spawn a shell.
type StartTerminalDirective struct {
	SessionID string `json:"sessionId"`
	Shell     string `json:"shell,omitempty"`
}

// FileTransferDirective asks the agent to accept a transfer.
type FileTransferDirective struct {
	TransferID string `json:"transferId"`
	Direction  string `json:"direction"`
	RemotePath string `json:"remotePath"`
	FileData   string `json:"fileData,omitempty"`
	FileSize   int64  `json:"fileSize"`
}

// ---- Core → console ----

// OnlineComputers is the presence snapshot delivered when a console connects.
type OnlineComputers struct {
	ComputerIDs []string `json:"computerIds"`
}

// PresenceChange announces one agent going online or offline.
type PresenceChange struct {
	ComputerID string `json:"computerId"`
}

// CommandSent is the immediate response to send_command.
type CommandSent struct {
	CommandID string `json:"commandId"`
	Queued    bool   `json:"queued"`
}

// CommandResult is the console-facing resolution of a dispatched command.
type CommandResult struct {
	CommandID string `json:"commandId"`
	Status    string `json:"status"` // "acked", "failed", "timed_out"
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionEvent reports a remote-control or terminal lifecycle change.
type SessionEvent struct {
	SessionID  string `json:"sessionId"`
	ComputerID string `json:"computerId"`
	Reason     string `json:"reason,omitempty"`
}

// TransferEvent reports a file-transfer lifecycle change.
type TransferEvent struct {
	TransferID       string `json:"transferId"`
	ComputerID       string `json:"computerId,omitempty"`
	BytesTransferred int64  `json:"bytesTransferred,omitempty"`
	Error            string `json:"error,omitempty"`
}

// WatchedEvent wraps agent telemetry relayed to a watching console, tagging
// it with the originating computer.
type WatchedEvent struct {
	ComputerID string          `json:"computerId"`
	Data       json.RawMessage `json:"data"`
}

// ErrorEvent reports a contract violation back to the offending console.
type ErrorEvent struct {
	Context string `json:"context"`
	Message string `json:"message"`
}
