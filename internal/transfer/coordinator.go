// ABOUTME: Chunked file-transfer negotiation and tracking between console and agent.
// ABOUTME: NEGOTIATING -> TRANSFERRING -> COMPLETE, FAILED from either active state.

package transfer

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil-gateway/internal/protocol"
	"github.com/vigilops/vigil-gateway/internal/registry"
)

// Transfer states.
type State string

const (
	StateNegotiating  State = "NEGOTIATING"
	StateTransferring State = "TRANSFERRING"
	StateComplete     State = "COMPLETE"
	StateFailed       State = "FAILED"
)

// Coordinator errors.
var (
	// ErrAgentOffline means the target agent has no live connection.
	ErrAgentOffline = errors.New("agent is offline")

	// ErrBadDirection means the direction is neither UPLOAD nor DOWNLOAD.
	ErrBadDirection = errors.New("invalid transfer direction")

	// ErrUnknownTransfer means the transfer id is not (or no longer) known.
	ErrUnknownTransfer = errors.New("unknown transfer")

	// ErrWrongParty means a chunk or signal arrived from the endpoint that
	// is not the sender for the transfer's direction.
	ErrWrongParty = errors.New("event from wrong transfer endpoint")

	// ErrNotTransferring means data arrived outside the TRANSFERRING state.
	ErrNotTransferring = errors.New("transfer not in transferring state")
)

// Links is the outbound half the coordinator needs from the registry.
type Links interface {
	AgentOnline(key registry.AgentKey) bool
	SendToAgent(key registry.AgentKey, env protocol.Envelope) error
	SendToConsole(key registry.ConsoleKey, env protocol.Envelope) error
}

// Terminal is fired once per transfer on COMPLETE or FAILED.
type Terminal func(s Snapshot)

// Snapshot is an immutable copy of transfer state.
type Snapshot struct {
	ID               string
	Agent            registry.AgentKey
	Console          registry.ConsoleKey
	Direction        string
	RemotePath       string
	LocalPath        string
	State            State
	Reason           string
	DeclaredSize     int64
	BytesTransferred int64
	StartedAt        time.Time
}

type transfer struct {
	id           string
	agent        registry.AgentKey
	console      registry.ConsoleKey
	direction    string
	remotePath   string
	localPath    string
	state        State
	declaredSize int64
	bytes        int64
	startedAt    time.Time
	timer        *time.Timer
}

// Coordinator negotiates and tracks chunked transfers. bytesTransferred is
// monotonically increasing; completion requires an explicit end-of-transfer
// signal, never inference from a quiet channel.
type Coordinator struct {
	mu        sync.Mutex
	transfers map[string]*transfer

	links         Links
	acceptTimeout time.Duration
	onTerminal    Terminal
	logger        *slog.Logger
}

// New creates a Coordinator.
func New(links Links, acceptTimeout time.Duration, logger *slog.Logger) *Coordinator {
	if acceptTimeout <= 0 {
		acceptTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		transfers:     make(map[string]*transfer),
		links:         links,
		acceptTimeout: acceptTimeout,
		logger:        logger.With("component", "transfer"),
	}
}

// SetTerminalHook installs the terminal-state callback.
func (c *Coordinator) SetTerminalHook(hook Terminal) {
	c.onTerminal = hook
}

// Initiate creates a NEGOTIATING transfer and asks the agent to accept it.
// An inline FileData payload (small uploads) rides along on the directive,
// exactly as the agent protocol allows.
func (c *Coordinator) Initiate(console registry.ConsoleKey, req protocol.FileTransferRequest) (string, error) {
	if req.Direction != protocol.DirectionUpload && req.Direction != protocol.DirectionDownload {
		return "", ErrBadDirection
	}
	agent := registry.AgentKey{OrgID: console.OrgID, ComputerID: req.ComputerID}
	if !c.links.AgentOnline(agent) {
		return "", ErrAgentOffline
	}

	declared := req.FileSize
	if req.FileData != "" && declared == 0 {
		if raw, err := base64.StdEncoding.DecodeString(req.FileData); err == nil {
			declared = int64(len(raw))
		}
	}

	t := &transfer{
		id:           uuid.New().String(),
		agent:        agent,
		console:      console,
		direction:    req.Direction,
		remotePath:   req.RemotePath,
		localPath:    req.LocalPath,
		state:        StateNegotiating,
		declaredSize: declared,
		startedAt:    time.Now(),
	}

	c.mu.Lock()
	c.transfers[t.id] = t
	t.timer = time.AfterFunc(c.acceptTimeout, func() { c.expire(t.id) })
	c.mu.Unlock()

	err := c.links.SendToAgent(agent, protocol.MustMake(protocol.EventFileTransfer,
		protocol.FileTransferDirective{
			TransferID: t.id,
			Direction:  req.Direction,
			RemotePath: req.RemotePath,
			FileData:   req.FileData,
			FileSize:   declared,
		}))
	if err != nil {
		c.fail(t.id, "agent disconnected", false)
		return "", ErrAgentOffline
	}

	c.logger.Info("file transfer negotiating",
		"transfer_id", t.id, "computer_id", req.ComputerID,
		"direction", req.Direction, "remote_path", req.RemotePath)
	return t.id, nil
}

// HandleAck applies the agent's accept or refuse. On acceptance the
// transfer moves to TRANSFERRING; a zero-byte transfer with nothing
// declared and nothing moved completes immediately (empty file case).
func (c *Coordinator) HandleAck(from registry.AgentKey, ack protocol.TransferAck) {
	c.mu.Lock()
	t, ok := c.transfers[ack.TransferID]
	if !ok || t.agent != from || t.state != StateNegotiating {
		c.mu.Unlock()
		c.logger.Warn("dropping transfer ack with no matching negotiation",
			"transfer_id", ack.TransferID)
		return
	}
	if !ack.Accepted {
		c.mu.Unlock()
		reason := ack.Reason
		if reason == "" {
			reason = "refused by agent"
		}
		c.fail(ack.TransferID, reason, true)
		return
	}
	t.state = StateTransferring
	if t.timer != nil {
		t.timer.Stop()
	}
	if ack.FileSize > 0 && t.declaredSize == 0 {
		t.declaredSize = ack.FileSize
	}
	empty := t.declaredSize == 0 && t.bytes == 0
	console, id, computerID := t.console, t.id, t.agent.ComputerID
	c.mu.Unlock()

	_ = c.links.SendToConsole(console, protocol.MustMake(protocol.EventFileTransferStarted,
		protocol.TransferEvent{TransferID: id, ComputerID: computerID}))

	if empty {
		c.complete(id)
	}
}

// ChunkFromConsole forwards upload data toward the agent.
func (c *Coordinator) ChunkFromConsole(console registry.ConsoleKey, chunk protocol.FileChunk) error {
	return c.chunk(chunk, func(t *transfer) error {
		if t.console != console {
			return ErrUnknownTransfer
		}
		if t.direction != protocol.DirectionUpload {
			return ErrWrongParty
		}
		return nil
	}, func(t *transfer, env protocol.Envelope) error {
		return c.links.SendToAgent(t.agent, env)
	})
}

// ChunkFromAgent forwards download data toward the console.
func (c *Coordinator) ChunkFromAgent(from registry.AgentKey, chunk protocol.FileChunk) error {
	return c.chunk(chunk, func(t *transfer) error {
		if t.agent != from {
			return ErrUnknownTransfer
		}
		if t.direction != protocol.DirectionDownload {
			return ErrWrongParty
		}
		return nil
	}, func(t *transfer, env protocol.Envelope) error {
		return c.links.SendToConsole(t.console, env)
	})
}

func (c *Coordinator) chunk(chunk protocol.FileChunk, check func(*transfer) error, forward func(*transfer, protocol.Envelope) error) error {
	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return errors.New("chunk data is not valid base64")
	}

	c.mu.Lock()
	t, ok := c.transfers[chunk.TransferID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownTransfer
	}
	if err := check(t); err != nil {
		c.mu.Unlock()
		return err
	}
	if t.state != StateTransferring {
		c.mu.Unlock()
		return ErrNotTransferring
	}
	t.bytes += int64(len(raw))
	c.mu.Unlock()

	return forward(t, protocol.MustMake(protocol.EventFileChunk, chunk))
}

// HandleContent applies a single-shot download payload from the agent: the
// data counts toward bytesTransferred, is forwarded to the console, and the
// transfer completes. The one event is both data and end-of-transfer signal.
func (c *Coordinator) HandleContent(from registry.AgentKey, content protocol.FileContent) error {
	raw, err := base64.StdEncoding.DecodeString(content.FileData)
	if err != nil {
		return errors.New("file content is not valid base64")
	}

	c.mu.Lock()
	t, ok := c.transfers[content.TransferID]
	if !ok || t.agent != from || t.direction != protocol.DirectionDownload {
		c.mu.Unlock()
		return ErrUnknownTransfer
	}
	if t.state != StateTransferring {
		c.mu.Unlock()
		return ErrNotTransferring
	}
	t.bytes += int64(len(raw))
	console := t.console
	c.mu.Unlock()

	_ = c.links.SendToConsole(console, protocol.MustMake(protocol.EventFileContent, content))
	c.complete(content.TransferID)
	return nil
}

// HandleProgress relays an agent's cumulative progress report to the
// console. BytesTransferred never moves backwards.
func (c *Coordinator) HandleProgress(from registry.AgentKey, progress protocol.TransferProgress) {
	c.mu.Lock()
	t, ok := c.transfers[progress.TransferID]
	if !ok || t.agent != from || t.state != StateTransferring {
		c.mu.Unlock()
		return
	}
	if progress.BytesTransferred > t.bytes {
		t.bytes = progress.BytesTransferred
	}
	console := t.console
	c.mu.Unlock()

	_ = c.links.SendToConsole(console, protocol.MustMake(protocol.EventFileTransferProgress, progress))
}

// CompleteFromAgent applies the agent's explicit end-of-transfer signal.
func (c *Coordinator) CompleteFromAgent(from registry.AgentKey, transferID string) error {
	c.mu.Lock()
	t, ok := c.transfers[transferID]
	valid := ok && t.agent == from
	c.mu.Unlock()
	if !valid {
		return ErrUnknownTransfer
	}
	c.complete(transferID)
	return nil
}

// CompleteFromConsole applies the console's explicit end-of-transfer signal
// for uploads streamed in chunks.
func (c *Coordinator) CompleteFromConsole(console registry.ConsoleKey, transferID string) error {
	c.mu.Lock()
	t, ok := c.transfers[transferID]
	valid := ok && t.console == console && t.direction == protocol.DirectionUpload
	c.mu.Unlock()
	if !valid {
		return ErrUnknownTransfer
	}
	c.complete(transferID)
	return nil
}

// FailFromAgent applies an agent-reported transfer error.
func (c *Coordinator) FailFromAgent(from registry.AgentKey, transferID, reason string) {
	c.mu.Lock()
	t, ok := c.transfers[transferID]
	valid := ok && t.agent == from
	c.mu.Unlock()
	if !valid {
		return
	}
	if reason == "" {
		reason = "agent reported failure"
	}
	c.fail(transferID, reason, true)
}

// AgentGone fails every active transfer for a disconnected agent. Partial
// delivery surfaces as FAILED, never silently as COMPLETE.
func (c *Coordinator) AgentGone(agent registry.AgentKey) {
	for _, id := range c.transfersFor(func(t *transfer) bool { return t.agent == agent }) {
		c.fail(id, "agent disconnected", true)
	}
}

// ConsoleGone fails every active transfer for a disconnected console.
func (c *Coordinator) ConsoleGone(console registry.ConsoleKey) {
	for _, id := range c.transfersFor(func(t *transfer) bool { return t.console == console }) {
		c.fail(id, "console disconnected", false)
	}
}

func (c *Coordinator) transfersFor(match func(*transfer) bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, t := range c.transfers {
		if match(t) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Coordinator) expire(id string) {
	c.mu.Lock()
	t, ok := c.transfers[id]
	stillNegotiating := ok && t.state == StateNegotiating
	c.mu.Unlock()
	if stillNegotiating {
		c.fail(id, "not accepted within timeout", true)
	}
}

// complete moves TRANSFERRING -> COMPLETE exactly once.
func (c *Coordinator) complete(id string) {
	c.mu.Lock()
	t, ok := c.transfers[id]
	if !ok || t.state != StateTransferring {
		c.mu.Unlock()
		return
	}
	t.state = StateComplete
	snap := c.removeLocked(t, "")
	c.mu.Unlock()

	c.logger.Info("file transfer complete",
		"transfer_id", id, "bytes", snap.BytesTransferred)
	_ = c.links.SendToConsole(snap.Console, protocol.MustMake(protocol.EventFileTransferComplete,
		protocol.TransferEvent{TransferID: id, BytesTransferred: snap.BytesTransferred}))
	if c.onTerminal != nil {
		c.onTerminal(snap)
	}
}

// fail is the FAILED transition, reachable from NEGOTIATING or TRANSFERRING.
func (c *Coordinator) fail(id, reason string, notifyConsole bool) {
	c.mu.Lock()
	t, ok := c.transfers[id]
	if !ok || (t.state != StateNegotiating && t.state != StateTransferring) {
		c.mu.Unlock()
		return
	}
	t.state = StateFailed
	snap := c.removeLocked(t, reason)
	c.mu.Unlock()

	c.logger.Warn("file transfer failed", "transfer_id", id, "reason", reason)
	if notifyConsole {
		_ = c.links.SendToConsole(snap.Console, protocol.MustMake(protocol.EventFileTransferFailed,
			protocol.TransferEvent{TransferID: id, BytesTransferred: snap.BytesTransferred, Error: reason}))
	}
	if c.onTerminal != nil {
		c.onTerminal(snap)
	}
}

func (c *Coordinator) removeLocked(t *transfer, reason string) Snapshot {
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(c.transfers, t.id)
	return Snapshot{
		ID:               t.id,
		Agent:            t.agent,
		Console:          t.console,
		Direction:        t.direction,
		RemotePath:       t.remotePath,
		LocalPath:        t.localPath,
		State:            t.state,
		Reason:           reason,
		DeclaredSize:     t.declaredSize,
		BytesTransferred: t.bytes,
		StartedAt:        t.startedAt,
	}
}
