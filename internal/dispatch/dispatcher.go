// ABOUTME: Command dispatcher with correlation-id tracking and offline queuing.
// ABOUTME: Every dispatched command resolves exactly once: ack, failure, or timeout.

package dispatch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil-gateway/internal/protocol"
	"github.com/vigilops/vigil-gateway/internal/registry"
)

// Dispatcher errors.
var (
	// ErrUnknownCommand means the command type is outside the vocabulary.
	ErrUnknownCommand = errors.New("unknown command type")

	// ErrUnknownCorrelation means a response referenced a command id the
	// dispatcher has no record of. Legitimate after a timeout already
	// resolved the caller's wait; logged and dropped, never escalated.
	ErrUnknownCorrelation = errors.New("unknown command id")
)

// Status is the lifecycle state of a dispatched command.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSent     Status = "SENT"
	StatusAcked    Status = "ACKED"
	StatusTimedOut Status = "TIMED_OUT"
	StatusFailed   Status = "FAILED"
)

// OfflinePolicy selects what happens to commands for a disconnected agent.
type OfflinePolicy string

const (
	// PolicyQueue holds commands in a bounded per-computer queue and flushes
	// them when the agent reconnects; the oldest entry is dropped on overflow.
	PolicyQueue OfflinePolicy = "queue"

	// PolicyDrop accepts the command but makes no delivery attempt; the
	// caller's wait resolves by timeout.
	PolicyDrop OfflinePolicy = "drop"
)

// Config tunes the dispatcher.
type Config struct {
	AckTimeout       time.Duration
	OfflinePolicy    OfflinePolicy
	OfflineQueueSize int
}

// Outcome is the single terminal resolution of a dispatched command.
type Outcome struct {
	CommandID string
	Status    Status // ACKED, FAILED, or TIMED_OUT
	Response  string
	Error     string
}

// Receipt is returned from Dispatch. Outcome delivers exactly one value.
type Receipt struct {
	CommandID string
	Queued    bool
	Outcome   <-chan Outcome
}

// AgentLink is the slice of the registry the dispatcher needs.
type AgentLink interface {
	AgentOnline(key registry.AgentKey) bool
	SendToAgent(key registry.AgentKey, env protocol.Envelope) error
}

type pending struct {
	key     registry.AgentKey
	status  Status
	outcome chan Outcome
	timer   *time.Timer
}

type queued struct {
	id      string
	cmdType string
	payload json.RawMessage
}

// Dispatcher sends commands to agents and correlates their responses by
// command id. All mutations of a given command entry are serialized behind
// the dispatcher mutex; distinct commands resolve independently.
type Dispatcher struct {
	mu       sync.Mutex
	commands map[string]*pending
	queues   map[registry.AgentKey][]queued

	cfg    Config
	agents AgentLink
	logger *slog.Logger
}

// New creates a Dispatcher. Zero-value config fields get safe defaults.
func New(cfg Config, agents AgentLink, logger *slog.Logger) *Dispatcher {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	if cfg.OfflinePolicy == "" {
		cfg.OfflinePolicy = PolicyQueue
	}
	if cfg.OfflineQueueSize <= 0 {
		cfg.OfflineQueueSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		commands: make(map[string]*pending),
		queues:   make(map[registry.AgentKey][]queued),
		cfg:      cfg,
		agents:   agents,
		logger:   logger.With("component", "dispatch"),
	}
}

// Dispatch validates the command type and sends (or queues) the command.
// queued=true only means no immediate send occurred; it never implies
// eventual delivery. The receipt's Outcome channel resolves exactly once
// within the configured ack timeout.
func (d *Dispatcher) Dispatch(key registry.AgentKey, cmdType string, payload json.RawMessage) (*Receipt, error) {
	if !protocol.ValidCommand(cmdType) {
		return nil, ErrUnknownCommand
	}

	id := uuid.New().String()
	p := &pending{
		key:     key,
		status:  StatusPending,
		outcome: make(chan Outcome, 1),
	}

	online := d.agents.AgentOnline(key)

	d.mu.Lock()
	d.commands[id] = p
	p.timer = time.AfterFunc(d.cfg.AckTimeout, func() { d.expire(id) })

	if online {
		p.status = StatusSent
	} else if d.cfg.OfflinePolicy == PolicyQueue {
		q := append(d.queues[key], queued{id: id, cmdType: cmdType, payload: payload})
		if len(q) > d.cfg.OfflineQueueSize {
			evicted := q[0]
			q = q[1:]
			d.resolveLocked(evicted.id, Outcome{
				CommandID: evicted.id,
				Status:    StatusFailed,
				Error:     "evicted from offline queue",
			})
			d.logger.Warn("offline queue overflow, dropped oldest command",
				"computer_id", key.ComputerID, "command_id", evicted.id)
		}
		d.queues[key] = q
	}
	d.mu.Unlock()

	if online {
		env := protocol.MustMake(protocol.EventCommand, protocol.Command{
			ID:      id,
			Command: cmdType,
			Payload: payload,
		})
		if err := d.agents.SendToAgent(key, env); err != nil {
			// Raced with a disconnect; the timeout resolves the wait.
			d.logger.Warn("send raced agent disconnect", "command_id", id)
		}
		d.logger.Debug("command sent",
			"command_id", id, "computer_id", key.ComputerID, "type", cmdType)
	} else {
		d.logger.Debug("agent offline",
			"command_id", id, "computer_id", key.ComputerID,
			"policy", string(d.cfg.OfflinePolicy))
	}

	return &Receipt{CommandID: id, Queued: !online, Outcome: p.outcome}, nil
}

// Resolve applies an agent's command_response. The response must come from
// the agent the command was dispatched to; anything else is treated as an
// unknown correlation. Returns ErrUnknownCorrelation when no in-flight
// command matches, which callers log and drop.
func (d *Dispatcher) Resolve(from registry.AgentKey, resp protocol.CommandResponse) error {
	status := StatusAcked
	if !resp.Success {
		status = StatusFailed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.commands[resp.CommandID]
	if !ok || p.key != from {
		return ErrUnknownCorrelation
	}
	d.resolveLocked(resp.CommandID, Outcome{
		CommandID: resp.CommandID,
		Status:    status,
		Response:  resp.Response,
		Error:     resp.Error,
	})
	return nil
}

// AgentConnected flushes the offline queue for a reconnected agent in
// enqueue order.
func (d *Dispatcher) AgentConnected(key registry.AgentKey) {
	d.mu.Lock()
	q := d.queues[key]
	delete(d.queues, key)
	for _, item := range q {
		if p, ok := d.commands[item.id]; ok {
			p.status = StatusSent
		}
	}
	d.mu.Unlock()

	for _, item := range q {
		env := protocol.MustMake(protocol.EventCommand, protocol.Command{
			ID:      item.id,
			Command: item.cmdType,
			Payload: item.payload,
		})
		if err := d.agents.SendToAgent(key, env); err != nil {
			d.logger.Warn("flush raced agent disconnect", "command_id", item.id)
			return
		}
		d.logger.Debug("flushed queued command",
			"command_id", item.id, "computer_id", key.ComputerID)
	}
}

// InFlight reports how many commands are awaiting resolution.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commands)
}

// expire transitions an unacknowledged command to TIMED_OUT.
func (d *Dispatcher) expire(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.commands[id]; !ok {
		return
	}
	d.resolveLocked(id, Outcome{
		CommandID: id,
		Status:    StatusTimedOut,
		Error:     "no acknowledgment within timeout",
	})
}

// resolveLocked delivers the outcome exactly once and forgets the command.
// Callers hold d.mu.
func (d *Dispatcher) resolveLocked(id string, out Outcome) {
	p, ok := d.commands[id]
	if !ok {
		return
	}
	delete(d.commands, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	// Remove from any offline queue so a later flush cannot resend it.
	if q, ok := d.queues[p.key]; ok {
		for i, item := range q {
			if item.id == id {
				d.queues[p.key] = append(q[:i:i], q[i+1:]...)
				break
			}
		}
	}
	p.outcome <- out
	close(p.outcome)
}
