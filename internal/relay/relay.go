// ABOUTME: Fan-out of agent telemetry (frames, heartbeats, keystrokes) to watchers.
// ABOUTME: Bounded backpressure: a slow console drops events, never blocks the agent.

package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/vigilops/vigil-gateway/internal/protocol"
	"github.com/vigilops/vigil-gateway/internal/registry"
)

// Watchers resolves the consoles subscribed to an agent.
type Watchers interface {
	Watchers(key registry.AgentKey) []registry.ConsoleKey
	Console(key registry.ConsoleKey) (registry.Peer, bool)
	SendToAgent(key registry.AgentKey, env protocol.Envelope) error
}

// SessionSource resolves consoles holding an active remote-control session
// with an agent; screen frames reach them even without a watch.
type SessionSource interface {
	ActiveConsoles(agent registry.AgentKey) []registry.ConsoleKey
}

// Relay fans agent telemetry out to every watching console, tagging each
// event with the originating computer. Delivery goes through the console's
// bounded outbound queue; events are dropped for consoles that fall behind.
type Relay struct {
	reg      Watchers
	sessions SessionSource
	logger   *slog.Logger
}

// New creates a Relay.
func New(reg Watchers, sessions SessionSource, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		reg:      reg,
		sessions: sessions,
		logger:   logger.With("component", "relay"),
	}
}

// Telemetry relays one agent event (heartbeat, screenshot, keystrokes,
// clipboard, process_list, activity_log, directory_listing) to every
// console watching the computer. Each watcher gets the event at most once.
func (r *Relay) Telemetry(from registry.AgentKey, event string, payload json.RawMessage) {
	r.deliver(from, event, payload, r.reg.Watchers(from))
}

// Frame relays a screen frame. Frames additionally reach consoles holding
// an active remote-control session for the computer, deduplicated against
// the watcher set.
func (r *Relay) Frame(from registry.AgentKey, payload json.RawMessage) {
	targets := r.reg.Watchers(from)
	seen := make(map[registry.ConsoleKey]struct{}, len(targets))
	for _, c := range targets {
		seen[c] = struct{}{}
	}
	if r.sessions != nil {
		for _, c := range r.sessions.ActiveConsoles(from) {
			if _, dup := seen[c]; !dup {
				targets = append(targets, c)
			}
		}
	}
	r.deliver(from, protocol.EventScreenFrame, payload, targets)
}

// RequestScreenshot forwards a one-shot capture pull to the agent.
// Periodic frames arrive independently of pulls.
func (r *Relay) RequestScreenshot(console registry.ConsoleKey, computerID string) error {
	agent := registry.AgentKey{OrgID: console.OrgID, ComputerID: computerID}
	return r.reg.SendToAgent(agent, protocol.Envelope{Event: protocol.EventCaptureScreenshot})
}

func (r *Relay) deliver(from registry.AgentKey, event string, payload json.RawMessage, targets []registry.ConsoleKey) {
	if len(targets) == 0 {
		return
	}
	env := protocol.MustMake(event, protocol.WatchedEvent{
		ComputerID: from.ComputerID,
		Data:       payload,
	})
	for _, key := range targets {
		peer, ok := r.reg.Console(key)
		if !ok {
			continue
		}
		if !peer.Enqueue(env) {
			// Bounded backpressure: drop for this console only.
			r.logger.Debug("dropped event for slow console",
				"event", event, "computer_id", from.ComputerID, "user_id", key.UserID)
		}
	}
}
