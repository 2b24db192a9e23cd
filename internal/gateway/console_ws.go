// ABOUTME: Console websocket endpoint: JWT auth, event routing, rate limiting.
// ABOUTME: Contract violations are reported back as error events, never dropped silently.

package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/vigilops/vigil-gateway/internal/dispatch"
	"github.com/vigilops/vigil-gateway/internal/protocol"
	"github.com/vigilops/vigil-gateway/internal/registry"
	"github.com/vigilops/vigil-gateway/internal/store"
)

// handleConsoleWS upgrades and serves one operator console connection.
// The JWT rides on the token query parameter since browsers cannot set
// headers on websocket upgrades.
func (g *Gateway) handleConsoleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	identity, err := g.jwtVerifier.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Debug("console websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(16 << 20)

	ctx := r.Context()
	key := registry.ConsoleKey{OrgID: identity.OrgID, UserID: identity.UserID}

	peer := newWSPeer(conn, g.logger.With("component", "console-peer", "user_id", key.UserID))
	go peer.writePump(ctx)

	g.registry.RegisterConsole(key, peer)
	g.logger.Info("console connected", "org_id", key.OrgID, "user_id", key.UserID)

	// Presence snapshot first, before any live churn events.
	peer.Enqueue(protocol.MustMake(protocol.EventOnlineComputers, g.presence.Snapshot(key.OrgID)))

	limiter := rate.NewLimiter(rate.Limit(g.config.Limits.CommandRate), g.config.Limits.CommandBurst)

	defer g.consoleGone(key, peer)

	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			g.logger.Info("console disconnected", "user_id", key.UserID, "error", err)
			return
		}
		g.routeConsoleEvent(key, limiter, env)
	}
}

// consoleGone tears down everything tied to a disconnected console. When
// a reconnect already replaced this connection, only the stale handle is
// closed; the replacement keeps its sessions, transfers, and watches.
func (g *Gateway) consoleGone(key registry.ConsoleKey, peer registry.Peer) {
	if !g.registry.UnregisterConsole(key, peer) {
		peer.Close("replaced by reconnect")
		return
	}
	g.remote.ConsoleGone(key)
	g.terminal.ConsoleGone(key)
	g.transfer.ConsoleGone(key)
	peer.Close("connection closed")
}

// sendError reports a contract violation back to the offending console.
func (g *Gateway) sendError(key registry.ConsoleKey, context, message string) {
	_ = g.registry.SendToConsole(key, protocol.MustMake(protocol.EventError,
		protocol.ErrorEvent{Context: context, Message: message}))
}

// routeConsoleEvent dispatches one console envelope to the owning component.
func (g *Gateway) routeConsoleEvent(key registry.ConsoleKey, limiter *rate.Limiter, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventWatchComputer:
		var p protocol.WatchComputer
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		if err := g.registry.Watch(key, p.ComputerID); err != nil {
			g.sendError(key, env.Event, err.Error())
		}

	case protocol.EventUnwatchComputer:
		var p protocol.WatchComputer
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		g.registry.Unwatch(key, p.ComputerID)

	case protocol.EventSendCommand:
		if !limiter.Allow() {
			g.sendError(key, env.Event, "rate limit exceeded")
			return
		}
		var p protocol.SendCommand
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		g.dispatchCommand(key, p)

	case protocol.EventStartRemoteControl:
		var p protocol.StartRemoteControl
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		if _, err := g.remote.Start(key, p.ComputerID, p.Mode, p.Quality, p.FPS); err != nil {
			g.sendError(key, env.Event, err.Error())
		}

	case protocol.EventStopRemoteControl:
		var p protocol.StopRemoteControl
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		g.remote.Stop(key, p.SessionID)

	case protocol.EventRemoteInput:
		var p protocol.RemoteInput
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		if err := g.remote.Input(key, p.ComputerID, p); err != nil {
			g.sendError(key, env.Event, err.Error())
		}

	case protocol.EventStartTerminal:
		var p protocol.StartTerminal
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		if _, err := g.terminal.Start(key, p.ComputerID, p.Shell); err != nil {
			g.sendError(key, env.Event, err.Error())
		}

	case protocol.EventTerminalInput:
		var p protocol.TerminalInput
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		if err := g.terminal.Input(key, p.SessionID, p.Input); err != nil {
			g.sendError(key, env.Event, err.Error())
		}

	case protocol.EventStopTerminal:
		var p protocol.StopTerminal
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		g.terminal.Close(key, p.SessionID)

	case protocol.EventRequestScreenshot:
		var p protocol.RequestScreenshot
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		if err := g.relay.RequestScreenshot(key, p.ComputerID); err != nil {
			g.sendError(key, env.Event, err.Error())
		}

	case protocol.EventFileTransfer:
		if !limiter.Allow() {
			g.sendError(key, env.Event, "rate limit exceeded")
			return
		}
		var p protocol.FileTransferRequest
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		if _, err := g.transfer.Initiate(key, p); err != nil {
			g.sendError(key, env.Event, err.Error())
		}

	case protocol.EventFileChunk:
		var p protocol.FileChunk
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		if err := g.transfer.ChunkFromConsole(key, p); err != nil {
			g.sendError(key, env.Event, err.Error())
		}

	case protocol.EventFileTransferComplete:
		var p protocol.TransferComplete
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		if err := g.transfer.CompleteFromConsole(key, p.TransferID); err != nil {
			g.sendError(key, env.Event, err.Error())
		}

	case protocol.EventListDirectory:
		var p protocol.ListDirectory
		if err := env.Decode(&p); err != nil {
			g.sendError(key, env.Event, "malformed payload")
			return
		}
		agent := registry.AgentKey{OrgID: key.OrgID, ComputerID: p.ComputerID}
		if err := g.registry.SendToAgent(agent, protocol.MustMake(protocol.EventListDirectory, p)); err != nil {
			g.sendError(key, env.Event, err.Error())
		}

	default:
		g.sendError(key, env.Event, "unknown event")
	}
}

// dispatchCommand validates and dispatches a command, then waits for the
// outcome in the background so the read loop never blocks on an agent.
func (g *Gateway) dispatchCommand(key registry.ConsoleKey, p protocol.SendCommand) {
	agent := registry.AgentKey{OrgID: key.OrgID, ComputerID: p.ComputerID}
	receipt, err := g.dispatch.Dispatch(agent, p.Command, p.Payload)
	if err != nil {
		g.sendError(key, protocol.EventSendCommand, err.Error())
		return
	}

	_ = g.registry.SendToConsole(key, protocol.MustMake(protocol.EventCommandSent,
		protocol.CommandSent{CommandID: receipt.CommandID, Queued: receipt.Queued}))

	go g.awaitOutcome(key, agent, p.Command, receipt)
}

// awaitOutcome delivers the command's single terminal resolution to the
// issuing console and writes the audit record.
func (g *Gateway) awaitOutcome(key registry.ConsoleKey, agent registry.AgentKey, cmdType string, receipt *dispatch.Receipt) {
	out := <-receipt.Outcome

	_ = g.registry.SendToConsole(key, protocol.MustMake(protocol.EventCommandResult,
		protocol.CommandResult{
			CommandID: out.CommandID,
			Status:    wireStatus(out.Status),
			Response:  out.Response,
			Error:     out.Error,
		}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.store.RecordCommand(ctx, store.CommandAudit{
		CommandID:   out.CommandID,
		OrgID:       agent.OrgID,
		ComputerID:  agent.ComputerID,
		CommandType: cmdType,
		Status:      string(out.Status),
		Response:    out.Response,
		Error:       out.Error,
		ResolvedAt:  time.Now().UTC(),
	}); err != nil {
		g.logger.Error("recording command audit", "command_id", out.CommandID, "error", err)
	}
}

// wireStatus maps a dispatch status to its console-facing form.
func wireStatus(s dispatch.Status) string {
	return strings.ToLower(string(s))
}
