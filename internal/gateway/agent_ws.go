// ABOUTME: Agent websocket endpoint: auth handshake, event routing, teardown.
// ABOUTME: First envelope must be auth; everything after is routed by event name.

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vigilops/vigil-gateway/internal/protocol"
	"github.com/vigilops/vigil-gateway/internal/registry"
)

// authHandshakeTimeout bounds how long a fresh connection may sit silent
// before identifying itself.
const authHandshakeTimeout = 10 * time.Second

// handleAgentWS upgrades and serves one agent connection.
func (g *Gateway) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Debug("agent websocket accept failed", "error", err)
		return
	}
	// Screen frames and file chunks run large.
	conn.SetReadLimit(16 << 20)

	ctx := r.Context()

	key, ok := g.agentHandshake(ctx, conn)
	if !ok {
		return
	}

	peer := newWSPeer(conn, g.logger.With("component", "agent-peer", "computer_id", key.ComputerID))
	go peer.writePump(ctx)

	g.registry.RegisterAgent(key, peer)
	g.logger.Info("agent connected", "org_id", key.OrgID, "computer_id", key.ComputerID)

	peer.Enqueue(protocol.MustMake(protocol.EventAuthSuccess, protocol.AuthSuccess{
		ComputerID: key.ComputerID,
		Config: protocol.ServerConfig{
			ScreenshotInterval: uint64(g.config.Agents.HeartbeatInterval / time.Second),
		},
	}))

	defer g.agentGone(key, peer)

	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			g.logger.Info("agent disconnected", "computer_id", key.ComputerID, "error", err)
			return
		}
		g.routeAgentEvent(key, env)
	}
}

// agentHandshake reads and verifies the auth envelope. On failure the
// connection is closed after an auth_error and false is returned.
func (g *Gateway) agentHandshake(ctx context.Context, conn *websocket.Conn) (registry.AgentKey, bool) {
	hsCtx, cancel := context.WithTimeout(ctx, authHandshakeTimeout)
	defer cancel()

	var env protocol.Envelope
	if err := wsjson.Read(hsCtx, conn, &env); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "auth timeout")
		return registry.AgentKey{}, false
	}
	if env.Event != protocol.EventAuth {
		g.rejectAgent(hsCtx, conn, "first event must be auth")
		return registry.AgentKey{}, false
	}

	var a protocol.AgentAuth
	if err := env.Decode(&a); err != nil {
		g.rejectAgent(hsCtx, conn, "malformed auth payload")
		return registry.AgentKey{}, false
	}
	if a.OrganizationID == "" || a.MachineID == "" {
		g.rejectAgent(hsCtx, conn, "organizationId and machineId are required")
		return registry.AgentKey{}, false
	}
	if g.agentVerifier.Enabled() {
		if err := g.agentVerifier.VerifyKey(a.EnrollmentKey); err != nil {
			g.logger.Warn("agent auth rejected", "org_id", a.OrganizationID, "machine_id", a.MachineID)
			g.rejectAgent(hsCtx, conn, "invalid enrollment key")
			return registry.AgentKey{}, false
		}
	}

	return registry.AgentKey{OrgID: a.OrganizationID, ComputerID: a.MachineID}, true
}

func (g *Gateway) rejectAgent(ctx context.Context, conn *websocket.Conn, msg string) {
	_ = wsjson.Write(ctx, conn, protocol.MustMake(protocol.EventAuthError,
		protocol.AuthError{Message: msg}))
	_ = conn.Close(websocket.StatusPolicyViolation, "auth failed")
}

// agentGone tears down everything tied to a disconnected agent: sessions
// end, transfers fail, and the registry announces the agent offline. When
// a reconnect already replaced this connection, only the stale handle is
// closed; the replacement's sessions and transfers stay alive.
func (g *Gateway) agentGone(key registry.AgentKey, peer registry.Peer) {
	if !g.registry.UnregisterAgent(key, peer) {
		peer.Close("replaced by reconnect")
		return
	}
	g.remote.AgentGone(key)
	g.terminal.AgentGone(key)
	g.transfer.AgentGone(key)
	peer.Close("connection closed")
}

// routeAgentEvent dispatches one agent envelope to the owning component.
// Malformed payloads are logged and dropped; an agent cannot make the
// gateway fail another agent's traffic.
func (g *Gateway) routeAgentEvent(key registry.AgentKey, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventHeartbeat:
		g.presence.MarkHeartbeat(key)
		g.relay.Telemetry(key, env.Event, env.Payload)

	case protocol.EventCommandResponse:
		var resp protocol.CommandResponse
		if err := env.Decode(&resp); err != nil {
			g.logger.Warn("malformed command response", "computer_id", key.ComputerID, "error", err)
			return
		}
		// Marked seen only after a successful resolve, so a response that
		// fails the wrong-agent check cannot shadow the real agent's.
		if err := g.dispatch.Resolve(key, resp); err != nil {
			if g.dedupe.Seen("cmd:" + resp.CommandID) {
				g.logger.Debug("duplicate command response dropped", "command_id", resp.CommandID)
			} else {
				g.logger.Debug("command response not correlated", "command_id", resp.CommandID, "error", err)
			}
			return
		}
		g.dedupe.Seen("cmd:" + resp.CommandID)

	case protocol.EventRemoteControlAck:
		var ack protocol.SessionAck
		if err := env.Decode(&ack); err != nil {
			return
		}
		g.remote.HandleAck(key, ack)

	case protocol.EventTerminalAck:
		var ack protocol.SessionAck
		if err := env.Decode(&ack); err != nil {
			return
		}
		g.terminal.HandleAck(key, ack)

	case protocol.EventTerminalOutput:
		var out protocol.TerminalOutput
		if err := env.Decode(&out); err != nil {
			return
		}
		g.terminal.Output(key, out.SessionID, out.Output)

	case protocol.EventTerminalClosed:
		var closed protocol.TerminalClosed
		if err := env.Decode(&closed); err != nil {
			return
		}
		g.terminal.HandleClosed(key, closed.SessionID)

	case protocol.EventFileTransferAck:
		var ack protocol.TransferAck
		if err := env.Decode(&ack); err != nil {
			return
		}
		g.transfer.HandleAck(key, ack)

	case protocol.EventFileChunk:
		var chunk protocol.FileChunk
		if err := env.Decode(&chunk); err != nil {
			return
		}
		if err := g.transfer.ChunkFromAgent(key, chunk); err != nil {
			g.logger.Debug("agent chunk rejected", "transfer_id", chunk.TransferID, "error", err)
		}

	case protocol.EventFileTransferProgress:
		var progress protocol.TransferProgress
		if err := env.Decode(&progress); err != nil {
			return
		}
		g.transfer.HandleProgress(key, progress)

	case protocol.EventFileContent:
		var content protocol.FileContent
		if err := env.Decode(&content); err != nil {
			return
		}
		if err := g.transfer.HandleContent(key, content); err != nil {
			g.logger.Debug("file content rejected", "transfer_id", content.TransferID, "error", err)
		}

	case protocol.EventFileTransferComplete:
		var done protocol.TransferComplete
		if err := env.Decode(&done); err != nil {
			return
		}
		if err := g.transfer.CompleteFromAgent(key, done.TransferID); err != nil {
			if !g.dedupe.Seen("xfer:" + done.TransferID) {
				g.logger.Debug("transfer complete rejected", "transfer_id", done.TransferID, "error", err)
			}
			return
		}
		g.dedupe.Seen("xfer:" + done.TransferID)

	case protocol.EventFileTransferError:
		var xerr protocol.TransferError
		if err := env.Decode(&xerr); err != nil {
			return
		}
		g.transfer.FailFromAgent(key, xerr.TransferID, xerr.Error)

	case protocol.EventScreenFrame:
		g.relay.Frame(key, env.Payload)

	case protocol.EventScreenshot, protocol.EventActivityLog, protocol.EventKeystrokes,
		protocol.EventClipboard, protocol.EventProcessList, protocol.EventDirectoryListing:
		g.relay.Telemetry(key, env.Event, env.Payload)

	case protocol.EventAuth:
		// Already authenticated; a second auth is a protocol violation.
		g.logger.Warn("agent sent duplicate auth", "computer_id", key.ComputerID)

	default:
		g.logger.Debug("unknown agent event", "event", env.Event, "computer_id", key.ComputerID)
	}
}
