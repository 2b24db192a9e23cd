// ABOUTME: Fake endpoint agent for exercising the gateway without real hardware.
// ABOUTME: Echoes commands, accepts sessions, and streams synthetic screen frames.

package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vigilops/vigil-gateway/internal/protocol"
)

type fakeAgent struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu        sync.Mutex
	streaming bool
	terminals map[string]bool
}

func main() {
	var (
		gatewayURL = flag.String("gateway", "ws://localhost:8080/ws/agent", "gateway agent websocket URL")
		orgID      = flag.String("org", "org-dev", "organization id")
		machineID  = flag.String("machine", "", "machine id (defaults to hostname)")
		key        = flag.String("key", "", "enrollment key")
		interval   = flag.Duration("heartbeat", 15*time.Second, "heartbeat interval")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *machineID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "fake-agent"
		}
		*machineID = host
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, *gatewayURL, *orgID, *machineID, *key, *interval); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, url, orgID, machineID, key string, heartbeat time.Duration) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")
	conn.SetReadLimit(16 << 20)

	a := &fakeAgent{
		conn:      conn,
		logger:    logger,
		terminals: make(map[string]bool),
	}

	host, _ := os.Hostname()
	if err := a.send(ctx, protocol.EventAuth, protocol.AgentAuth{
		OrganizationID: orgID,
		MachineID:      machineID,
		Hostname:       host,
		OSType:         "linux",
		AgentVersion:   "fake-0.1",
		EnrollmentKey:  key,
	}); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	var first protocol.Envelope
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		return fmt.Errorf("reading auth response: %w", err)
	}
	if first.Event != protocol.EventAuthSuccess {
		var authErr protocol.AuthError
		_ = first.Decode(&authErr)
		return fmt.Errorf("auth rejected: %s", authErr.Message)
	}
	logger.Info("authenticated", "machine_id", machineID)

	go a.heartbeatLoop(ctx, heartbeat)
	go a.frameLoop(ctx)

	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("reading event: %w", err)
		}
		a.handle(ctx, env)
	}
}

func (a *fakeAgent) send(ctx context.Context, event string, payload any) error {
	env, err := protocol.Make(event, payload)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, a.conn, env)
}

func (a *fakeAgent) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = a.send(ctx, protocol.EventHeartbeat, protocol.Heartbeat{
				CPUUsage:    12.5,
				MemoryUsage: 40.0,
				DiskUsage:   55.0,
			})
		}
	}
}

// frameLoop emits synthetic screen frames at 2fps while streaming is on.
func (a *fakeAgent) frameLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	frame := base64.StdEncoding.EncodeToString([]byte("not a real jpeg"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			on := a.streaming
			a.mu.Unlock()
			if !on {
				continue
			}
			_ = a.send(ctx, protocol.EventScreenFrame, protocol.ScreenFrame{
				Frame:     frame,
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}

func (a *fakeAgent) handle(ctx context.Context, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventCommand:
		var cmd protocol.Command
		if err := env.Decode(&cmd); err != nil {
			return
		}
		a.logger.Info("command received", "id", cmd.ID, "command", cmd.Command)
		_ = a.send(ctx, protocol.EventCommandResponse, protocol.CommandResponse{
			CommandID: cmd.ID,
			Success:   true,
			Response:  "ok: " + cmd.Command,
		})

	case protocol.EventStartRemoteControl:
		var d protocol.StartRemoteControlDirective
		if err := env.Decode(&d); err != nil {
			return
		}
		a.logger.Info("remote control accepted", "session_id", d.SessionID, "mode", d.Mode)
		a.mu.Lock()
		a.streaming = true
		a.mu.Unlock()
		_ = a.send(ctx, protocol.EventRemoteControlAck, protocol.SessionAck{
			SessionID: d.SessionID,
			Accepted:  true,
		})

	case protocol.EventStopRemoteControl:
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()

	case protocol.EventStartScreenStream:
		a.mu.Lock()
		a.streaming = true
		a.mu.Unlock()

	case protocol.EventStopScreenStream:
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()

	case protocol.EventCaptureScreenshot:
		_ = a.send(ctx, protocol.EventScreenshot, protocol.Screenshot{
			Image:     base64.StdEncoding.EncodeToString([]byte("not a real png")),
			Timestamp: time.Now().UnixMilli(),
		})

	case protocol.EventStartTerminal:
		var d protocol.StartTerminalDirective
		if err := env.Decode(&d); err != nil {
			return
		}
		a.mu.Lock()
		a.terminals[d.SessionID] = true
		a.mu.Unlock()
		a.logger.Info("terminal started", "session_id", d.SessionID)
		_ = a.send(ctx, protocol.EventTerminalAck, protocol.SessionAck{
			SessionID: d.SessionID,
			Accepted:  true,
		})

	case protocol.EventTerminalInput:
		var in protocol.TerminalInput
		if err := env.Decode(&in); err != nil {
			return
		}
		a.mu.Lock()
		running := a.terminals[in.SessionID]
		a.mu.Unlock()
		if !running {
			return
		}
		// Echo terminal, enough to watch ordering on the console side.
		_ = a.send(ctx, protocol.EventTerminalOutput, protocol.TerminalOutput{
			SessionID: in.SessionID,
			Output:    in.Input,
		})

	case protocol.EventStopTerminal:
		var stop protocol.StopTerminal
		if err := env.Decode(&stop); err != nil {
			return
		}
		a.mu.Lock()
		delete(a.terminals, stop.SessionID)
		a.mu.Unlock()
		_ = a.send(ctx, protocol.EventTerminalClosed, protocol.TerminalClosed{
			SessionID: stop.SessionID,
		})

	case protocol.EventFileTransfer:
		var d protocol.FileTransferDirective
		if err := env.Decode(&d); err != nil {
			return
		}
		a.logger.Info("transfer accepted", "transfer_id", d.TransferID, "direction", d.Direction)
		_ = a.send(ctx, protocol.EventFileTransferAck, protocol.TransferAck{
			TransferID: d.TransferID,
			Accepted:   true,
			FileSize:   d.FileSize,
		})
		if d.Direction == protocol.DirectionDownload {
			data := []byte("fake file contents")
			_ = a.send(ctx, protocol.EventFileContent, protocol.FileContent{
				TransferID: d.TransferID,
				FileName:   "fake.txt",
				FileData:   base64.StdEncoding.EncodeToString(data),
				FileSize:   int64(len(data)),
			})
		}

	case protocol.EventFileChunk:
		var chunk protocol.FileChunk
		if err := env.Decode(&chunk); err != nil {
			return
		}
		a.logger.Info("chunk received", "transfer_id", chunk.TransferID, "bytes", len(chunk.Data))

	case protocol.EventListDirectory:
		var ls protocol.ListDirectory
		if err := env.Decode(&ls); err != nil {
			return
		}
		_ = a.send(ctx, protocol.EventDirectoryListing, map[string]any{
			"path":    ls.Path,
			"entries": []string{"a.txt", "b.txt"},
		})

	default:
		a.logger.Debug("unhandled event", "event", env.Event)
	}
}
