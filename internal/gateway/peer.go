// ABOUTME: Websocket peer adapter with a bounded outbound queue and write pump.
// ABOUTME: Enqueue never blocks; a full queue means the event is dropped for that peer.

package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vigilops/vigil-gateway/internal/protocol"
)

// outboundQueueSize bounds the per-connection send buffer. A peer that
// cannot drain this many events is considered too slow to keep up.
const outboundQueueSize = 256

// wsPeer adapts a websocket connection to the registry's Peer interface.
// All writes go through the single writePump goroutine, so wire ordering
// follows enqueue ordering.
type wsPeer struct {
	conn   *websocket.Conn
	out    chan protocol.Envelope
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newWSPeer(conn *websocket.Conn, logger *slog.Logger) *wsPeer {
	return &wsPeer{
		conn:   conn,
		out:    make(chan protocol.Envelope, outboundQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Enqueue implements registry.Peer. It returns false when the peer is
// closed or its outbound queue is full; the envelope is dropped.
func (p *wsPeer) Enqueue(env protocol.Envelope) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- env:
		return true
	case <-p.done:
		return false
	default:
		return false
	}
}

// Close implements registry.Peer. Safe to call multiple times.
func (p *wsPeer) Close(reason string) {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close(websocket.StatusNormalClosure, reason)
	})
}

// writePump drains the outbound queue onto the wire. It runs until Close
// or a write failure; the read loop notices the dead connection on its own.
func (p *wsPeer) writePump(ctx context.Context) {
	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case env := <-p.out:
			if err := wsjson.Write(ctx, p.conn, env); err != nil {
				p.logger.Debug("write failed, closing peer", "error", err)
				p.Close("write failure")
				return
			}
		}
	}
}
