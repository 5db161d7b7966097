package controller

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jvsync/server/internal/wire"
	"github.com/jvsync/server/pkg/ctxlogger"
)

// outboundDepth buffers the per-session write channel the authority
// fans out on.
const outboundDepth = 32

// wsSession is the connection-local view of one live session: its
// identity, the outbound channel registered with the authority and the
// heartbeat liveness flag consumed by each tick.
type wsSession struct {
	id    uuid.UUID
	out   chan []byte
	alive atomic.Bool
}

// handleWs runs the connection state machine: upgrade, register, select
// over inbound frames and heartbeat ticks, then unregister and notify
// the departed room's remaining members.
func (c *controller) handleWs(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	sess := &wsSession{
		id:  uuid.New(),
		out: make(chan []byte, outboundDepth),
	}
	sess.alive.Store(true)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx = ctxlogger.AppendCtx(ctx, slog.String("session_id", sess.id.String()))

	c.logger.InfoContext(ctx, "session connected", "remote_addr", r.RemoteAddr)

	go c.writePump(ctx, conn, sess.out)

	if err := c.authority.RegisterSession(ctx, sess.id, sess.out); err != nil {
		c.logger.WarnContext(ctx, "failed to register session", "error", err)
		return
	}
	defer c.closeSession(ctx, sess)

	frames := make(chan []byte)
	go c.readPump(ctx, conn, frames)

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case raw, ok := <-frames:
			if !ok {
				return
			}

			c.dispatch(ctx, sess, raw)

			// Unconditional ack so the client releases its input lockout
			// whether or not the command had any effect.
			if err := c.authority.SendToOne(ctx, sess.id, wire.NewUnlockSetVideoEvent()); err != nil {
				c.logger.WarnContext(ctx, "failed to send unlock ack", "error", err)
			}
		case <-ticker.C:
			if !sess.alive.Swap(false) {
				c.logger.InfoContext(ctx, "session missed heartbeat, closing")
				conn.Close()
				continue
			}

			if err := c.authority.SendToOne(ctx, sess.id, wire.NewPingEvent()); err != nil {
				c.logger.WarnContext(ctx, "failed to send ping", "error", err)
			}
		}
	}
}

// readPump feeds inbound text frames to the select loop. Any read error,
// including a clean close frame, ends the connection.
func (c *controller) readPump(ctx context.Context, conn *websocket.Conn, frames chan<- []byte) {
	defer close(frames)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		select {
		case frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

// writePump is the connection's only socket writer; everything the
// authority fans out lands here.
func (c *controller) writePump(ctx context.Context, conn *websocket.Conn, out <-chan []byte) {
	for {
		select {
		case payload := <-out:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.DebugContext(ctx, "write failed", "error", err)
				conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *controller) closeSession(ctx context.Context, sess *wsSession) {
	affected, err := c.authority.UnregisterSession(ctx, sess.id)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to unregister session", "error", err)
		return
	}

	c.logger.InfoContext(ctx, "session disconnected")

	for _, roomId := range affected {
		c.broadcastMemberNames(ctx, roomId)
	}
}
