package connections

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Serve runs the read and write pumps for conn and returns when the
// connection is CLOSED. Frames are dispatched on ctx, which should not be tied
// to the HTTP request.
func (m *Manager) Serve(ctx context.Context, conn *Connection) {
	m.wg.Add(1)
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.finalize(conn, ReasonTransportClosed)
			m.reportFatal(fmt.Errorf("connection pump panic: %v", r))
		}
	}()

	go m.writePump(conn)
	m.readPump(ctx, conn)
	<-conn.done
}

func (m *Manager) readPump(ctx context.Context, conn *Connection) {
	if m.cfg.MaxMessageSize > 0 {
		conn.socket.SetReadLimit(m.cfg.MaxMessageSize)
	}

	for {
		_, raw, err := conn.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				m.logger.Warn("websocket read error",
					zap.String("connection_id", conn.ID),
					zap.Error(err))
			}
			m.Unregister(conn.ID, ReasonTransportClosed)
			return
		}
		m.Dispatch(ctx, conn.ID, raw)
	}
}

// writePump is the only goroutine that writes data frames to the socket. When
// the queue is closed it drains what is left, sends a close frame and
// finalizes the connection.
func (m *Manager) writePump(conn *Connection) {
	var pings <-chan time.Time
	if m.cfg.PingInterval > 0 {
		ticker := time.NewTicker(m.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case frame, ok := <-conn.send:
			if !ok {
				reason := conn.CloseReason()
				_ = conn.socket.WriteControl(websocket.CloseMessage, closeFrame(reason), time.Now().Add(m.cfg.WriteTimeout))
				m.finalize(conn, reason)
				return
			}
			_ = conn.socket.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
			if err := conn.socket.WriteMessage(websocket.TextMessage, frame); err != nil {
				m.logger.Debug("websocket write failed",
					zap.String("connection_id", conn.ID),
					zap.Error(err))
				m.finalize(conn, ReasonWriteFailed)
				return
			}
			m.sent.Add(1)

		case <-pings:
			if err := conn.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout)); err != nil {
				m.finalize(conn, ReasonWriteFailed)
				return
			}

		case <-conn.done:
			return
		}
	}
}
