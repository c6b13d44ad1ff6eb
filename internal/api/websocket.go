package api

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/connections"
	"github.com/mockinterview/interviewd/internal/protocol"
	"github.com/mockinterview/interviewd/internal/router"
	"github.com/mockinterview/interviewd/internal/sessions"
)

const rejectWriteTimeout = 5 * time.Second

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// serveWebSocket upgrades the request and runs the connection until it
// closes. The session comes from the path, or from the first connect message
// when the path has none.
func serveWebSocket(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error
			s.Logger.Warn("WebSocket upgrade failed",
				zap.String("remote_addr", c.Request.RemoteAddr),
				zap.Error(err))
			return
		}

		conn, err := s.Conns.Register(ws, c.Request.RemoteAddr)
		if err != nil {
			s.reject(ws, err)
			return
		}
		conn.Query = c.Request.URL.Query()

		// connection lifetime is owned by the manager, not the request
		ctx := context.WithoutCancel(c.Request.Context())

		// without a path id the first connect message performs the handshake
		if sessionID := c.Param("sessionId"); sessionID != "" {
			cfg := sessions.Config{
				Style:         sessions.Style(c.Query("style")),
				CandidateName: c.Query("candidate_name"),
			}
			if _, err := s.Router.Attach(ctx, conn, sessionID, cfg); err != nil {
				s.Logger.Warn("WebSocket handshake failed",
					zap.String("connection_id", conn.ID),
					zap.String("session_id", sessionID),
					zap.Error(err))
				_ = s.Conns.Send(conn.ID, protocol.Error(sessionID, router.ErrorData(err, s.Config.Production)))
				s.Conns.Unregister(conn.ID, connections.ReasonHandshakeFailed)
			}
		}

		s.Conns.Serve(ctx, conn)
	}
}

// reject answers a socket the manager refused and closes it.
func (s *Server) reject(ws *websocket.Conn, cause error) {
	defer ws.Close()

	data := protocol.ErrorData{Error: router.ErrorCodeInternal, Message: "server is shutting down"}
	closeCode := websocket.CloseGoingAway
	if errors.Is(cause, connections.ErrCapacityExceeded) {
		data = protocol.ErrorData{Error: connections.ErrorCodeCapacityExceeded, Message: "too many connections, try again later"}
		closeCode = websocket.CloseTryAgainLater
	}

	s.Logger.Warn("Rejected WebSocket connection", zap.String("error", data.Error))

	deadline := time.Now().Add(rejectWriteTimeout)
	if frame, err := s.Codec.Encode(protocol.Error("", data)); err == nil {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, data.Error), deadline)
}
