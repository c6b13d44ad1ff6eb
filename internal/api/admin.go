package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/connections"
	"github.com/mockinterview/interviewd/internal/protocol"
)

// PushRequest is an administrative status push.
type PushRequest struct {
	Data            json.RawMessage `json:"data"`
	ExcludeSessions []string        `json:"exclude_sessions"`
}

func (r PushRequest) payload() any {
	if len(r.Data) == 0 {
		return map[string]any{}
	}
	return r.Data
}

func websocketStats(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Conns.Stats())
	}
}

func websocketSessions(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := s.Conns.ConnectedSessions()
		c.JSON(http.StatusOK, gin.H{
			"sessions":    ids,
			"total":       len(ids),
			"connections": s.Conns.Connections(),
		})
	}
}

func websocketSession(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		live := s.Conns.SessionConnections(id)
		if len(live) == 0 {
			writeError(c, sessionNotFound(id), s.Config.Production)
			return
		}
		infos := make([]connections.Info, 0, len(live))
		for _, conn := range live {
			infos = append(infos, conn.Info())
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id":  id,
			"connections": infos,
		})
	}
}

func sendToSession(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PushRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, badRequest(protocol.ErrorCodeInvalidJSON, "request body is not valid JSON", ""), s.Config.Production)
			return
		}
		id := c.Param("sessionId")
		delivered := s.Conns.SendToSession(id, protocol.Status(id, req.payload()))
		if delivered == 0 {
			writeError(c, sessionNotFound(id), s.Config.Production)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": id,
			"delivered":  delivered,
		})
	}
}

func broadcast(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PushRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, badRequest(protocol.ErrorCodeInvalidJSON, "request body is not valid JSON", ""), s.Config.Production)
			return
		}

		var filter connections.Filter
		if len(req.ExcludeSessions) > 0 {
			filter = connections.ExcludeSessions(req.ExcludeSessions...)
		}
		delivered := s.Conns.Broadcast(protocol.Status("", req.payload()), filter)

		s.Logger.Info("Broadcast status message",
			zap.Int("delivered", delivered),
			zap.Strings("excluded_sessions", req.ExcludeSessions))
		c.JSON(http.StatusOK, gin.H{"delivered": delivered})
	}
}

func listSessions(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := s.Store.List()
		c.JSON(http.StatusOK, gin.H{
			"sessions": list,
			"total":    len(list),
		})
	}
}

func evictSession(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if err := s.Store.Evict(id); err != nil {
			writeError(c, err, s.Config.Production)
			return
		}
		closed := 0
		for _, conn := range s.Conns.SessionConnections(id) {
			s.Conns.Unregister(conn.ID, connections.ReasonSessionEvicted)
			closed++
		}

		s.Logger.Info("Evicted session",
			zap.String("session_id", id),
			zap.Int("closed_connections", closed))
		c.JSON(http.StatusOK, gin.H{
			"session_id":         id,
			"evicted":            true,
			"closed_connections": closed,
		})
	}
}

func sessionInteractions(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "audit_disabled",
				"message": "interaction logging is not enabled",
			})
			return
		}

		limit, _ := strconv.Atoi(c.Query("limit"))
		id := c.Param("sessionId")
		logs, err := s.Audit.SessionInteractions(c.Request.Context(), id, limit)
		if err != nil {
			s.Logger.Error("Failed to load interaction logs",
				zap.String("session_id", id),
				zap.Error(err))
			writeError(c, err, s.Config.Production)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id":   id,
			"interactions": logs,
			"total":        len(logs),
		})
	}
}
