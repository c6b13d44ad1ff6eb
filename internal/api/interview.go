package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mockinterview/interviewd/internal/protocol"
	"github.com/mockinterview/interviewd/internal/router"
	"github.com/mockinterview/interviewd/internal/sessions"
)

// StartRequest starts or resumes an interview.
type StartRequest struct {
	SessionID      string `json:"session_id"`
	InterviewStyle string `json:"interview_style"`
	CandidateName  string `json:"candidate_name"`
}

// ProcessRequest carries one typed answer.
type ProcessRequest struct {
	Text    string `json:"text"`
	Context string `json:"context"`
}

func startInterview(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				writeError(c, badRequest(protocol.ErrorCodeInvalidJSON, "request body is not valid JSON", ""), s.Config.Production)
				return
			}
		}

		opening, err := s.Router.Start(c.Request.Context(), strings.TrimSpace(req.SessionID), sessions.Config{
			Style:         sessions.Style(req.InterviewStyle),
			CandidateName: req.CandidateName,
		})
		if err != nil {
			writeError(c, err, s.Config.Production)
			return
		}

		status := http.StatusOK
		if opening.Created {
			status = http.StatusCreated
		}
		body := sessionBody(opening.Session)
		body["created"] = opening.Created
		if opening.FirstQuestion != "" {
			body["first_question"] = opening.FirstQuestion
		}
		c.JSON(status, body)
	}
}

func interviewStatus(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.Store.Get(c.Param("sessionId"))
		if err != nil {
			writeError(c, err, s.Config.Production)
			return
		}
		body := sessionBody(sess)
		body["connections"] = len(s.Conns.SessionConnections(sess.ID))
		body["pending"] = s.Router.Pending(sess.ID)
		c.JSON(http.StatusOK, body)
	}
}

func interviewTurns(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.Store.Get(c.Param("sessionId"))
		if err != nil {
			writeError(c, err, s.Config.Production)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": sess.ID,
			"completed":  sess.Completed,
			"turns":      sess.Turns,
		})
	}
}

func processText(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProcessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, badRequest(protocol.ErrorCodeInvalidJSON, "request body is not valid JSON", ""), s.Config.Production)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeError(c, badRequest(protocol.ErrorCodeEmptyInput, "text must not be empty", "text"), s.Config.Production)
			return
		}

		s.process(c, router.Input{
			Modality: sessions.ModalityText,
			Text:     req.Text,
			Context:  req.Context,
		})
	}
}

func processAudio(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			writeError(c, badRequest(protocol.ErrorCodeInvalidAudio, "multipart field \"file\" is required", "file"), s.Config.Production)
			return
		}
		defer file.Close()

		limit := int64(s.Config.MaxAudioBytes)
		if limit <= 0 {
			limit = int64(s.Codec.MaxAudioBytes)
		}
		var reader io.Reader = file
		if limit > 0 {
			// one extra byte so oversized uploads reach ValidateAudio
			reader = io.LimitReader(file, limit+1)
		}
		audio, err := io.ReadAll(reader)
		if err != nil {
			writeError(c, badRequest(protocol.ErrorCodeInvalidAudio, "failed to read audio upload", "file"), s.Config.Production)
			return
		}

		format, err := s.Codec.ValidateAudio(uploadFormat(c.PostForm("audio_format"), header.Filename, header.Header.Get("Content-Type")), audio)
		if err != nil {
			writeError(c, err, s.Config.Production)
			return
		}

		s.process(c, router.Input{
			Modality: sessions.ModalityAudio,
			Audio:    audio,
			Format:   format,
			Context:  c.PostForm("context"),
		})
	}
}

func (s *Server) process(c *gin.Context, in router.Input) {
	sessionID := c.Param("sessionId")
	res, err := s.Router.Process(c.Request.Context(), sessionID, in)
	if err != nil {
		if !errors.Is(err, sessions.ErrNotFound) && !errors.Is(err, sessions.ErrCompleted) {
			s.Logger.Warn("Failed to process answer",
				zap.String("session_id", sessionID),
				zap.String("modality", string(in.Modality)),
				zap.Error(err))
		}
		writeError(c, err, s.Config.Production)
		return
	}

	c.JSON(http.StatusOK, struct {
		SessionID string `json:"session_id"`
		protocol.AIResponseData
	}{SessionID: res.SessionID, AIResponseData: res.AIResponseData()})
}

// uploadFormat picks the declared format, then the file extension, then the
// part's content type.
func uploadFormat(declared, filename, contentType string) string {
	if f := protocol.NormalizeFormat(declared); f != "" {
		return f
	}
	if ext := protocol.NormalizeFormat(filepath.Ext(filename)); ext != "" {
		return ext
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
		return protocol.NormalizeFormat(mt)
	}
	return ""
}

func sessionBody(sess sessions.Session) gin.H {
	return gin.H{
		"session_id":     sess.ID,
		"config":         sess.Config,
		"completed":      sess.Completed,
		"turn_count":     len(sess.Turns),
		"created_at":     sess.CreatedAt,
		"last_active_at": sess.LastActiveAt,
	}
}

func sessionNotFound(id string) error {
	return fmt.Errorf("websocket session %s: %w", id, sessions.ErrNotFound)
}
