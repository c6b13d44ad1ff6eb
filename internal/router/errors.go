package router

import (
	"errors"

	"github.com/mockinterview/interviewd/internal/connections"
	"github.com/mockinterview/interviewd/internal/pipeline"
	"github.com/mockinterview/interviewd/internal/protocol"
	"github.com/mockinterview/interviewd/internal/sessions"
)

// Session error codes
const (
	ErrorCodeSessionNotFound      = "session_not_found"
	ErrorCodeSessionRequired      = "session_required"
	ErrorCodeSessionCompleted     = "session_completed"
	ErrorCodeSessionRebind        = "session_rebind_forbidden"
	ErrorCodeInvalidSessionConfig = "invalid_session_config"
	ErrorCodeInternal             = connections.ErrorCodeInternal
)

// ErrSessionRequired is returned for content sent on a connection that is not
// bound to a session.
var ErrSessionRequired = errors.New("connection is not bound to a session")

// ErrorData maps any router failure to a stable error payload. Internal
// causes are only attached as details outside production.
func ErrorData(err error, production bool) protocol.ErrorData {
	var (
		de *protocol.DecodeError
		pe *pipeline.Error
	)
	switch {
	case errors.As(err, &de):
		return de.ErrorData()

	case errors.As(err, &pe):
		fb := pipeline.Fallback()
		data := protocol.ErrorData{
			Error:   pe.Kind.Code(),
			Message: pe.Kind.Message(),
			Fallback: &protocol.Fallback{
				AIResponse:   fb.Text,
				ResponseType: fb.ResponseType,
				StrategyUsed: pipeline.StrategyErrorRecovery,
				Confidence:   fb.Confidence,
			},
		}
		if !production {
			data.Details = pe.Error()
		}
		return data

	case errors.Is(err, sessions.ErrNotFound):
		return protocol.ErrorData{Error: ErrorCodeSessionNotFound, Message: "session not found"}

	case errors.Is(err, sessions.ErrCompleted):
		return protocol.ErrorData{Error: ErrorCodeSessionCompleted, Message: "the interview is already completed"}

	case errors.Is(err, sessions.ErrInvalidConfig):
		data := protocol.ErrorData{Error: ErrorCodeInvalidSessionConfig, Message: "invalid interview configuration"}
		if !production {
			data.Details = err.Error()
		}
		return data

	case errors.Is(err, ErrSessionRequired):
		return protocol.ErrorData{Error: ErrorCodeSessionRequired, Message: "send connect or open /ws/{session_id} first"}

	case errors.Is(err, connections.ErrAlreadyBound):
		return protocol.ErrorData{Error: ErrorCodeSessionRebind, Message: "this connection is bound to another session"}

	default:
		data := protocol.ErrorData{Error: ErrorCodeInternal, Message: "internal server error"}
		if !production && err != nil {
			data.Details = err.Error()
		}
		return data
	}
}
