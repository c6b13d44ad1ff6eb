package sessions

import (
	"errors"
	"fmt"
)

// SessionError represents errors related to session state
type SessionError struct {
	Type      string
	SessionID string
	Message   string
	Cause     error
}

func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session error [%s] for session %s: %s (caused by: %v)", e.Type, e.SessionID, e.Message, e.Cause)
	}
	return fmt.Sprintf("session error [%s] for session %s: %s", e.Type, e.SessionID, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Cause
}

// Is matches on Type so the package sentinels work with errors.Is.
func (e *SessionError) Is(target error) bool {
	var t *SessionError
	if !errors.As(target, &t) {
		return false
	}
	return t.SessionID == "" && t.Type == e.Type
}

// Session error types
const (
	SessionErrorTypeNotFound      = "not_found"
	SessionErrorTypeCompleted     = "completed"
	SessionErrorTypeInvalidConfig = "invalid_config"
	SessionErrorTypeInvalidTurn   = "invalid_turn"
)

// Sentinels for errors.Is.
var (
	ErrNotFound      = &SessionError{Type: SessionErrorTypeNotFound, Message: "session not found"}
	ErrCompleted     = &SessionError{Type: SessionErrorTypeCompleted, Message: "session is completed"}
	ErrInvalidConfig = &SessionError{Type: SessionErrorTypeInvalidConfig, Message: "invalid session config"}
	ErrInvalidTurn   = &SessionError{Type: SessionErrorTypeInvalidTurn, Message: "invalid turn"}
)

// NewNotFoundError creates an error for when a session id is unknown
func NewNotFoundError(sessionID string) *SessionError {
	return &SessionError{
		Type:      SessionErrorTypeNotFound,
		SessionID: sessionID,
		Message:   "session not found",
	}
}

// NewCompletedError creates an error for content submitted to a finished interview
func NewCompletedError(sessionID string) *SessionError {
	return &SessionError{
		Type:      SessionErrorTypeCompleted,
		SessionID: sessionID,
		Message:   "interview already completed, no further turns accepted",
	}
}

// NewInvalidConfigError creates an error for a rejected session config
func NewInvalidConfigError(sessionID string, cause error) *SessionError {
	return &SessionError{
		Type:      SessionErrorTypeInvalidConfig,
		SessionID: sessionID,
		Message:   "invalid session config",
		Cause:     cause,
	}
}

// NewInvalidTurnError creates an error for a malformed turn
func NewInvalidTurnError(sessionID string, cause error) *SessionError {
	return &SessionError{
		Type:      SessionErrorTypeInvalidTurn,
		SessionID: sessionID,
		Message:   "invalid turn",
		Cause:     cause,
	}
}
