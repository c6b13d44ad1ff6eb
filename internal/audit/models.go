// Package audit records every completed or failed interaction for later
// review. It is write-only from the router's point of view.
package audit

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// InteractionLog is one answer and the interviewer's reaction to it
type InteractionLog struct {
	bun.BaseModel `bun:"table:interaction_logs,alias:il"`

	LogID         string    `bun:"id,pk" json:"log_id"`
	SessionID     string    `bun:"session_id,notnull" json:"session_id"`
	ConnectionID  string    `bun:"connection_id" json:"connection_id,omitempty"`
	InputModality string    `bun:"input_modality,notnull" json:"input_modality"` // text or audio
	UserInput     string    `bun:"user_input" json:"user_input"`
	AIResponse    string    `bun:"ai_response" json:"ai_response,omitempty"`
	ResponseType  string    `bun:"response_type" json:"response_type,omitempty"`
	Strategy      string    `bun:"strategy" json:"strategy,omitempty"`
	ProcessingMs  int64     `bun:"processing_ms,notnull,default:0" json:"processing_ms"`
	Success       bool      `bun:"success,notnull,default:true" json:"success"`
	ErrorCode     string    `bun:"error_code" json:"error_code,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// Validate validates the interaction log entry
func (l *InteractionLog) Validate() error {
	if l.LogID == "" {
		return fmt.Errorf("log ID cannot be empty")
	}
	if l.SessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if l.InputModality == "" {
		return fmt.Errorf("input modality cannot be empty")
	}
	if !l.Success && l.ErrorCode == "" {
		return fmt.Errorf("failed interaction must carry an error code")
	}
	return nil
}
