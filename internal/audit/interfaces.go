package audit

import "context"

// Recorder is what the router writes interactions to.
type Recorder interface {
	// Record validates and persists one interaction
	Record(ctx context.Context, log *InteractionLog) error
}

// Store defines the interface for interaction log persistence
type Store interface {
	// CreateInteractionLog persists a new interaction log entry
	CreateInteractionLog(ctx context.Context, log *InteractionLog) error

	// GetInteractionsBySession returns the newest logs for a session first
	GetInteractionsBySession(ctx context.Context, sessionID string, limit int) ([]*InteractionLog, error)

	// DeleteOldInteractionLogs removes logs created before olderThan (RFC 3339)
	DeleteOldInteractionLogs(ctx context.Context, olderThan string) error
}
