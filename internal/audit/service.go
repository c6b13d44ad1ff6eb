package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger implements Recorder on top of a Store.
type Logger struct {
	store Store
	now   func() time.Time
}

// NewLogger creates a new interaction logger
func NewLogger(store Store) *Logger {
	return &Logger{store: store, now: time.Now}
}

var _ Recorder = (*Logger)(nil)

// Record fills the id and timestamp when missing, validates and stores the log.
func (l *Logger) Record(ctx context.Context, log *InteractionLog) error {
	if log.LogID == "" {
		log.LogID = ulid.Make().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = l.now()
	}
	if err := log.Validate(); err != nil {
		return fmt.Errorf("invalid interaction log: %w", err)
	}
	if err := l.store.CreateInteractionLog(ctx, log); err != nil {
		return fmt.Errorf("failed to create interaction log: %w", err)
	}
	return nil
}

// SessionInteractions returns recent interactions for a session.
func (l *Logger) SessionInteractions(ctx context.Context, sessionID string, limit int) ([]*InteractionLog, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}
	if limit <= 0 {
		limit = 100
	}
	logs, err := l.store.GetInteractionsBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get session interactions: %w", err)
	}
	return logs, nil
}

// Prune deletes logs older than retention.
func (l *Logger) Prune(ctx context.Context, retention time.Duration) error {
	cutoff := l.now().Add(-retention).UTC().Format(time.RFC3339)
	return l.store.DeleteOldInteractionLogs(ctx, cutoff)
}

// Discard is a Recorder that drops everything.
type Discard struct{}

func (Discard) Record(ctx context.Context, log *InteractionLog) error { return nil }
