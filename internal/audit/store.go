package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// OpenDB connects to PostgreSQL and verifies the connection.
func OpenDB(ctx context.Context, dsn string, maxConnections int) (*bun.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if maxConnections <= 0 {
		maxConnections = 10
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	sqldb.SetMaxOpenConns(maxConnections)
	sqldb.SetMaxIdleConns(maxConnections / 2)
	sqldb.SetConnMaxLifetime(time.Hour)

	db := bun.NewDB(sqldb, pgdialect.New())

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// CreateTables creates the audit tables if they do not exist.
func CreateTables(ctx context.Context, db *bun.DB) error {
	models := []interface{}{
		(*InteractionLog)(nil),
	}
	for _, model := range models {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table for model %T: %w", model, err)
		}
	}

	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_interaction_logs_session ON interaction_logs (session_id, created_at DESC)`)
	if err != nil {
		return fmt.Errorf("failed to create interaction log index: %w", err)
	}
	return nil
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *bun.DB
}

// NewPostgresStore creates a new PostgreSQL interaction store
func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateInteractionLog(ctx context.Context, log *InteractionLog) error {
	_, err := s.db.NewInsert().Model(log).Exec(ctx)
	return err
}

func (s *PostgresStore) GetInteractionsBySession(ctx context.Context, sessionID string, limit int) ([]*InteractionLog, error) {
	var logs []*InteractionLog
	err := s.db.NewSelect().
		Model(&logs).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	return logs, err
}

func (s *PostgresStore) DeleteOldInteractionLogs(ctx context.Context, olderThan string) error {
	cutoff, err := time.Parse(time.RFC3339, olderThan)
	if err != nil {
		return err
	}
	_, err = s.db.NewDelete().
		Model((*InteractionLog)(nil)).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	return err
}

// DB exposes the handle for health checks.
func (s *PostgresStore) DB() *bun.DB {
	return s.db
}

// MemoryStore keeps logs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	logs []*InteractionLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateInteractionLog(ctx context.Context, log *InteractionLog) error {
	cp := *log
	s.mu.Lock()
	s.logs = append(s.logs, &cp)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetInteractionsBySession(ctx context.Context, sessionID string, limit int) ([]*InteractionLog, error) {
	s.mu.RLock()
	var out []*InteractionLog
	for _, l := range s.logs {
		if l.SessionID == sessionID {
			cp := *l
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteOldInteractionLogs(ctx context.Context, olderThan string) error {
	cutoff, err := time.Parse(time.RFC3339, olderThan)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.logs[:0]
	for _, l := range s.logs {
		if !l.CreatedAt.Before(cutoff) {
			kept = append(kept, l)
		}
	}
	s.logs = kept
	return nil
}

// Len returns the number of stored logs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
