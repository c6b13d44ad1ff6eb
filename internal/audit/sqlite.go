package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTime is fixed width so stored timestamps sort lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on a single SQLite file. It suits
// single-node deployments without PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interaction_logs (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL,
		connection_id  TEXT,
		input_modality TEXT NOT NULL,
		user_input     TEXT,
		ai_response    TEXT,
		response_type  TEXT,
		strategy       TEXT,
		processing_ms  INTEGER NOT NULL DEFAULT 0,
		success        INTEGER NOT NULL DEFAULT 1,
		error_code     TEXT,
		created_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interaction_logs_session ON interaction_logs(session_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateInteractionLog(ctx context.Context, log *InteractionLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interaction_logs
			(id, session_id, connection_id, input_modality, user_input, ai_response,
			 response_type, strategy, processing_ms, success, error_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.LogID, log.SessionID, log.ConnectionID, log.InputModality, log.UserInput, log.AIResponse,
		log.ResponseType, log.Strategy, log.ProcessingMs, log.Success, log.ErrorCode,
		log.CreatedAt.UTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("insert interaction log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetInteractionsBySession(ctx context.Context, sessionID string, limit int) ([]*InteractionLog, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, connection_id, input_modality, user_input, ai_response,
		       response_type, strategy, processing_ms, success, error_code, created_at
		FROM interaction_logs
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query interaction logs: %w", err)
	}
	defer rows.Close()

	var logs []*InteractionLog
	for rows.Next() {
		var (
			l                                                      InteractionLog
			connID, input, response, respType, strategy, errorCode sql.NullString
			createdAt                                              string
		)
		if err := rows.Scan(&l.LogID, &l.SessionID, &connID, &l.InputModality, &input, &response,
			&respType, &strategy, &l.ProcessingMs, &l.Success, &errorCode, &createdAt); err != nil {
			return nil, fmt.Errorf("scan interaction log: %w", err)
		}
		l.ConnectionID = connID.String
		l.UserInput = input.String
		l.AIResponse = response.String
		l.ResponseType = respType.String
		l.Strategy = strategy.String
		l.ErrorCode = errorCode.String
		if l.CreatedAt, err = time.Parse(sqliteTime, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) DeleteOldInteractionLogs(ctx context.Context, olderThan string) error {
	cutoff, err := time.Parse(time.RFC3339, olderThan)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM interaction_logs WHERE created_at < ?`, cutoff.UTC().Format(sqliteTime))
	return err
}

// DB exposes the handle for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
