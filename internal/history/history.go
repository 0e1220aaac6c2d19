// Package history persists execution records in PostgreSQL. Persistence is
// optional: when no database is configured the worker uses NopRecorder and
// records exist only in logs and metrics.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id        TEXT PRIMARY KEY,
	rule_id             TEXT NOT NULL,
	event_id            TEXT NOT NULL,
	context_key         TEXT NOT NULL,
	triggered           BOOLEAN NOT NULL,
	confidence          DOUBLE PRECISION,
	reason              TEXT NOT NULL DEFAULT '',
	notification_status TEXT NOT NULL,
	latency_ms          BIGINT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_rule_created
	ON executions (rule_id, created_at DESC);
`

// Store persists execution records.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle. Used by tests.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts an execution record.
func (s *Store) Record(ctx context.Context, rec *models.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(execution_id, rule_id, event_id, context_key, triggered,
			 confidence, reason, notification_status, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ExecutionID, rec.RuleID, rec.EventID, rec.ContextKey, rec.Triggered,
		rec.Confidence, rec.Reason, string(rec.NotificationStatus), rec.LatencyMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// UpdateNotificationStatus records the final delivery disposition.
func (s *Store) UpdateNotificationStatus(ctx context.Context, executionID string, status models.NotificationStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE executions SET notification_status = $1 WHERE execution_id = $2`,
		string(status), executionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", executionID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("execution %s not found", executionID)
	}
	return nil
}

// Recent returns the newest records for a rule, newest first.
func (s *Store) Recent(ctx context.Context, ruleID string, limit int) ([]models.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, rule_id, event_id, context_key, triggered,
		       confidence, reason, notification_status, latency_ms, created_at
		FROM executions
		WHERE rule_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		ruleID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for %s: %w", ruleID, err)
	}
	defer rows.Close()

	var records []models.ExecutionRecord
	for rows.Next() {
		var rec models.ExecutionRecord
		var status string
		var createdAt time.Time
		err := rows.Scan(
			&rec.ExecutionID, &rec.RuleID, &rec.EventID, &rec.ContextKey, &rec.Triggered,
			&rec.Confidence, &rec.Reason, &status, &rec.LatencyMS, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		rec.NotificationStatus = models.NotificationStatus(status)
		rec.CreatedAt = createdAt
		records = append(records, rec)
	}
	return records, rows.Err()
}

// NopRecorder discards records and status updates; used when history
// persistence is not configured.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, rec *models.ExecutionRecord) error { return nil }

func (NopRecorder) UpdateNotificationStatus(ctx context.Context, executionID string, status models.NotificationStatus) error {
	return nil
}
