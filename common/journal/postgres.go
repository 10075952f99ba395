package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/flowcore/common/db"
)

// PostgresStore persists pause records in postgres so suspensions survive
// process restarts.
type PostgresStore struct {
	db *db.DB
}

// NewPostgresStore creates a postgres-backed journal.
func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

// EnsureSchema creates the journal table; used as a bootstrap init hook.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS pause_records (
			execution_id        TEXT NOT NULL,
			node_id             TEXT NOT NULL,
			resume_kind         TEXT NOT NULL,
			external_token      TEXT,
			payload             JSONB NOT NULL DEFAULT '{}'::jsonb,
			scheduled_resume_at TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (execution_id, node_id)
		);
		CREATE INDEX IF NOT EXISTS idx_pause_records_due
			ON pause_records (scheduled_resume_at)
			WHERE resume_kind = 'timer';
	`
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create pause_records schema: %w", err)
	}
	return nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal pause payload: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO pause_records
			(execution_id, node_id, resume_kind, external_token, payload, scheduled_resume_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id, node_id) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query,
		rec.ExecutionID, rec.NodeID, rec.ResumeKind,
		nullable(rec.ExternalToken), payload, rec.ScheduledResumeAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pause record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, executionID, nodeID string) (*Record, error) {
	query := `
		SELECT execution_id, node_id, resume_kind, COALESCE(external_token, ''),
		       payload, scheduled_resume_at, created_at
		FROM pause_records
		WHERE execution_id = $1 AND node_id = $2
	`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, executionID, nodeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pause record: %w", err)
	}
	return rec, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, executionID, nodeID string) error {
	query := `DELETE FROM pause_records WHERE execution_id = $1 AND node_id = $2`
	if _, err := s.db.Exec(ctx, query, executionID, nodeID); err != nil {
		return fmt.Errorf("failed to delete pause record: %w", err)
	}
	return nil
}

// ListByExecution implements Store.
func (s *PostgresStore) ListByExecution(ctx context.Context, executionID string) ([]*Record, error) {
	query := `
		SELECT execution_id, node_id, resume_kind, COALESCE(external_token, ''),
		       payload, scheduled_resume_at, created_at
		FROM pause_records
		WHERE execution_id = $1
		ORDER BY node_id
	`
	rows, err := s.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pause records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListDue implements Store.
func (s *PostgresStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT execution_id, node_id, resume_kind, COALESCE(external_token, ''),
		       payload, scheduled_resume_at, created_at
		FROM pause_records
		WHERE resume_kind = 'timer' AND scheduled_resume_at <= $1
		ORDER BY scheduled_resume_at
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due pause records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// DeleteByExecution implements Store.
func (s *PostgresStore) DeleteByExecution(ctx context.Context, executionID string) error {
	query := `DELETE FROM pause_records WHERE execution_id = $1`
	if _, err := s.db.Exec(ctx, query, executionID); err != nil {
		return fmt.Errorf("failed to clear pause records: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var payload []byte
	if err := row.Scan(
		&rec.ExecutionID, &rec.NodeID, &rec.ResumeKind, &rec.ExternalToken,
		&payload, &rec.ScheduledResumeAt, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pause payload: %w", err)
		}
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pause record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pause records: %w", err)
	}
	return out, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
