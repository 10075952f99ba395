package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/flowcore/common/db"
)

// PostgresStore persists executions in postgres.
type PostgresStore struct {
	db *db.DB
}

// NewPostgresStore creates a postgres-backed execution store.
func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

// EnsureSchema creates the execution tables; used as a bootstrap init hook.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id   TEXT PRIMARY KEY,
			flow_id        TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			state          TEXT NOT NULL,
			error          TEXT,
			global_context JSONB NOT NULL DEFAULT '{}'::jsonb,
			flow_snapshot  JSONB,
			started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at   TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_executions_user
			ON executions (user_id, started_at DESC);

		CREATE TABLE IF NOT EXISTS execution_nodes (
			execution_id TEXT NOT NULL,
			node_id      TEXT NOT NULL,
			state        TEXT NOT NULL,
			attempts     INT NOT NULL DEFAULT 0,
			last_error   TEXT,
			output       JSONB,
			metadata     JSONB,
			started_at   TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			PRIMARY KEY (execution_id, node_id)
		);
	`
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create execution schema: %w", err)
	}
	return nil
}

// CreateExecution implements Store.
func (s *PostgresStore) CreateExecution(ctx context.Context, exec *Execution) error {
	global, err := json.Marshal(exec.GlobalContext)
	if err != nil {
		return fmt.Errorf("failed to marshal global context: %w", err)
	}
	startedAt := exec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO executions
			(execution_id, flow_id, user_id, state, error, global_context, flow_snapshot, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := s.db.Exec(ctx, query,
		exec.ID, exec.FlowID, exec.UserID, exec.State, nullable(exec.Error),
		global, nullableBytes(exec.FlowSnapshot), startedAt, exec.CompletedAt,
	); err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// GetExecution implements Store.
func (s *PostgresStore) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	query := `
		SELECT execution_id, flow_id, user_id, state, COALESCE(error, ''),
		       global_context, flow_snapshot, started_at, completed_at
		FROM executions
		WHERE execution_id = $1
	`
	exec, err := scanExecution(s.db.QueryRow(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// UpdateExecution implements Store. The state predicate keeps terminal
// states immutable at the database level.
func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	global, err := json.Marshal(exec.GlobalContext)
	if err != nil {
		return fmt.Errorf("failed to marshal global context: %w", err)
	}
	query := `
		UPDATE executions
		SET state = $2, error = $3, global_context = $4, completed_at = $5
		WHERE execution_id = $1
		  AND (state NOT IN ('completed', 'failed', 'cancelled') OR state = $2)
	`
	tag, err := s.db.Exec(ctx, query,
		exec.ID, exec.State, nullable(exec.Error), global, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %q not found or already terminal", exec.ID)
	}
	return nil
}

// ListExecutions implements Store.
func (s *PostgresStore) ListExecutions(ctx context.Context, userID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT execution_id, flow_id, user_id, state, COALESCE(error, ''),
		       global_context, flow_snapshot, started_at, completed_at
		FROM executions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return out, nil
}

// SaveNode implements Store.
func (s *PostgresStore) SaveNode(ctx context.Context, rec *NodeRecord) error {
	output, err := json.Marshal(rec.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal node output: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal node metadata: %w", err)
	}
	query := `
		INSERT INTO execution_nodes
			(execution_id, node_id, state, attempts, last_error, output, metadata, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			output = EXCLUDED.output,
			metadata = EXCLUDED.metadata,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`
	if _, err := s.db.Exec(ctx, query,
		rec.ExecutionID, rec.NodeID, rec.State, rec.Attempts, nullable(rec.LastError),
		output, metadata, rec.StartedAt, rec.CompletedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert node record: %w", err)
	}
	return nil
}

// GetNode implements Store.
func (s *PostgresStore) GetNode(ctx context.Context, executionID, nodeID string) (*NodeRecord, error) {
	query := `
		SELECT execution_id, node_id, state, attempts, COALESCE(last_error, ''),
		       output, metadata, started_at, completed_at
		FROM execution_nodes
		WHERE execution_id = $1 AND node_id = $2
	`
	rec, err := scanNode(s.db.QueryRow(ctx, query, executionID, nodeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get node record: %w", err)
	}
	return rec, nil
}

// ListNodes implements Store.
func (s *PostgresStore) ListNodes(ctx context.Context, executionID string) ([]*NodeRecord, error) {
	query := `
		SELECT execution_id, node_id, state, attempts, COALESCE(last_error, ''),
		       output, metadata, started_at, completed_at
		FROM execution_nodes
		WHERE execution_id = $1
		ORDER BY node_id
	`
	rows, err := s.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node records: %w", err)
	}
	defer rows.Close()

	var out []*NodeRecord
	for rows.Next() {
		rec, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate node records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var global, snapshot []byte
	if err := row.Scan(
		&exec.ID, &exec.FlowID, &exec.UserID, &exec.State, &exec.Error,
		&global, &snapshot, &exec.StartedAt, &exec.CompletedAt,
	); err != nil {
		return nil, err
	}
	if len(global) > 0 {
		if err := json.Unmarshal(global, &exec.GlobalContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal global context: %w", err)
		}
	}
	exec.FlowSnapshot = snapshot
	return &exec, nil
}

func scanNode(row rowScanner) (*NodeRecord, error) {
	var rec NodeRecord
	var output, metadata []byte
	if err := row.Scan(
		&rec.ExecutionID, &rec.NodeID, &rec.State, &rec.Attempts, &rec.LastError,
		&output, &metadata, &rec.StartedAt, &rec.CompletedAt,
	); err != nil {
		return nil, err
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &rec.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node output: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node metadata: %w", err)
		}
	}
	return &rec, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
