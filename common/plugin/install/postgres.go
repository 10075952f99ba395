package install

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/flowcore/common/db"
)

// PostgresStore persists install tasks in postgres so installs survive
// process restarts.
type PostgresStore struct {
	db *db.DB
}

// NewPostgresStore creates a postgres-backed install store.
func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

// EnsureSchema creates the install table; used as a bootstrap init hook.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS install_tasks (
			task_id       TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			image         TEXT NOT NULL,
			tag           TEXT NOT NULL DEFAULT '',
			manifest      JSONB NOT NULL DEFAULT '{}'::jsonb,
			status        TEXT NOT NULL,
			current_stage TEXT NOT NULL DEFAULT '',
			progress      INT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			container_id  TEXT NOT NULL DEFAULT '',
			endpoint      TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_install_tasks_user
			ON install_tasks (user_id, created_at DESC);
	`
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create install_tasks schema: %w", err)
	}
	return nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, t *Task) error {
	manifest, err := json.Marshal(t.Manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal plugin manifest: %w", err)
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO install_tasks
			(task_id, user_id, image, tag, manifest, status, current_stage,
			 progress, error_message, container_id, endpoint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (task_id) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query,
		t.ID, t.UserID, t.Image, t.Tag, manifest, t.Status, t.CurrentStage,
		clampProgress(t.Progress), t.ErrorMessage, t.ContainerID, t.Endpoint, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert install task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Task, error) {
	query := taskSelect + ` WHERE task_id = $1`
	t, err := scanTask(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get install task: %w", err)
	}
	return t, nil
}

// Update implements Store. The guarded UPDATE enforces the state machine
// in one round trip; a miss is then diagnosed with a follow-up read.
func (s *PostgresStore) Update(ctx context.Context, t *Task) error {
	manifest, err := json.Marshal(t.Manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal plugin manifest: %w", err)
	}

	query := `
		UPDATE install_tasks
		SET image = $2, tag = $3, manifest = $4, status = $5, current_stage = $6,
		    progress = $7, error_message = $8, container_id = $9, endpoint = $10,
		    updated_at = now()
		WHERE task_id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled')
		  AND progress <= $7
	`
	tag, err := s.db.Exec(ctx, query,
		t.ID, t.Image, t.Tag, manifest, t.Status, t.CurrentStage,
		clampProgress(t.Progress), t.ErrorMessage, t.ContainerID, t.Endpoint,
	)
	if err != nil {
		return fmt.Errorf("failed to update install task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	cur, err := s.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	if cur.Status.Terminal() {
		return ErrTerminal
	}
	return ErrProgressRegression
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, userID string, activeOnly bool) ([]*Task, error) {
	query := taskSelect + ` WHERE user_id = $1`
	if activeOnly {
		query += ` AND status NOT IN ('completed', 'failed', 'cancelled')`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list install tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan install task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate install tasks: %w", err)
	}
	return out, nil
}

const taskSelect = `
	SELECT task_id, user_id, image, tag, manifest, status, current_stage,
	       progress, error_message, container_id, endpoint, created_at, updated_at
	FROM install_tasks
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var manifest []byte
	if err := row.Scan(
		&t.ID, &t.UserID, &t.Image, &t.Tag, &manifest, &t.Status, &t.CurrentStage,
		&t.Progress, &t.ErrorMessage, &t.ContainerID, &t.Endpoint, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(manifest) > 0 {
		if err := json.Unmarshal(manifest, &t.Manifest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plugin manifest: %w", err)
		}
	}
	return &t, nil
}
