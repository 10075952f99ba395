// Package journal persists pause records: the durable suspension state of a
// node waiting on a timer, approval, form or manual resume. Records are keyed
// by (execution id, node id), created when a handler pauses and destroyed on
// resume or cancellation.
package journal

import (
	"context"
	"errors"
	"time"
)

// Resume kinds.
const (
	KindTimer    = "timer"
	KindApproval = "approval"
	KindForm     = "form"
	KindManual   = "manual"
)

var (
	// ErrNotFound is returned when no pause record exists for the key.
	ErrNotFound = errors.New("pause record not found")
	// ErrDuplicate is returned when a record already exists for the key.
	ErrDuplicate = errors.New("pause record already exists")
)

// Record is the stable pause record layout.
type Record struct {
	ExecutionID       string                 `json:"execution_id"`
	NodeID            string                 `json:"node_id"`
	ResumeKind        string                 `json:"resume_kind"`
	ExternalToken     string                 `json:"external_token,omitempty"`
	Payload           map[string]interface{} `json:"payload"`
	ScheduledResumeAt *time.Time             `json:"scheduled_resume_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// Store is the pause journal contract.
type Store interface {
	// Create writes a record; ErrDuplicate when the key is already paused.
	Create(ctx context.Context, rec *Record) error
	// Get fetches a record; ErrNotFound when absent.
	Get(ctx context.Context, executionID, nodeID string) (*Record, error)
	// Delete removes a record; deleting an absent record is not an error.
	Delete(ctx context.Context, executionID, nodeID string) error
	// ListByExecution returns all records of one execution.
	ListByExecution(ctx context.Context, executionID string) ([]*Record, error)
	// ListDue returns up to limit timer records scheduled at or before the
	// given instant, oldest first.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Record, error)
	// DeleteByExecution clears every record of an execution (cancellation).
	DeleteByExecution(ctx context.Context, executionID string) error
}
