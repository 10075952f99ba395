// Package hitl tracks human-in-the-loop interactions: approval requests and
// form submissions that suspend an execution until a person responds.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Approval status values. An approval is created pending and moves to exactly
// one terminal status.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusSubmitted = "submitted"
	StatusCancelled = "cancelled"
)

// Interaction kinds.
const (
	KindApproval = "approval"
	KindForm     = "form"
)

var (
	// ErrNotFound is returned when no approval exists for the given key.
	ErrNotFound = errors.New("hitl: approval not found")

	// ErrDecided is returned by Decide when the approval already reached a
	// terminal status. The existing record is returned alongside it.
	ErrDecided = errors.New("hitl: approval already decided")
)

// Approval is one pending human interaction. The (execution_id, node_id) pair
// identifies it; Token is an opaque handle safe to embed in external URLs.
type Approval struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"execution_id"`
	NodeID      string                 `json:"node_id"`
	Kind        string                 `json:"kind"`
	Status      string                 `json:"status"`
	Token       string                 `json:"token,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Response    map[string]interface{} `json:"response,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	DecidedAt   *time.Time             `json:"decided_at,omitempty"`
}

// Store persists approvals. Implementations must make CreatePending
// idempotent per (execution_id, node_id) and Decide a one-way transition
// out of pending.
type Store interface {
	// CreatePending records a new pending approval. Returns false without
	// error when one already exists for the same execution and node.
	CreatePending(ctx context.Context, a *Approval) (bool, error)

	// Get loads the approval for an execution node.
	Get(ctx context.Context, executionID, nodeID string) (*Approval, error)

	// GetByToken resolves an external token to its approval.
	GetByToken(ctx context.Context, token string) (*Approval, error)

	// Decide moves a pending approval to a terminal status and attaches the
	// human response. Returns the existing record with ErrDecided when the
	// approval is no longer pending.
	Decide(ctx context.Context, executionID, nodeID, status string, response map[string]interface{}) (*Approval, error)

	// PendingCount reports how many approvals are still pending for an
	// execution.
	PendingCount(ctx context.Context, executionID string) (int64, error)

	// ListByExecution returns every approval recorded for an execution,
	// oldest first.
	ListByExecution(ctx context.Context, executionID string) ([]*Approval, error)

	// DeleteByExecution removes all approvals for an execution.
	DeleteByExecution(ctx context.Context, executionID string) error
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// terminal statuses Decide accepts.
func validDecision(status string) error {
	switch status {
	case StatusApproved, StatusRejected, StatusSubmitted, StatusCancelled:
		return nil
	default:
		return fmt.Errorf("hitl: invalid decision status %q", status)
	}
}

func validateNew(a *Approval) error {
	if a == nil {
		return errors.New("hitl: approval is nil")
	}
	if a.ExecutionID == "" || a.NodeID == "" {
		return errors.New("hitl: approval requires execution_id and node_id")
	}
	if a.Kind != KindApproval && a.Kind != KindForm {
		return fmt.Errorf("hitl: unknown approval kind %q", a.Kind)
	}
	return nil
}
