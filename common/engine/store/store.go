// Package store persists executions and their per-node records. The engine
// checkpoints every node transition here so paused executions can resume
// after a process restart.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Execution states.
const (
	ExecPending   = "pending"
	ExecRunning   = "running"
	ExecPaused    = "paused"
	ExecCompleted = "completed"
	ExecFailed    = "failed"
	ExecCancelled = "cancelled"
)

// Node states.
const (
	NodePending   = "pending"
	NodeReady     = "ready"
	NodeRunning   = "running"
	NodeSucceeded = "succeeded"
	NodeFailed    = "failed"
	NodePaused    = "paused"
	NodeSkipped   = "skipped"
	NodeCancelled = "cancelled"
)

// VirtualSeparator joins a node id and a fan-out emission index into the
// virtual node id of one emission instance.
const VirtualSeparator = "#"

// VirtualNodeID builds the record id of one fan-out emission instance.
func VirtualNodeID(nodeID string, emission int) string {
	return fmt.Sprintf("%s%s%d", nodeID, VirtualSeparator, emission)
}

// ErrNotFound is returned when an execution or node record is absent.
var ErrNotFound = errors.New("execution not found")

// terminalExecStates never transition again.
var terminalExecStates = map[string]bool{
	ExecCompleted: true,
	ExecFailed:    true,
	ExecCancelled: true,
}

// IsTerminal reports whether an execution state is final.
func IsTerminal(state string) bool {
	return terminalExecStates[state]
}

// Execution is one runtime instance of a flow. FlowSnapshot holds the flow
// definition JSON as it was at start time, so resumes see the same graph
// even if the flow was edited since.
type Execution struct {
	ID            string                 `json:"execution_id"`
	FlowID        string                 `json:"flow_id"`
	UserID        string                 `json:"user_id"`
	State         string                 `json:"state"`
	Error         string                 `json:"error,omitempty"`
	GlobalContext map[string]interface{} `json:"global_context,omitempty"`
	FlowSnapshot  []byte                 `json:"-"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

// NodeRecord is the durable state of one node within an execution. Fan-out
// instances carry a virtual node id of the form "<nodeId>#<index>".
type NodeRecord struct {
	ExecutionID string                 `json:"execution_id"`
	NodeID      string                 `json:"node_id"`
	State       string                 `json:"state"`
	Attempts    int                    `json:"attempts"`
	LastError   string                 `json:"last_error,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Store is the execution persistence contract.
type Store interface {
	// CreateExecution writes a new execution in its initial state.
	CreateExecution(ctx context.Context, exec *Execution) error
	// GetExecution loads an execution; ErrNotFound when absent.
	GetExecution(ctx context.Context, executionID string) (*Execution, error)
	// UpdateExecution persists state, error, global context and completion
	// time. Terminal states are immutable; updating one is an error.
	UpdateExecution(ctx context.Context, exec *Execution) error
	// ListExecutions returns a user's executions, newest first.
	ListExecutions(ctx context.Context, userID string, limit int) ([]*Execution, error)

	// SaveNode upserts a node record.
	SaveNode(ctx context.Context, rec *NodeRecord) error
	// GetNode loads one node record; ErrNotFound when absent.
	GetNode(ctx context.Context, executionID, nodeID string) (*NodeRecord, error)
	// ListNodes returns all node records of an execution ordered by node id.
	ListNodes(ctx context.Context, executionID string) ([]*NodeRecord, error)
}
