// Package events carries execution lifecycle notifications from the engine to
// observers: WebSocket clients, other replicas, and tests.
package events

import (
	"context"
	"fmt"
	"time"
)

// Event types emitted over an execution's lifetime.
const (
	TypeExecutionStarted   = "execution.started"
	TypeExecutionCompleted = "execution.completed"
	TypeExecutionFailed    = "execution.failed"
	TypeExecutionPaused    = "execution.paused"
	TypeExecutionResumed   = "execution.resumed"
	TypeExecutionCancelled = "execution.cancelled"

	TypeNodeStarted   = "node.started"
	TypeNodeSucceeded = "node.succeeded"
	TypeNodeFailed    = "node.failed"
	TypeNodePaused    = "node.paused"
	TypeNodeSkipped   = "node.skipped"

	TypeInstallProgress = "install.progress"
)

// channelPrefix is the Redis pub/sub namespace for execution events.
const channelPrefix = "flow:events:"

// ChannelFor returns the pub/sub channel carrying one execution's events.
func ChannelFor(executionID string) string {
	return channelPrefix + executionID
}

// Event is one lifecycle notification. NodeID is empty for execution-level
// events; Data carries type-specific detail (outputs, error summaries,
// progress).
type Event struct {
	ExecutionID string                 `json:"execution_id"`
	FlowID      string                 `json:"flow_id,omitempty"`
	Type        string                 `json:"type"`
	NodeID      string                 `json:"node_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Publisher delivers events to whoever is listening. Implementations must be
// safe for concurrent use; publish failures are reported but executions never
// block on them.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(ctx context.Context, e *Event) error { return nil }

func stamp(e *Event) error {
	if e == nil {
		return fmt.Errorf("events: event is nil")
	}
	if e.ExecutionID == "" {
		return fmt.Errorf("events: event missing execution_id")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}
