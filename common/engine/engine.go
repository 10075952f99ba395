// Package engine evaluates flow graphs: it walks the compiled graph in
// dependency order, assembles node inputs from predecessor outputs, dispatches
// handlers through the registry, routes branches, fans out loop emissions,
// honours retry back-off, and suspends durably on pause results.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lyzr/flowcore/common/events"
	"github.com/lyzr/flowcore/common/flow"
	"github.com/lyzr/flowcore/common/journal"
	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/engine/store"
)

// Logger is the logging surface the engine depends on.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// nopLogger keeps the engine usable without a configured logger.
type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// Metrics receives engine observations; the telemetry package implements it.
type Metrics interface {
	NodeFinished(nodeType, state string, seconds float64)
	ExecutionFinished(state string)
}

// Options tune one engine instance.
type Options struct {
	// Parallelism caps concurrently running nodes per execution. Zero means 4.
	Parallelism int
	// DefaultTimeout bounds an execution when the start request carries none.
	// Zero means no deadline.
	DefaultTimeout time.Duration
	// DispatchRPS paces node dispatch across all executions. Zero disables.
	DispatchRPS float64
}

// StartRequest describes one run to start.
type StartRequest struct {
	// ExecutionID pre-assigns the execution's id so callers running Start in
	// a goroutine can hand it out immediately. Empty generates one.
	ExecutionID string
	FlowID      string
	UserID      string
	Payload     map[string]interface{}
	Timeout     time.Duration
}

// Engine schedules executions. Safe for concurrent use; each Run owns its
// per-execution state.
type Engine struct {
	registry *node.Registry
	store    store.Store
	journal  journal.Store
	events   events.Publisher
	log      Logger
	metrics  Metrics
	opts     Options
	pacer    *rate.Limiter

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates an engine. Publisher and metrics may be nil.
func New(registry *node.Registry, st store.Store, jr journal.Store, pub events.Publisher, log Logger, opts Options) *Engine {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if log == nil {
		log = nopLogger{}
	}
	var pacer *rate.Limiter
	if opts.DispatchRPS > 0 {
		pacer = rate.NewLimiter(rate.Limit(opts.DispatchRPS), 1)
	}
	return &Engine{
		registry: registry,
		store:    st,
		journal:  jr,
		events:   pub,
		log:      log,
		opts:     opts,
		pacer:    pacer,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SetMetrics attaches a metrics sink; call before the first Run.
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// Start runs a flow to its first settlement: completion, failure or pause.
// Synchronous; callers wanting fire-and-forget run it in a goroutine.
func (e *Engine) Start(ctx context.Context, f *flow.Flow, req StartRequest) (*store.Execution, error) {
	g, err := flow.Compile(f, e.registry)
	if err != nil {
		return nil, fmt.Errorf("flow rejected: %w", err)
	}

	snapshot, err := f.Marshal()
	if err != nil {
		return nil, err
	}
	exec := &store.Execution{
		ID:            firstNonEmpty(req.ExecutionID, uuid.NewString()),
		FlowID:        firstNonEmpty(req.FlowID, f.ID),
		UserID:        req.UserID,
		State:         store.ExecRunning,
		GlobalContext: map[string]interface{}{},
		FlowSnapshot:  snapshot,
		StartedAt:     time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	e.emit(ctx, exec, events.TypeExecutionStarted, "", map[string]interface{}{"flow_id": exec.FlowID})

	r := newRun(e, exec, g)
	r.seedTriggers(req.Payload)
	return e.drive(ctx, r, req.Timeout)
}

// Resume re-enters a paused node with the given resume data and drives the
// execution onward.
func (e *Engine) Resume(ctx context.Context, executionID, nodeID string, resumeData map[string]interface{}) (*store.Execution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if store.IsTerminal(exec.State) {
		return nil, fmt.Errorf("execution %q is %s and cannot resume", executionID, exec.State)
	}
	if _, err := e.journal.Get(ctx, executionID, nodeID); err != nil {
		return nil, fmt.Errorf("node %q is not paused: %w", nodeID, err)
	}

	f, err := flow.Parse(exec.FlowSnapshot)
	if err != nil {
		return nil, fmt.Errorf("stored flow snapshot is unreadable: %w", err)
	}
	g, err := flow.Compile(f, e.registry)
	if err != nil {
		return nil, fmt.Errorf("stored flow no longer compiles: %w", err)
	}

	records, err := e.store.ListNodes(ctx, executionID)
	if err != nil {
		return nil, err
	}

	r := newRun(e, exec, g)
	if err := r.restore(records); err != nil {
		return nil, err
	}
	if err := r.prepareResume(ctx, nodeID, resumeData); err != nil {
		return nil, err
	}

	exec.State = store.ExecRunning
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	e.emit(ctx, exec, events.TypeExecutionResumed, nodeID, nil)
	return e.drive(ctx, r, 0)
}

// Cancel stops an execution. In-process runs receive the cancellation
// signal; paused executions are settled directly.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	cancel, running := e.cancels[executionID]
	e.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if store.IsTerminal(exec.State) {
		return fmt.Errorf("execution %q is already %s", executionID, exec.State)
	}
	now := time.Now().UTC()
	exec.State = store.ExecCancelled
	exec.CompletedAt = &now
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	if err := e.journal.DeleteByExecution(ctx, executionID); err != nil {
		e.log.Warn("failed to clear pause records on cancel", "execution_id", executionID, "error", err)
	}
	e.emit(ctx, exec, events.TypeExecutionCancelled, "", nil)
	if e.metrics != nil {
		e.metrics.ExecutionFinished(store.ExecCancelled)
	}
	return nil
}

// Snapshot returns an execution with its node records.
func (e *Engine) Snapshot(ctx context.Context, executionID string) (*store.Execution, []*store.NodeRecord, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	records, err := e.store.ListNodes(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	return exec, records, nil
}

// drive runs the scheduler loop under a cancellable (and, if requested,
// deadlined) context registered for Cancel.
func (e *Engine) drive(ctx context.Context, r *run, timeout time.Duration) (*store.Execution, error) {
	if timeout <= 0 {
		timeout = e.opts.DefaultTimeout
	}
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithDeadline(ctx, time.Now().Add(timeout))
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	e.mu.Lock()
	e.cancels[r.exec.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, r.exec.ID)
		e.mu.Unlock()
	}()

	r.loop(ctx)
	// Final persistence must survive the deadline that ended the run.
	return r.finalize(context.WithoutCancel(ctx))
}

// emit publishes an event, logging but never propagating failures.
func (e *Engine) emit(ctx context.Context, exec *store.Execution, eventType, nodeID string, data map[string]interface{}) {
	err := e.events.Publish(ctx, &events.Event{
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		Type:        eventType,
		NodeID:      nodeID,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	})
	if err != nil && e.log != nil {
		e.log.Warn("event publish failed", "type", eventType, "execution_id", exec.ID, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
