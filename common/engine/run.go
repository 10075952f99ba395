package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lyzr/flowcore/common/events"
	"github.com/lyzr/flowcore/common/flow"
	"github.com/lyzr/flowcore/common/journal"
	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
	"github.com/lyzr/flowcore/common/engine/store"
)

// errorTriggerType nodes stay dormant until a failure is routed to them.
const errorTriggerType = "errorTrigger"

// mergeType nodes bound fan-out regions.
const mergeType = "merge"

// edgeState tracks inbound-edge resolution for skip and readiness decisions.
type edgeState int8

const (
	edgeUnresolved edgeState = 0
	edgeLive       edgeState = 1
	edgeDead       edgeState = -1
)

// completion is one event on the scheduler channel: a handler result, or a
// retry back-off timer firing for a node to re-run.
type completion struct {
	nodeID  string
	result  *node.Result
	started time.Time
	wake    bool
}

// run is the per-execution scheduler state. All fields are owned by the
// single loop goroutine; handler executions happen in worker goroutines that
// only touch the completions channel.
type run struct {
	e     *Engine
	exec  *store.Execution
	graph *flow.Graph
	sem   *semaphore.Weighted

	states   map[string]string
	outputs  map[string]map[string]interface{}
	inputs   map[string]map[string]interface{}
	attempts map[string]int

	// seeds override assembled input for the next dispatch of a node:
	// trigger payloads, retry envelopes, resumed inputs.
	seeds map[string]map[string]interface{}
	// prevOverride replaces assembled predecessor outputs, used to hand a
	// merge node the per-emission outputs of a fan-out region.
	prevOverride map[string]map[string]map[string]interface{}
	prevOrder    map[string][]string
	// dormant nodes are not schedulable until explicitly woken.
	dormant map[string]bool
	// forced nodes dispatch regardless of inbound-edge resolution.
	forced map[string]bool

	edges map[*flow.Edge]edgeState

	completions chan *completion
	inFlight    int

	resumeNode  string
	resumeData  map[string]interface{}
	pausedCount int

	failure     *node.Error
	failedNode  string
	caughtError *node.Error
	caught      bool
	halted      bool
	abortKind   node.Kind
}

func newRun(e *Engine, exec *store.Execution, g *flow.Graph) *run {
	r := &run{
		e:            e,
		exec:         exec,
		graph:        g,
		sem:          semaphore.NewWeighted(int64(e.opts.Parallelism)),
		states:       make(map[string]string, len(g.Nodes)),
		outputs:      make(map[string]map[string]interface{}),
		inputs:       make(map[string]map[string]interface{}),
		attempts:     make(map[string]int),
		seeds:        make(map[string]map[string]interface{}),
		prevOverride: make(map[string]map[string]map[string]interface{}),
		prevOrder:    make(map[string][]string),
		dormant:      make(map[string]bool),
		forced:       make(map[string]bool),
		edges:        make(map[*flow.Edge]edgeState, len(g.Flow.Edges)),
		completions:  make(chan *completion, len(g.Nodes)*4+16),
	}
	for id := range g.Nodes {
		r.states[id] = store.NodePending
	}
	for _, id := range g.NodesOfType(errorTriggerType) {
		if len(g.Inbound[id]) == 0 {
			r.dormant[id] = true
		}
	}
	return r
}

// seedTriggers hands the start payload to the entry nodes. Error triggers
// stay dormant; they only wake when a failure is routed to them.
func (r *run) seedTriggers(payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	for _, id := range r.graph.Entries {
		if r.dormant[id] {
			continue
		}
		r.seeds[id] = value.CloneMap(payload)
	}
}

// restore rebuilds scheduler state from persisted node records so a paused
// execution can continue in a fresh process.
func (r *run) restore(records []*store.NodeRecord) error {
	for _, rec := range records {
		if strings.Contains(rec.NodeID, store.VirtualSeparator) {
			continue
		}
		if _, known := r.graph.Nodes[rec.NodeID]; !known {
			continue
		}
		r.states[rec.NodeID] = rec.State
		r.attempts[rec.NodeID] = rec.Attempts
		switch rec.State {
		case store.NodeSucceeded:
			r.outputs[rec.NodeID] = rec.Output
			r.resolveOutbound(rec.NodeID, branchesFromMetadata(rec.Metadata))
		case store.NodeSkipped:
			r.resolveOutbound(rec.NodeID, nil)
		case store.NodePaused:
			r.pausedCount++
		case store.NodeRunning, store.NodeReady:
			// The process died mid-flight; re-run from scratch.
			r.states[rec.NodeID] = store.NodePending
		}
		if rec.State != store.NodePending {
			delete(r.dormant, rec.NodeID)
		}
	}
	return nil
}

// prepareResume arms the paused node for re-dispatch with the resume payload.
func (r *run) prepareResume(ctx context.Context, nodeID string, resumeData map[string]interface{}) error {
	if r.states[nodeID] != store.NodePaused {
		return fmt.Errorf("node %q is %s, not paused", nodeID, r.states[nodeID])
	}
	rec, err := r.e.store.GetNode(ctx, r.exec.ID, nodeID)
	if err != nil {
		return err
	}
	if input, ok := rec.Metadata["input"].(map[string]interface{}); ok {
		r.seeds[nodeID] = input
	} else {
		r.seeds[nodeID] = map[string]interface{}{}
	}
	if err := r.e.journal.Delete(ctx, r.exec.ID, nodeID); err != nil {
		return fmt.Errorf("failed to clear pause record: %w", err)
	}
	r.states[nodeID] = store.NodePending
	r.forced[nodeID] = true
	r.pausedCount--
	r.resumeNode = nodeID
	if resumeData == nil {
		resumeData = map[string]interface{}{}
	}
	r.resumeData = resumeData
	return nil
}

// loop drives the execution until nothing is running or pending-and-reachable.
func (r *run) loop(ctx context.Context) {
	r.scheduleReady(ctx)
	for r.inFlight > 0 {
		select {
		case c := <-r.completions:
			r.inFlight--
			r.settle(ctx, c)
		case <-ctx.Done():
			r.abort(ctx)
			continue
		}
		if !r.halted {
			r.scheduleReady(ctx)
		}
	}
}

// abort stops new dispatch after context cancellation or deadline; in-flight
// handlers drain through the normal completion path.
func (r *run) abort(ctx context.Context) {
	if r.halted {
		// Nothing more to do; wait for in-flight completions.
		if r.inFlight > 0 {
			c := <-r.completions
			r.inFlight--
			r.settle(ctx, c)
		}
		return
	}
	r.halted = true
	if ctx.Err() == context.DeadlineExceeded {
		r.abortKind = node.KindTimeout
	} else {
		r.abortKind = node.KindCancelled
	}
	if r.failure == nil {
		r.failure = node.Errf(r.abortKind, "execution %s", strings.ToLower(string(r.abortKind)))
	}
}

// scheduleReady dispatches every runnable node, cascading skips until a fixed
// point. Nodes are visited in topological order for determinism.
func (r *run) scheduleReady(ctx context.Context) {
	for {
		progressed := false
		for _, n := range r.orderedNodes() {
			if r.halted {
				return
			}
			if r.states[n.ID] != store.NodePending || r.dormant[n.ID] {
				continue
			}
			live, resolved := r.inboundStatus(n.ID)
			if !r.forced[n.ID] {
				if !resolved {
					continue
				}
				if live == 0 && len(r.graph.Inbound[n.ID]) > 0 {
					r.markSkipped(ctx, n.ID)
					progressed = true
					continue
				}
			}
			if !r.sem.TryAcquire(1) {
				return
			}
			r.dispatch(ctx, n.ID)
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

// orderedNodes returns the flow's nodes sorted by topological index.
func (r *run) orderedNodes() []*flow.Node {
	nodes := append([]*flow.Node(nil), r.graph.Flow.Nodes...)
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && r.graph.TopoIndex[nodes[j-1].ID] > r.graph.TopoIndex[nodes[j].ID]; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
	return nodes
}

// inboundStatus reports live inbound edges and whether all are resolved.
func (r *run) inboundStatus(nodeID string) (live int, resolved bool) {
	resolved = true
	for _, e := range r.graph.Inbound[nodeID] {
		switch r.edges[e] {
		case edgeLive:
			live++
		case edgeUnresolved:
			resolved = false
		}
	}
	return live, resolved
}

// dispatch runs one node's handler in a worker goroutine. The semaphore slot
// is held until the handler returns.
func (r *run) dispatch(ctx context.Context, nodeID string) {
	def := r.graph.Nodes[nodeID]
	handler, ok := r.e.registry.Get(def.Type)
	if !ok {
		r.sem.Release(1)
		failure := node.Errf(node.KindInternal, "no handler registered for type %q", def.Type)
		r.recordFailure(ctx, nodeID, failure, nil)
		r.routeFailure(ctx, nodeID, failure)
		return
	}

	input, previous, order := r.assembleInput(nodeID)
	r.inputs[nodeID] = input
	delete(r.forced, nodeID)

	global := value.CloneMap(r.exec.GlobalContext)
	if nodeID == r.resumeNode {
		global[node.GlobalResumeKey] = r.resumeData
		r.resumeNode = ""
	}

	config := expandConfig(def.Config, input)
	nc := &node.Context{
		ExecutionID:   r.exec.ID,
		FlowID:        r.exec.FlowID,
		UserID:        r.exec.UserID,
		NodeID:        nodeID,
		NodeType:      def.Type,
		Config:        config,
		Input:         input,
		Previous:      previous,
		PreviousOrder: order,
		Global:        global,
	}

	r.attempts[nodeID]++
	r.states[nodeID] = store.NodeRunning
	now := time.Now().UTC()
	r.saveNode(ctx, &store.NodeRecord{
		ExecutionID: r.exec.ID,
		NodeID:      nodeID,
		State:       store.NodeRunning,
		Attempts:    r.attempts[nodeID],
		StartedAt:   &now,
	})
	r.e.emit(ctx, r.exec, events.TypeNodeStarted, nodeID, map[string]interface{}{"node_type": def.Type})

	r.inFlight++
	go func() {
		defer r.sem.Release(1)
		if r.e.pacer != nil {
			if err := r.e.pacer.Wait(ctx); err != nil {
				r.e.log.Debug("dispatch pacing interrupted", "error", err)
			}
		}
		res := safeExecute(ctx, handler, nc)
		r.completions <- &completion{nodeID: nodeID, result: res, started: now}
	}()
}

// safeExecute runs a handler, converting panics and nil results to internal
// failures.
func safeExecute(ctx context.Context, h node.Handler, nc *node.Context) (res *node.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			res = node.Fail(node.KindInternal, "handler %s panicked: %v", nc.NodeType, rec)
		}
	}()
	res = h.Execute(ctx, nc)
	if res == nil {
		res = node.Fail(node.KindInternal, "handler %s returned no result", nc.NodeType)
	}
	return res
}

// settle applies one completion to the scheduler state.
func (r *run) settle(ctx context.Context, c *completion) {
	if c.wake {
		// Retry back-off elapsed; the target was armed with its envelope.
		r.states[c.nodeID] = store.NodePending
		r.forced[c.nodeID] = true
		return
	}

	elapsed := time.Since(c.started).Seconds()
	def := r.graph.Nodes[c.nodeID]
	switch c.result.Kind {
	case node.ResultSuccess:
		r.handleSuccess(ctx, c.nodeID, c.result)
	case node.ResultPause:
		r.handlePause(ctx, c.nodeID, c.result)
	default:
		err := c.result.Err
		if err == nil {
			err = node.Errf(node.KindInternal, "handler %s failed without detail", def.Type)
		}
		r.recordFailure(ctx, c.nodeID, err, c.result.Output)
		r.routeFailure(ctx, c.nodeID, err)
	}
	if r.e.metrics != nil {
		r.e.metrics.NodeFinished(def.Type, r.states[c.nodeID], elapsed)
	}
}

func (r *run) handleSuccess(ctx context.Context, nodeID string, res *node.Result) {
	output := res.Output
	if output == nil {
		output = map[string]interface{}{}
	}
	r.outputs[nodeID] = output
	r.states[nodeID] = store.NodeSucceeded

	branches := followedBranches(res)
	meta := map[string]interface{}{"branches": toInterfaceList(branches)}
	for k, v := range res.Metadata {
		if k != node.MetaFanOut {
			meta[k] = v
		}
	}
	now := time.Now().UTC()
	r.saveNode(ctx, &store.NodeRecord{
		ExecutionID: r.exec.ID,
		NodeID:      nodeID,
		State:       store.NodeSucceeded,
		Attempts:    r.attempts[nodeID],
		Output:      output,
		Metadata:    meta,
		CompletedAt: &now,
	})
	r.e.emit(ctx, r.exec, events.TypeNodeSucceeded, nodeID, map[string]interface{}{"branches": branches})

	if emissions, ok := res.Metadata[node.MetaFanOut].([]interface{}); ok {
		r.fanOut(ctx, nodeID, emissions, branches)
		return
	}

	// A completed retry loop round: wait out the back-off, then re-arm the
	// back-pointer targets with the retried envelope.
	if r.graph.Nodes[nodeID].Type == flow.RetryType {
		if delayMs, ok := value.ToFloat(output["_retryDelay"]); ok {
			r.armRetryTargets(nodeID, output, time.Duration(delayMs)*time.Millisecond)
			return
		}
	}

	r.resolveOutbound(nodeID, branches)
}

// armRetryTargets schedules the back-edge targets of a retry node to re-run
// after the computed delay, seeded with the retry envelope.
func (r *run) armRetryTargets(retryID string, envelope map[string]interface{}, delay time.Duration) {
	targets := r.graph.RetryTargets(retryID)
	if len(targets) == 0 {
		r.e.log.Warn("retry node has no back-pointer target", "node_id", retryID)
		return
	}
	for _, target := range targets {
		target := target
		r.seeds[target] = value.CloneMap(envelope)
		r.inFlight++
		time.AfterFunc(delay, func() {
			r.completions <- &completion{nodeID: target, wake: true}
		})
	}
}

func (r *run) handlePause(ctx context.Context, nodeID string, res *node.Result) {
	req := res.Pause
	if req == nil {
		req = &node.PauseRequest{ResumeKind: journal.KindManual}
	}
	rec := &journal.Record{
		ExecutionID:       r.exec.ID,
		NodeID:            nodeID,
		ResumeKind:        req.ResumeKind,
		ExternalToken:     req.ExternalToken,
		Payload:           req.Hint,
		ScheduledResumeAt: req.ScheduledResumeAt,
		CreatedAt:         time.Now().UTC(),
	}
	if err := r.e.journal.Create(ctx, rec); err != nil && !errors.Is(err, journal.ErrDuplicate) {
		failure := node.WrapErr(node.KindInternal, err, "failed to persist pause record")
		r.recordFailure(ctx, nodeID, failure, nil)
		r.routeFailure(ctx, nodeID, failure)
		return
	}

	r.states[nodeID] = store.NodePaused
	r.pausedCount++
	r.saveNode(ctx, &store.NodeRecord{
		ExecutionID: r.exec.ID,
		NodeID:      nodeID,
		State:       store.NodePaused,
		Attempts:    r.attempts[nodeID],
		Metadata: map[string]interface{}{
			"input":      r.inputs[nodeID],
			"resumeKind": req.ResumeKind,
		},
	})
	r.e.emit(ctx, r.exec, events.TypeNodePaused, nodeID, map[string]interface{}{
		"resume_kind": req.ResumeKind,
		"hint":        req.Hint,
	})
}

// recordFailure persists the failed node record and its event.
func (r *run) recordFailure(ctx context.Context, nodeID string, err *node.Error, partial map[string]interface{}) {
	r.states[nodeID] = store.NodeFailed
	now := time.Now().UTC()
	r.saveNode(ctx, &store.NodeRecord{
		ExecutionID: r.exec.ID,
		NodeID:      nodeID,
		State:       store.NodeFailed,
		Attempts:    r.attempts[nodeID],
		LastError:   err.Summary(),
		Output:      partial,
		CompletedAt: &now,
	})
	r.e.emit(ctx, r.exec, events.TypeNodeFailed, nodeID, map[string]interface{}{
		"kind":    string(err.Kind),
		"message": err.Summary(),
	})
}

// routeFailure decides what a failure does to the rest of the run: loop it to
// a retry successor, divert it to dormant error triggers, or halt.
func (r *run) routeFailure(ctx context.Context, nodeID string, err *node.Error) {
	if retryID, ok := r.graph.RetrySuccessor(nodeID); ok {
		envelope := value.CloneMap(r.inputs[nodeID])
		envelope["_error"] = map[string]interface{}{
			"nodeId":  nodeID,
			"kind":    string(err.Kind),
			"message": err.Summary(),
		}
		r.states[retryID] = store.NodePending
		r.seeds[retryID] = envelope
		r.forced[retryID] = true
		return
	}

	if !r.caught && r.wakeErrorTriggers(nodeID, err) {
		r.caught = true
		r.caughtError = err
		r.failedNode = nodeID
		// The failing path itself goes no further.
		r.resolveOutbound(nodeID, nil)
		return
	}

	if r.failure == nil {
		r.failure = err
		r.failedNode = nodeID
	}
	r.halted = true
}

// wakeErrorTriggers seeds every dormant error trigger with the failure
// envelope. Reports whether any trigger was armed.
func (r *run) wakeErrorTriggers(nodeID string, err *node.Error) bool {
	woke := false
	for _, id := range r.graph.NodesOfType(errorTriggerType) {
		if !r.dormant[id] {
			continue
		}
		delete(r.dormant, id)
		r.seeds[id] = map[string]interface{}{
			"error": map[string]interface{}{
				"nodeId":  nodeID,
				"kind":    string(err.Kind),
				"message": err.Summary(),
			},
		}
		woke = true
	}
	return woke
}

// resolveOutbound marks each forward edge of a node live when its branch was
// followed, dead otherwise. Edges into retry nodes never go live on success;
// retry engages only through failures.
func (r *run) resolveOutbound(nodeID string, branches []string) {
	followed := make(map[string]bool, len(branches))
	for _, b := range branches {
		followed[b] = true
	}
	for _, e := range r.graph.Outbound[nodeID] {
		target := r.graph.Nodes[e.Target]
		if followed[e.Branch] && (target == nil || target.Type != flow.RetryType) {
			r.edges[e] = edgeLive
		} else {
			r.edges[e] = edgeDead
		}
	}
}

// markSkipped settles a node whose every inbound edge died and cascades the
// skip downstream.
func (r *run) markSkipped(ctx context.Context, nodeID string) {
	r.states[nodeID] = store.NodeSkipped
	r.saveNode(ctx, &store.NodeRecord{
		ExecutionID: r.exec.ID,
		NodeID:      nodeID,
		State:       store.NodeSkipped,
	})
	r.e.emit(ctx, r.exec, events.TypeNodeSkipped, nodeID, nil)
	r.resolveOutbound(nodeID, nil)
}

// finalize settles the execution record once the loop drains.
func (r *run) finalize(ctx context.Context) (*store.Execution, error) {
	now := time.Now().UTC()

	// Nodes never reached because the run halted become cancelled; dormant
	// error triggers that never woke are skipped.
	for id, state := range r.states {
		if state != store.NodePending {
			continue
		}
		if r.dormant[id] {
			r.states[id] = store.NodeSkipped
			r.saveNode(ctx, &store.NodeRecord{ExecutionID: r.exec.ID, NodeID: id, State: store.NodeSkipped})
			continue
		}
		if r.halted {
			r.states[id] = store.NodeCancelled
			r.saveNode(ctx, &store.NodeRecord{ExecutionID: r.exec.ID, NodeID: id, State: store.NodeCancelled})
		}
	}

	switch {
	case r.failure != nil && r.abortKind == node.KindCancelled:
		r.exec.State = store.ExecCancelled
		r.exec.Error = r.failure.Summary()
		r.exec.CompletedAt = &now
		if err := r.e.journal.DeleteByExecution(ctx, r.exec.ID); err != nil {
			r.e.log.Warn("failed to clear pause records", "execution_id", r.exec.ID, "error", err)
		}
	case r.failure != nil:
		r.exec.State = store.ExecFailed
		r.exec.Error = r.failure.Summary()
		r.exec.CompletedAt = &now
	case r.pausedCount > 0:
		r.exec.State = store.ExecPaused
	default:
		r.exec.State = store.ExecCompleted
		r.exec.CompletedAt = &now
		if r.caughtError != nil {
			r.exec.Error = r.caughtError.Summary()
		}
	}

	if err := r.e.store.UpdateExecution(ctx, r.exec); err != nil {
		return nil, fmt.Errorf("failed to persist execution state: %w", err)
	}

	switch r.exec.State {
	case store.ExecCompleted:
		r.e.emit(ctx, r.exec, events.TypeExecutionCompleted, "", map[string]interface{}{"caught_error": r.exec.Error})
	case store.ExecFailed:
		r.e.emit(ctx, r.exec, events.TypeExecutionFailed, r.failedNode, map[string]interface{}{"error": r.exec.Error})
	case store.ExecPaused:
		r.e.emit(ctx, r.exec, events.TypeExecutionPaused, "", map[string]interface{}{"paused_nodes": r.pausedCount})
	case store.ExecCancelled:
		r.e.emit(ctx, r.exec, events.TypeExecutionCancelled, "", nil)
	}
	if r.e.metrics != nil && r.exec.State != store.ExecPaused {
		r.e.metrics.ExecutionFinished(r.exec.State)
	}
	return r.exec, nil
}

// saveNode persists a node record, logging store failures without stopping
// the run.
func (r *run) saveNode(ctx context.Context, rec *store.NodeRecord) {
	if err := r.e.store.SaveNode(ctx, rec); err != nil {
		r.e.log.Error("failed to persist node record",
			"execution_id", rec.ExecutionID, "node_id", rec.NodeID, "state", rec.State, "error", err)
	}
}

// followedBranches resolves a success result's routing, defaulting to "out".
func followedBranches(res *node.Result) []string {
	if len(res.Branches) > 0 {
		return res.Branches
	}
	return []string{node.DefaultBranch}
}

func branchesFromMetadata(meta map[string]interface{}) []string {
	raw, _ := meta["branches"].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, value.ToString(v))
	}
	if len(out) == 0 {
		return []string{node.DefaultBranch}
	}
	return out
}

func toInterfaceList(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
