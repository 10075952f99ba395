package engine

import (
	"context"
	"sort"
	"time"

	"github.com/lyzr/flowcore/common/flow"
	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
	"github.com/lyzr/flowcore/common/engine/store"
)

// fanOut runs the downstream region of a loop or split node once per emitted
// envelope. The region extends along followed branches up to (and excluding)
// merge nodes, which join the per-emission results; without a merge boundary
// the region runs to the leaves.
//
// Region nodes record one virtual node per emission ("<nodeId>#<index>") and
// an aggregate record once all emissions settle. Pauses and nested fan-outs
// are not supported inside a region.
func (r *run) fanOut(ctx context.Context, nodeID string, emissions []interface{}, branches []string) {
	if len(emissions) == 0 {
		// Nothing to emit; the whole downstream path skips.
		r.resolveOutbound(nodeID, nil)
		return
	}

	region, merges := r.fanOutRegion(nodeID, branches)
	if len(region) == 0 && len(merges) == 0 {
		r.resolveOutbound(nodeID, branches)
		return
	}

	sub := &fanOutState{
		run:      r,
		loopID:   nodeID,
		region:   region,
		outputs:  make(map[string][]map[string]interface{}),
		present:  make(map[string][]int),
		followed: make(map[string]map[string]bool),
	}
	for i, raw := range emissions {
		envelope, ok := raw.(map[string]interface{})
		if !ok {
			envelope = map[string]interface{}{"item": raw}
		}
		if err := sub.runEmission(ctx, i, envelope); err != nil {
			wrapped := node.AsError(err)
			failure := node.Errf(wrapped.Kind, "emission %d failed: %s", i, wrapped.Summary())
			r.recordFailure(ctx, nodeID, failure, r.outputs[nodeID])
			r.routeFailure(ctx, nodeID, failure)
			r.resolveOutbound(nodeID, nil)
			return
		}
	}

	sub.settleRegion(ctx, len(emissions))
	sub.armMerges(len(emissions), merges)
	r.resolveOutbound(nodeID, branches)
}

// fanOutRegion walks forward from the node's followed branches collecting the
// per-emission region, stopping at merge nodes.
func (r *run) fanOutRegion(nodeID string, branches []string) (region map[string]bool, merges []string) {
	followed := make(map[string]bool, len(branches))
	for _, b := range branches {
		followed[b] = true
	}

	region = make(map[string]bool)
	mergeSet := make(map[string]bool)
	var frontier []string
	for _, e := range r.graph.Outbound[nodeID] {
		if !followed[e.Branch] {
			continue
		}
		frontier = append(frontier, e.Target)
	}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if region[id] || mergeSet[id] {
			continue
		}
		n := r.graph.Nodes[id]
		if n.Type == mergeType {
			mergeSet[id] = true
			continue
		}
		if n.Type == flow.RetryType {
			continue
		}
		region[id] = true
		for _, e := range r.graph.Outbound[id] {
			frontier = append(frontier, e.Target)
		}
	}

	merges = make([]string, 0, len(mergeSet))
	for id := range mergeSet {
		merges = append(merges, id)
	}
	sort.Strings(merges)
	return region, merges
}

// fanOutState carries the accumulating results of one fan-out.
type fanOutState struct {
	run    *run
	loopID string
	region map[string]bool

	// outputs and present collect, per region node, each emission's output
	// and the emission indexes the node actually ran in.
	outputs map[string][]map[string]interface{}
	present map[string][]int
	// followed unions the branches each region node took across emissions.
	followed map[string]map[string]bool

	// emission-local state, reset per runEmission.
	localOut  map[string]map[string]interface{}
	localLive map[string]map[string]bool
}

// runEmission executes the region once for one envelope, sequentially in
// topological order.
func (s *fanOutState) runEmission(ctx context.Context, index int, envelope map[string]interface{}) error {
	r := s.run
	s.localOut = map[string]map[string]interface{}{s.loopID: envelope}
	s.localLive = map[string]map[string]bool{s.loopID: allBranches(r, s.loopID)}

	for _, n := range r.orderedNodes() {
		if !s.region[n.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		input, previous, order, live := s.emissionInput(n.ID)
		if !live {
			// No live path reached this node for this emission.
			continue
		}

		handler, ok := r.e.registry.Get(n.Type)
		if !ok {
			return node.Errf(node.KindInternal, "no handler registered for type %q", n.Type)
		}
		nc := &node.Context{
			ExecutionID:   r.exec.ID,
			FlowID:        r.exec.FlowID,
			UserID:        r.exec.UserID,
			NodeID:        store.VirtualNodeID(n.ID, index),
			NodeType:      n.Type,
			Config:        expandConfig(n.Config, input),
			Input:         input,
			Previous:      previous,
			PreviousOrder: order,
			Global:        value.CloneMap(r.exec.GlobalContext),
		}

		started := time.Now().UTC()
		res := safeExecute(ctx, handler, nc)
		if res.IsPause() {
			res = node.Fail(node.KindInternal, "node %q cannot pause inside a fan-out region", n.ID)
		}
		if res.IsFailure() {
			completedAt := time.Now().UTC()
			r.saveNode(ctx, &store.NodeRecord{
				ExecutionID: r.exec.ID,
				NodeID:      store.VirtualNodeID(n.ID, index),
				State:       store.NodeFailed,
				Attempts:    1,
				LastError:   res.Err.Summary(),
				Output:      res.Output,
				StartedAt:   &started,
				CompletedAt: &completedAt,
			})
			return res.Err
		}

		output := res.Output
		if output == nil {
			output = map[string]interface{}{}
		}
		branches := followedBranches(res)
		completedAt := time.Now().UTC()
		r.saveNode(ctx, &store.NodeRecord{
			ExecutionID: r.exec.ID,
			NodeID:      store.VirtualNodeID(n.ID, index),
			State:       store.NodeSucceeded,
			Attempts:    1,
			Output:      output,
			Metadata:    map[string]interface{}{"branches": toInterfaceList(branches)},
			StartedAt:   &started,
			CompletedAt: &completedAt,
		})

		s.localOut[n.ID] = output
		s.localLive[n.ID] = toSet(branches)
		s.outputs[n.ID] = append(s.outputs[n.ID], output)
		s.present[n.ID] = append(s.present[n.ID], index)
		if s.followed[n.ID] == nil {
			s.followed[n.ID] = map[string]bool{}
		}
		for _, b := range branches {
			s.followed[n.ID][b] = true
		}
	}
	return nil
}

// emissionInput assembles a region node's input from the emission-local
// outputs of its in-region predecessors (the loop node counting as the
// envelope source). Reports live=false when no followed path reached it.
func (s *fanOutState) emissionInput(nodeID string) (map[string]interface{}, map[string]map[string]interface{}, []string, bool) {
	r := s.run
	var sources []string
	seen := make(map[string]bool)
	for _, e := range r.graph.Predecessors(nodeID) {
		out, ran := s.localOut[e.Source]
		if !ran || out == nil {
			continue
		}
		if !s.localLive[e.Source][e.Branch] {
			continue
		}
		if !seen[e.Source] {
			seen[e.Source] = true
			sources = append(sources, e.Source)
		}
	}

	switch len(sources) {
	case 0:
		return nil, nil, nil, false
	case 1:
		return value.CloneMap(s.localOut[sources[0]]), nil, nil, true
	}
	previous := make(map[string]map[string]interface{}, len(sources))
	for _, src := range sources {
		previous[src] = value.CloneMap(s.localOut[src])
	}
	return mergeOutputs(previous, sources), previous, sources, true
}

// settleRegion writes the aggregate record for every region node and settles
// its main-graph state and edges.
func (s *fanOutState) settleRegion(ctx context.Context, emissions int) {
	r := s.run
	for id := range s.region {
		ran := len(s.present[id])
		if ran == 0 {
			r.markSkipped(ctx, id)
			continue
		}
		items := make([]interface{}, 0, ran)
		for _, out := range s.outputs[id] {
			items = append(items, out)
		}
		aggregate := map[string]interface{}{"items": items, "count": ran}
		r.outputs[id] = aggregate
		r.states[id] = store.NodeSucceeded
		now := time.Now().UTC()
		r.saveNode(ctx, &store.NodeRecord{
			ExecutionID: r.exec.ID,
			NodeID:      id,
			State:       store.NodeSucceeded,
			Attempts:    1,
			Output:      aggregate,
			Metadata: map[string]interface{}{
				"fanOut":   emissions,
				"branches": toInterfaceList(setToList(s.followed[id])),
			},
			CompletedAt: &now,
		})
		r.resolveOutbound(id, setToList(s.followed[id]))
	}
}

// armMerges hands each boundary merge the per-emission outputs of its region
// sinks, keyed by virtual node id in emission order.
func (s *fanOutState) armMerges(emissions int, merges []string) {
	r := s.run
	for _, mergeID := range merges {
		previous := make(map[string]map[string]interface{})
		var order []string
		for i := 0; i < emissions; i++ {
			for _, e := range r.graph.Predecessors(mergeID) {
				src := e.Source
				isFanSource := s.region[src] || src == s.loopID
				if !isFanSource {
					continue
				}
				out, ok := s.outputAt(src, i)
				if !ok {
					continue
				}
				key := store.VirtualNodeID(src, i)
				if _, dup := previous[key]; dup {
					continue
				}
				previous[key] = out
				order = append(order, key)
			}
		}
		if len(order) == 0 {
			continue
		}
		r.prevOverride[mergeID] = previous
		r.prevOrder[mergeID] = order
	}
}

// outputAt returns a fan-out source's output for one emission index. The loop
// node itself is not a sink; only region outputs feed merges.
func (s *fanOutState) outputAt(src string, emission int) (map[string]interface{}, bool) {
	for slot, idx := range s.present[src] {
		if idx == emission {
			return s.outputs[src][slot], true
		}
	}
	return nil, false
}

func allBranches(r *run, nodeID string) map[string]bool {
	out := make(map[string]bool)
	for _, b := range r.graph.OutboundBranches(nodeID) {
		out[b] = true
	}
	return out
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}

func setToList(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
