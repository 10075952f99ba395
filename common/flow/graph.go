package flow

import (
	"fmt"
	"sort"
)

// TypeLookup answers type-level questions during compilation; the node
// registry implements it.
type TypeLookup interface {
	Known(nodeType string) bool
	IsTrigger(nodeType string) bool
}

// RetryType nodes loop a failing node's output back upstream. Their outbound
// edges are back-pointers: excluded from dependency ordering and from cycle
// detection so the scheduled graph stays a DAG.
const RetryType = "retry"

// Graph is a compiled, validated flow ready for scheduling.
type Graph struct {
	Flow  *Flow
	Nodes map[string]*Node

	// Outbound and Inbound hold forward edges only.
	Outbound map[string][]*Edge
	Inbound  map[string][]*Edge

	// BackEdges are retry back-pointers keyed by the retry node ID.
	BackEdges map[string][]*Edge

	// TopoIndex orders nodes topologically over forward edges; used for
	// last-writer-wins input merging and deterministic dispatch.
	TopoIndex map[string]int

	// Entries are nodes with no forward inbound edges.
	Entries []string

	// Triggers are the entry nodes whose type is a trigger.
	Triggers []string
}

// Compile validates a flow definition against the registered types and builds
// the scheduling indexes. Returned errors describe the first violation found.
func Compile(f *Flow, types TypeLookup) (*Graph, error) {
	if f == nil || len(f.Nodes) == 0 {
		return nil, fmt.Errorf("flow has no nodes")
	}

	g := &Graph{
		Flow:      f,
		Nodes:     make(map[string]*Node, len(f.Nodes)),
		Outbound:  make(map[string][]*Edge),
		Inbound:   make(map[string][]*Edge),
		BackEdges: make(map[string][]*Edge),
		TopoIndex: make(map[string]int, len(f.Nodes)),
	}

	for _, n := range f.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("flow contains a node with empty id")
		}
		if _, dup := g.Nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		if !types.Known(n.Type) {
			return nil, fmt.Errorf("node %q has unknown type %q", n.ID, n.Type)
		}
		g.Nodes[n.ID] = n
	}

	seenBranch := make(map[string]bool)
	for _, e := range f.Edges {
		if e.Branch == "" {
			e.Branch = DefaultBranch
		}
		if e.TargetPort == "" {
			e.TargetPort = DefaultPort
		}
		src, ok := g.Nodes[e.Source]
		if !ok {
			return nil, fmt.Errorf("edge references unknown source node %q", e.Source)
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			return nil, fmt.Errorf("edge references unknown target node %q", e.Target)
		}
		key := e.Source + "\x00" + e.Branch
		if seenBranch[key] {
			return nil, fmt.Errorf("node %q has more than one edge for branch %q", e.Source, e.Branch)
		}
		seenBranch[key] = true

		if src.Type == RetryType {
			g.BackEdges[e.Source] = append(g.BackEdges[e.Source], e)
			continue
		}
		g.Outbound[e.Source] = append(g.Outbound[e.Source], e)
		g.Inbound[e.Target] = append(g.Inbound[e.Target], e)
	}

	for _, n := range f.Nodes {
		if len(g.Inbound[n.ID]) == 0 {
			g.Entries = append(g.Entries, n.ID)
			if types.IsTrigger(n.Type) {
				g.Triggers = append(g.Triggers, n.ID)
			}
			continue
		}
		if types.IsTrigger(n.Type) {
			return nil, fmt.Errorf("trigger node %q cannot have inbound edges", n.ID)
		}
	}
	if len(g.Entries) == 0 {
		return nil, fmt.Errorf("flow has no entry nodes")
	}

	if err := g.buildTopoIndex(); err != nil {
		return nil, err
	}
	return g, nil
}

// buildTopoIndex runs Kahn's algorithm over forward edges. A leftover node
// means a cycle not explained by retry back-pointers.
func (g *Graph) buildTopoIndex() error {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = len(g.Inbound[id])
	}

	// Seed in declaration order for deterministic indexes.
	var queue []string
	for _, n := range g.Flow.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	idx := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		g.TopoIndex[id] = idx
		idx++
		for _, e := range g.Outbound[id] {
			indegree[e.Target]--
			if indegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	if idx != len(g.Nodes) {
		var stuck []string
		for id := range g.Nodes {
			if _, done := g.TopoIndex[id]; !done {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return fmt.Errorf("flow contains a cycle through nodes %v", stuck)
	}
	return nil
}

// Predecessors returns the forward-edge predecessors of a node ordered by
// topological index, the order input merging resolves key collisions in.
func (g *Graph) Predecessors(nodeID string) []*Edge {
	edges := append([]*Edge(nil), g.Inbound[nodeID]...)
	sort.SliceStable(edges, func(i, j int) bool {
		return g.TopoIndex[edges[i].Source] < g.TopoIndex[edges[j].Source]
	})
	return edges
}

// OutboundBranches returns the distinct branch labels leaving a node.
func (g *Graph) OutboundBranches(nodeID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.Outbound[nodeID] {
		if !seen[e.Branch] {
			seen[e.Branch] = true
			out = append(out, e.Branch)
		}
	}
	return out
}

// RetryTargets returns the back-pointer targets of a retry node.
func (g *Graph) RetryTargets(retryNodeID string) []string {
	var out []string
	for _, e := range g.BackEdges[retryNodeID] {
		out = append(out, e.Target)
	}
	return out
}

// RetrySuccessor finds a retry node attached downstream of the given node,
// if any. The engine feeds failures to it instead of terminating.
func (g *Graph) RetrySuccessor(nodeID string) (string, bool) {
	for _, e := range g.Outbound[nodeID] {
		if tgt, ok := g.Nodes[e.Target]; ok && tgt.Type == RetryType {
			return e.Target, true
		}
	}
	return "", false
}

// NodesOfType lists node IDs with the given type in declaration order.
func (g *Graph) NodesOfType(nodeType string) []string {
	var out []string
	for _, n := range g.Flow.Nodes {
		if n.Type == nodeType {
			out = append(out, n.ID)
		}
	}
	return out
}
