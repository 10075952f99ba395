package flow

import (
	"strings"
	"testing"
)

type stubTypes struct {
	triggers map[string]bool
	unknown  map[string]bool
}

func (s *stubTypes) Known(t string) bool {
	return !s.unknown[t]
}

func (s *stubTypes) IsTrigger(t string) bool {
	return s.triggers[t]
}

func lookup() *stubTypes {
	return &stubTypes{
		triggers: map[string]bool{"manualTrigger": true},
		unknown:  map[string]bool{},
	}
}

func simpleFlow() *Flow {
	return &Flow{
		ID: "f1",
		Nodes: []*Node{
			{ID: "start", Type: "manualTrigger"},
			{ID: "cond", Type: "condition"},
			{ID: "yes", Type: "noOp"},
			{ID: "no", Type: "noOp"},
		},
		Edges: []*Edge{
			{Source: "start", Target: "cond"},
			{Source: "cond", Branch: "true", Target: "yes"},
			{Source: "cond", Branch: "false", Target: "no"},
		},
	}
}

func TestCompileSimpleFlow(t *testing.T) {
	g, err := Compile(simpleFlow(), lookup())
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	if len(g.Entries) != 1 || g.Entries[0] != "start" {
		t.Errorf("entries: %v", g.Entries)
	}
	if len(g.Triggers) != 1 || g.Triggers[0] != "start" {
		t.Errorf("triggers: %v", g.Triggers)
	}
	if g.TopoIndex["start"] != 0 {
		t.Errorf("start must be first, topo: %v", g.TopoIndex)
	}
	if g.TopoIndex["cond"] >= g.TopoIndex["yes"] {
		t.Error("cond must precede yes")
	}

	// Default branch and port normalisation.
	if g.Outbound["start"][0].Branch != DefaultBranch {
		t.Errorf("branch not defaulted: %v", g.Outbound["start"][0])
	}
	if g.Outbound["start"][0].TargetPort != DefaultPort {
		t.Errorf("port not defaulted: %v", g.Outbound["start"][0])
	}

	branches := g.OutboundBranches("cond")
	if len(branches) != 2 {
		t.Errorf("cond branches: %v", branches)
	}
}

func TestCompileValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *Flow)
		wantErr string
	}{
		{
			"duplicate node id",
			func(f *Flow) { f.Nodes = append(f.Nodes, &Node{ID: "cond", Type: "noOp"}) },
			"duplicate node id",
		},
		{
			"unknown type",
			func(f *Flow) { f.Nodes[1].Type = "mystery" },
			"unknown type",
		},
		{
			"edge to missing node",
			func(f *Flow) { f.Edges = append(f.Edges, &Edge{Source: "yes", Target: "ghost"}) },
			"unknown target node",
		},
		{
			"edge from missing node",
			func(f *Flow) { f.Edges = append(f.Edges, &Edge{Source: "ghost", Target: "yes"}) },
			"unknown source node",
		},
		{
			"duplicate branch edge",
			func(f *Flow) { f.Edges = append(f.Edges, &Edge{Source: "cond", Branch: "true", Target: "no"}) },
			"more than one edge for branch",
		},
		{
			"trigger with inbound edge",
			func(f *Flow) {
				f.Nodes = append(f.Nodes, &Node{ID: "t2", Type: "manualTrigger"})
				f.Edges = append(f.Edges, &Edge{Source: "yes", Target: "t2"})
			},
			"cannot have inbound edges",
		},
		{
			"cycle",
			func(f *Flow) { f.Edges = append(f.Edges, &Edge{Source: "yes", Target: "cond", Branch: "loop"}) },
			"cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := simpleFlow()
			tt.mutate(f)
			_, err := Compile(f, lookup())
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCompileEmptyFlow(t *testing.T) {
	if _, err := Compile(&Flow{}, lookup()); err == nil {
		t.Fatal("expected empty flow to fail")
	}
}

func TestRetryBackEdgeIsNotACycle(t *testing.T) {
	f := &Flow{
		ID: "retry-flow",
		Nodes: []*Node{
			{ID: "start", Type: "manualTrigger"},
			{ID: "work", Type: "httpRequest"},
			{ID: "again", Type: "retry"},
		},
		Edges: []*Edge{
			{Source: "start", Target: "work"},
			{Source: "work", Branch: "error", Target: "again"},
			{Source: "again", Target: "work"}, // back-pointer
		},
	}

	g, err := Compile(f, lookup())
	if err != nil {
		t.Fatalf("retry back-edge must not count as a cycle: %v", err)
	}

	if targets := g.RetryTargets("again"); len(targets) != 1 || targets[0] != "work" {
		t.Errorf("retry targets: %v", targets)
	}
	retry, ok := g.RetrySuccessor("work")
	if !ok || retry != "again" {
		t.Errorf("retry successor of work: %v %v", retry, ok)
	}
	// The back edge is excluded from forward indexes.
	if len(g.Inbound["work"]) != 1 {
		t.Errorf("work inbound must only hold the trigger edge: %v", g.Inbound["work"])
	}
}

func TestPredecessorsOrderedTopologically(t *testing.T) {
	f := &Flow{
		ID: "merge-flow",
		Nodes: []*Node{
			{ID: "t", Type: "manualTrigger"},
			{ID: "a", Type: "noOp"},
			{ID: "b", Type: "noOp"},
			{ID: "m", Type: "merge"},
		},
		Edges: []*Edge{
			{Source: "t", Branch: "out", Target: "a"},
			{Source: "t", Branch: "alt", Target: "b"},
			{Source: "b", Target: "m", TargetPort: "second"},
			{Source: "a", Target: "m", TargetPort: "first"},
		},
	}
	g, err := Compile(f, lookup())
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	preds := g.Predecessors("m")
	if len(preds) != 2 {
		t.Fatalf("expected 2 predecessors, got %v", preds)
	}
	if g.TopoIndex[preds[0].Source] > g.TopoIndex[preds[1].Source] {
		t.Error("predecessors not in topological order")
	}
}

func TestParseMarshalRoundtrip(t *testing.T) {
	f := simpleFlow()
	raw, err := f.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ID != f.ID || len(parsed.Nodes) != len(f.Nodes) || len(parsed.Edges) != len(f.Edges) {
		t.Errorf("roundtrip mismatch: %+v", parsed)
	}
}
