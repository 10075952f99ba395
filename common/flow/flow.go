// Package flow models workflow graph definitions and compiles them into the
// validated, indexed form the engine schedules from.
package flow

import (
	"encoding/json"
	"fmt"
)

// Well-known branch and port names.
const (
	DefaultBranch = "out"
	DefaultPort   = "main"
)

// Position is the editor placement of a node; opaque to the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one vertex in a flow definition. Config is opaque to the engine
// and interpreted by the node's handler.
type Node struct {
	ID       string                 `json:"node_id"`
	Type     string                 `json:"node_type"`
	Config   map[string]interface{} `json:"node_config,omitempty"`
	Position Position               `json:"position,omitempty"`
}

// Edge connects a source branch to a target port. An empty Branch means the
// default branch "out"; an empty TargetPort means "main".
type Edge struct {
	Source     string `json:"source_node_id"`
	Branch     string `json:"source_port_or_branch,omitempty"`
	Target     string `json:"target_node_id"`
	TargetPort string `json:"target_port,omitempty"`
}

// Flow is a persisted workflow graph definition.
type Flow struct {
	ID    string  `json:"flow_id"`
	Name  string  `json:"name,omitempty"`
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Parse decodes a flow definition from JSON.
func Parse(raw []byte) (*Flow, error) {
	var f Flow
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse flow definition: %w", err)
	}
	return &f, nil
}

// Marshal encodes the flow definition for storage snapshots.
func (f *Flow) Marshal() ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow definition: %w", err)
	}
	return raw, nil
}
