package flowctl

import (
	"context"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Switch routes the input down the first rule whose value matches the tested
// field, falling back to a default branch when nothing matches.
type Switch struct {
	node.Base
}

// NewSwitch creates the switch handler.
func NewSwitch() *Switch {
	return &Switch{Base: node.Base{Def: node.Definition{
		Type:        "switch",
		DisplayName: "Switch",
		Description: "Route the item down one of several branches by matching a field value",
		Icon:        "shuffle",
		Category:    "flow",
		Schema: node.ObjectSchema(map[string]interface{}{
			"field": map[string]interface{}{
				"type":        "string",
				"description": "Dotted path of the input field to match",
			},
			"rules": map[string]interface{}{
				"type":        "array",
				"description": "Ordered rules of {value, branch}; first match wins",
			},
			"defaultBranch": map[string]interface{}{
				"type":    "string",
				"default": "default",
			},
		}, "field"),
		Interface: node.Ports([]string{"main"}, []string{"default"}),
	}}}
}

// Execute matches the field against the rules in order.
func (h *Switch) Execute(ctx context.Context, nc *node.Context) *node.Result {
	field := nc.ConfigString("field", "")
	left := value.Get(nc.Input, field)

	branch := nc.ConfigString("defaultBranch", "default")
	for _, raw := range nc.ConfigList("rules") {
		rule, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if value.Equals(left, rule["value"]) {
			if name := value.ToString(rule["branch"]); name != "" {
				branch = name
			}
			break
		}
	}
	return node.SucceedBranches(value.CloneMap(nc.Input), branch)
}
