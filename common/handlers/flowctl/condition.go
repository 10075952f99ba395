package flowctl

import (
	"context"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Condition routes the input down exactly one of the true/false branches by
// comparing a field against a configured value. Unknown operators route
// false rather than failing.
type Condition struct {
	node.Base
}

// NewCondition creates the condition handler.
func NewCondition() *Condition {
	return &Condition{Base: node.Base{Def: node.Definition{
		Type:        "condition",
		DisplayName: "Condition",
		Description: "Route the item down the true or false branch based on a comparison",
		Icon:        "git-branch",
		Category:    "flow",
		Schema: node.ObjectSchema(map[string]interface{}{
			"field": map[string]interface{}{
				"type":        "string",
				"description": "Dotted path of the input field to test",
			},
			"operator": map[string]interface{}{
				"type":    "string",
				"enum":    operatorEnum(),
				"default": opEquals,
			},
			"value": map[string]interface{}{
				"description": "Value to compare against",
			},
		}, "field"),
		Interface: node.Ports([]string{"main"}, []string{"true", "false"}),
	}}}
}

// Execute evaluates the comparison and follows exactly one branch.
func (h *Condition) Execute(ctx context.Context, nc *node.Context) *node.Result {
	field := nc.ConfigString("field", "")
	operator := nc.ConfigString("operator", opEquals)
	expected := nc.Config["value"]

	left := value.Get(nc.Input, field)
	present := value.Has(nc.Input, field)

	result, known := evalOperator(operator, left, present, expected)
	if !known {
		result = false
	}

	branch := "false"
	if result {
		branch = "true"
	}
	return node.SucceedBranches(value.CloneMap(nc.Input), branch)
}
