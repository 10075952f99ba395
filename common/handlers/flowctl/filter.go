package flowctl

import (
	"context"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Filter partitions a list into items passing and failing a predicate.
// Unknown operators let every item through.
type Filter struct {
	node.Base
}

// NewFilter creates the filter handler.
func NewFilter() *Filter {
	return &Filter{Base: node.Base{Def: node.Definition{
		Type:        "filter",
		DisplayName: "Filter",
		Description: "Keep list items matching a condition, collect the rest as rejected",
		Icon:        "filter",
		Category:    "flow",
		Schema: node.ObjectSchema(map[string]interface{}{
			"itemsField": map[string]interface{}{
				"type":        "string",
				"default":     "items",
				"description": "Dotted path of the list to filter",
			},
			"field": map[string]interface{}{
				"type":        "string",
				"description": "Dotted path inside each item; empty tests the item itself",
			},
			"operator": map[string]interface{}{
				"type":    "string",
				"enum":    operatorEnum(),
				"default": opEquals,
			},
			"value": map[string]interface{}{
				"description": "Value to compare against",
			},
		}),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute applies the predicate per item.
func (h *Filter) Execute(ctx context.Context, nc *node.Context) *node.Result {
	itemsField := nc.ConfigString("itemsField", "items")
	field := nc.ConfigString("field", "")
	operator := nc.ConfigString("operator", opEquals)
	expected := nc.Config["value"]

	items := value.ToList(value.Get(nc.Input, itemsField))

	filtered := make([]interface{}, 0, len(items))
	rejected := make([]interface{}, 0)
	for _, item := range items {
		left := item
		present := true
		if field != "" {
			left = value.Get(item, field)
			present = value.Has(item, field)
		}

		keep, known := evalOperator(operator, left, present, expected)
		if !known {
			keep = true
		}
		if keep {
			filtered = append(filtered, item)
		} else {
			rejected = append(rejected, item)
		}
	}

	return node.Succeed(map[string]interface{}{
		"filtered":      filtered,
		"rejected":      rejected,
		"count":         len(filtered),
		"rejectedCount": len(rejected),
	})
}
