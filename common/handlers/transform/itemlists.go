package transform

import (
	"context"
	"strings"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// ItemLists performs whole-list operations: summarize, limit, concatenate.
type ItemLists struct {
	node.Base
}

// NewItemLists creates the itemLists handler.
func NewItemLists() *ItemLists {
	return &ItemLists{Base: node.Base{Def: node.Definition{
		Type:        "itemLists",
		DisplayName: "Item Lists",
		Description: "Summarize, limit or concatenate a list of items",
		Icon:        "list",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"summarize", "limit", "concatenate"},
			},
			"fieldPath": map[string]interface{}{
				"type":    "string",
				"default": "items",
			},
			"maxItems": map[string]interface{}{
				"type":    "integer",
				"default": 10,
			},
			"separator": map[string]interface{}{
				"type":    "string",
				"default": ", ",
			},
			"itemField": map[string]interface{}{
				"type":        "string",
				"description": "For concatenate over object lists, the field joined per item",
			},
		}, "operation"),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute dispatches on operation.
func (h *ItemLists) Execute(ctx context.Context, nc *node.Context) *node.Result {
	operation := nc.ConfigString("operation", "")
	items := value.ToList(value.Get(nc.Input, nc.ConfigString("fieldPath", "items")))

	switch operation {
	case "summarize":
		return node.Succeed(map[string]interface{}{
			"count": len(items),
			"first": firstOf(items),
			"last":  lastOf(items),
		})
	case "limit":
		maxItems := nc.ConfigInt("maxItems", 10)
		if maxItems < 0 {
			return node.Fail(node.KindValidation, "maxItems must be >= 0, got %d", maxItems)
		}
		if maxItems < len(items) {
			items = items[:maxItems]
		}
		return node.Succeed(map[string]interface{}{
			"items": append([]interface{}{}, items...),
			"count": len(items),
		})
	case "concatenate":
		itemField := nc.ConfigString("itemField", "")
		parts := make([]string, 0, len(items))
		for _, item := range items {
			v := item
			if itemField != "" {
				v = value.Get(item, itemField)
			}
			if v == nil {
				continue
			}
			parts = append(parts, value.ToString(v))
		}
		return node.Succeed(map[string]interface{}{
			"concatenated": strings.Join(parts, nc.ConfigString("separator", ", ")),
			"count":        len(parts),
		})
	default:
		return node.Fail(node.KindValidation, "unknown itemLists operation %q", operation)
	}
}

func firstOf(items []interface{}) interface{} {
	if len(items) == 0 {
		return nil
	}
	return items[0]
}

func lastOf(items []interface{}) interface{} {
	if len(items) == 0 {
		return nil
	}
	return items[len(items)-1]
}

// Limit truncates a list to the first or last N items.
type Limit struct {
	node.Base
}

// NewLimit creates the limit handler.
func NewLimit() *Limit {
	return &Limit{Base: node.Base{Def: node.Definition{
		Type:        "limit",
		DisplayName: "Limit",
		Description: "Keep only the first or last N items of a list",
		Icon:        "scissors",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"fieldPath": map[string]interface{}{
				"type":    "string",
				"default": "items",
			},
			"maxItems": map[string]interface{}{
				"type":    "integer",
				"default": 1,
			},
			"keep": map[string]interface{}{
				"type":    "string",
				"enum":    []interface{}{"first", "last"},
				"default": "first",
			},
		}),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute truncates the list in place in the payload.
func (h *Limit) Execute(ctx context.Context, nc *node.Context) *node.Result {
	fieldPath := nc.ConfigString("fieldPath", "items")
	maxItems := nc.ConfigInt("maxItems", 1)
	if maxItems < 0 {
		return node.Fail(node.KindValidation, "maxItems must be >= 0, got %d", maxItems)
	}

	items := value.ToList(value.Get(nc.Input, fieldPath))
	if maxItems < len(items) {
		if nc.ConfigString("keep", "first") == "last" {
			items = items[len(items)-maxItems:]
		} else {
			items = items[:maxItems]
		}
	}

	out := value.CloneMap(nc.Input)
	value.Set(out, fieldPath, append([]interface{}{}, items...))
	return node.Succeed(out)
}

// Aggregate computes count, sum, min, max or avg over a numeric field of a
// list of items.
type Aggregate struct {
	node.Base
}

// NewAggregate creates the aggregate handler.
func NewAggregate() *Aggregate {
	return &Aggregate{Base: node.Base{Def: node.Definition{
		Type:        "aggregate",
		DisplayName: "Aggregate",
		Description: "Compute count, sum, min, max or average over a list field",
		Icon:        "sigma",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"count", "sum", "min", "max", "avg"},
			},
			"fieldPath": map[string]interface{}{
				"type":    "string",
				"default": "items",
			},
			"itemField": map[string]interface{}{
				"type":        "string",
				"description": "Field aggregated per item; empty aggregates the items themselves",
			},
			"outputField": map[string]interface{}{
				"type":    "string",
				"default": "result",
			},
		}, "operation"),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute aggregates, skipping items that do not coerce to numbers.
func (h *Aggregate) Execute(ctx context.Context, nc *node.Context) *node.Result {
	operation := nc.ConfigString("operation", "")
	itemField := nc.ConfigString("itemField", "")
	items := value.ToList(value.Get(nc.Input, nc.ConfigString("fieldPath", "items")))

	if operation == "count" {
		out := value.CloneMap(nc.Input)
		out[nc.ConfigString("outputField", "result")] = len(items)
		return node.Succeed(out)
	}

	var nums []float64
	for _, item := range items {
		v := item
		if itemField != "" {
			v = value.Get(item, itemField)
		}
		if f, ok := value.ToFloat(v); ok {
			nums = append(nums, f)
		}
	}

	var result interface{}
	switch operation {
	case "sum":
		result = sum(nums)
	case "avg":
		if len(nums) == 0 {
			result = nil
		} else {
			result = sum(nums) / float64(len(nums))
		}
	case "min":
		result = extremum(nums, func(a, b float64) bool { return a < b })
	case "max":
		result = extremum(nums, func(a, b float64) bool { return a > b })
	default:
		return node.Fail(node.KindValidation, "unknown aggregate operation %q", operation)
	}

	out := value.CloneMap(nc.Input)
	out[nc.ConfigString("outputField", "result")] = result
	return node.Succeed(out)
}

func sum(nums []float64) float64 {
	var total float64
	for _, n := range nums {
		total += n
	}
	return total
}

func extremum(nums []float64, better func(a, b float64) bool) interface{} {
	if len(nums) == 0 {
		return nil
	}
	best := nums[0]
	for _, n := range nums[1:] {
		if better(n, best) {
			best = n
		}
	}
	return best
}
