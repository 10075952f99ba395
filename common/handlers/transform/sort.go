package transform

import (
	"context"
	"sort"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Sort orders a list by a key field, ascending or descending. Sorting is
// stable, so equal keys keep their input order and sorting twice equals
// sorting once.
type Sort struct {
	node.Base
}

// NewSort creates the sort handler.
func NewSort() *Sort {
	return &Sort{Base: node.Base{Def: node.Definition{
		Type:        "sort",
		DisplayName: "Sort",
		Description: "Order a list by a field",
		Icon:        "arrow-down-a-z",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"fieldPath": map[string]interface{}{
				"type":    "string",
				"default": "items",
			},
			"sortKey": map[string]interface{}{
				"type":        "string",
				"description": "Field compared per item; empty compares the items themselves",
			},
			"direction": map[string]interface{}{
				"type":    "string",
				"enum":    []interface{}{"asc", "desc"},
				"default": "asc",
			},
		}),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute sorts the list in the payload.
func (h *Sort) Execute(ctx context.Context, nc *node.Context) *node.Result {
	fieldPath := nc.ConfigString("fieldPath", "items")
	sortKey := nc.ConfigString("sortKey", "")
	descending := nc.ConfigString("direction", "asc") == "desc"

	items := append([]interface{}{}, value.ToList(value.Get(nc.Input, fieldPath))...)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if sortKey != "" {
			a, b = value.Get(a, sortKey), value.Get(b, sortKey)
		}
		cmp := value.Compare(a, b)
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})

	out := value.CloneMap(nc.Input)
	value.Set(out, fieldPath, items)
	return node.Succeed(out)
}

// RemoveDuplicates drops repeated items from a list, keeping first
// occurrences. Idempotent: applying it twice equals applying it once.
type RemoveDuplicates struct {
	node.Base
}

// NewRemoveDuplicates creates the removeDuplicates handler.
func NewRemoveDuplicates() *RemoveDuplicates {
	return &RemoveDuplicates{Base: node.Base{Def: node.Definition{
		Type:        "removeDuplicates",
		DisplayName: "Remove Duplicates",
		Description: "Drop repeated items from a list",
		Icon:        "copy-x",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"fieldPath": map[string]interface{}{
				"type":    "string",
				"default": "items",
			},
			"compareKey": map[string]interface{}{
				"type":        "string",
				"description": "Field deduplicated on; empty compares whole items",
			},
		}),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute deduplicates the list, reporting how many items were removed.
func (h *RemoveDuplicates) Execute(ctx context.Context, nc *node.Context) *node.Result {
	fieldPath := nc.ConfigString("fieldPath", "items")
	compareKey := nc.ConfigString("compareKey", "")

	items := value.ToList(value.Get(nc.Input, fieldPath))
	seen := make(map[string]bool, len(items))
	unique := make([]interface{}, 0, len(items))
	for _, item := range items {
		keySource := item
		if compareKey != "" {
			keySource = value.Get(item, compareKey)
		}
		key := value.ToString(value.Normalize(keySource))
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, item)
	}

	out := value.CloneMap(nc.Input)
	value.Set(out, fieldPath, unique)
	out["removedCount"] = len(items) - len(unique)
	return node.Succeed(out)
}
