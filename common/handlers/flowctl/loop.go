package flowctl

import (
	"context"
	"strings"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Loop partitions a list into contiguous batches and emits one downstream
// execution per batch. Scalars wrap to a single-element list, maps split
// into {key, value} entries, strings split on an optional delimiter.
type Loop struct {
	node.Base
}

// NewLoop creates the loop (split-in-batches) handler.
func NewLoop() *Loop {
	return &Loop{Base: node.Base{Def: node.Definition{
		Type:        "loop",
		DisplayName: "Loop Over Items",
		Description: "Process a list in batches, running the downstream nodes once per batch",
		Icon:        "repeat",
		Category:    "flow",
		Schema: node.ObjectSchema(map[string]interface{}{
			"arrayField": map[string]interface{}{
				"type":        "string",
				"default":     "items",
				"description": "Dotted path of the list to iterate",
			},
			"batchSize": map[string]interface{}{
				"type":    "integer",
				"default": 1,
			},
			"includeIndex": map[string]interface{}{
				"type":    "boolean",
				"default": false,
			},
			"delimiter": map[string]interface{}{
				"type":        "string",
				"description": "Split strings on this delimiter before batching",
			},
		}),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute builds the batch emissions.
func (h *Loop) Execute(ctx context.Context, nc *node.Context) *node.Result {
	arrayField := nc.ConfigString("arrayField", "items")
	batchSize := nc.ConfigInt("batchSize", 1)
	if batchSize < 1 {
		return node.Fail(node.KindValidation, "batchSize must be >= 1, got %d", batchSize)
	}
	includeIndex := nc.ConfigBool("includeIndex", false)
	delimiter := nc.ConfigString("delimiter", "")

	items := resolveItems(value.Get(nc.Input, arrayField), delimiter)
	totalItems := len(items)

	if includeIndex {
		items = annotateItems(items)
	}

	totalBatches := (totalItems + batchSize - 1) / batchSize
	emissions := make([]interface{}, 0, totalBatches)
	for i := 0; i < totalItems; i += batchSize {
		end := i + batchSize
		if end > totalItems {
			end = totalItems
		}
		batch := items[i:end]
		emissions = append(emissions, map[string]interface{}{
			"batchIndex":   i / batchSize,
			"itemsInBatch": len(batch),
			"totalBatches": totalBatches,
			"totalItems":   totalItems,
			"items":        append([]interface{}{}, batch...),
		})
	}

	summary := map[string]interface{}{
		"totalItems":   totalItems,
		"totalBatches": totalBatches,
		"batchSize":    batchSize,
	}
	return node.Succeed(summary).WithMetadata(map[string]interface{}{
		node.MetaFanOut: emissions,
	})
}

// resolveItems normalizes the looped value to a list.
func resolveItems(v interface{}, delimiter string) []interface{} {
	if s, ok := v.(string); ok && delimiter != "" {
		parts := strings.Split(s, delimiter)
		items := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				items = append(items, p)
			}
		}
		return items
	}
	return value.ToList(v)
}

// annotateItems wraps each item with positional metadata.
func annotateItems(items []interface{}) []interface{} {
	total := len(items)
	out := make([]interface{}, total)
	for i, item := range items {
		entry := map[string]interface{}{
			"index":   i,
			"total":   total,
			"isFirst": i == 0,
			"isLast":  i == total-1,
		}
		if m, ok := item.(map[string]interface{}); ok {
			for k, v := range m {
				entry[k] = v
			}
		} else {
			entry["value"] = item
		}
		out[i] = entry
	}
	return out
}

// SplitOut emits one downstream execution per list element.
type SplitOut struct {
	node.Base
}

// NewSplitOut creates the split-out handler.
func NewSplitOut() *SplitOut {
	return &SplitOut{Base: node.Base{Def: node.Definition{
		Type:        "splitOut",
		DisplayName: "Split Out",
		Description: "Turn a list into individual items, one downstream run per item",
		Icon:        "split",
		Category:    "flow",
		Schema: node.ObjectSchema(map[string]interface{}{
			"fieldPath": map[string]interface{}{
				"type":        "string",
				"default":     "items",
				"description": "Dotted path of the list to split",
			},
			"destinationField": map[string]interface{}{
				"type":        "string",
				"default":     "item",
				"description": "Key non-map items are wrapped under",
			},
		}),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute emits one envelope per element.
func (h *SplitOut) Execute(ctx context.Context, nc *node.Context) *node.Result {
	fieldPath := nc.ConfigString("fieldPath", "items")
	destination := nc.ConfigString("destinationField", "item")

	items := value.ToList(value.Get(nc.Input, fieldPath))
	emissions := make([]interface{}, 0, len(items))
	for i, item := range items {
		var envelope map[string]interface{}
		if m, ok := item.(map[string]interface{}); ok {
			envelope = value.CloneMap(m)
		} else {
			envelope = map[string]interface{}{destination: item}
		}
		envelope["index"] = i
		envelope["total"] = len(items)
		emissions = append(emissions, envelope)
	}

	return node.Succeed(map[string]interface{}{
		"totalItems": len(items),
	}).WithMetadata(map[string]interface{}{
		node.MetaFanOut: emissions,
	})
}
