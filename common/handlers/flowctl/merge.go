package flowctl

import (
	"context"
	"encoding/json"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Merge fans multiple predecessor outputs back into one payload. Inputs are
// taken from the predecessor outputs in topological order; with a single
// input the handler degrades to operating on that input alone.
type Merge struct {
	node.Base
}

// NewMerge creates the merge handler.
func NewMerge() *Merge {
	return &Merge{Base: node.Base{Def: node.Definition{
		Type:        "merge",
		DisplayName: "Merge",
		Description: "Combine the outputs of multiple branches into one payload",
		Icon:        "git-merge",
		Category:    "flow",
		Schema: node.ObjectSchema(map[string]interface{}{
			"mode": map[string]interface{}{
				"type":    "string",
				"enum":    []interface{}{"append", "combine", "multiplex", "chooseBranch"},
				"default": "append",
			},
			"field": map[string]interface{}{
				"type":        "string",
				"description": "Optional dotted path extracted from each input before merging",
			},
			"outputKey": map[string]interface{}{
				"type":    "string",
				"default": "merged",
			},
		}),
		Interface: node.Ports([]string{"main", "secondary"}, []string{"out"}),
	}}}
}

// Execute merges per the configured mode.
func (h *Merge) Execute(ctx context.Context, nc *node.Context) *node.Result {
	mode := nc.ConfigString("mode", "append")
	field := nc.ConfigString("field", "")
	outputKey := nc.ConfigString("outputKey", "merged")

	keys, inputs := h.collectInputs(nc, field)

	var merged interface{}
	switch mode {
	case "append":
		merged = mergeAppend(inputs)
	case "combine":
		combined, err := mergeCombine(keys, inputs)
		if err != nil {
			return node.Fail(node.KindInternal, "merge combine failed: %v", err)
		}
		merged = combined
	case "multiplex":
		out := make(map[string]interface{}, len(keys))
		for i, key := range keys {
			out[key] = inputs[i]
		}
		merged = out
	case "chooseBranch":
		for _, in := range inputs {
			if in != nil {
				merged = in
				break
			}
		}
	default:
		return node.Fail(node.KindValidation, "unknown merge mode %q", mode)
	}

	return node.Succeed(map[string]interface{}{outputKey: merged})
}

// collectInputs returns the values to merge and stable keys naming them.
func (h *Merge) collectInputs(nc *node.Context, field string) ([]string, []interface{}) {
	extract := func(m map[string]interface{}) interface{} {
		if field == "" {
			return m
		}
		return value.Get(m, field)
	}

	if len(nc.Previous) == 0 {
		return []string{"main"}, []interface{}{extract(nc.Input)}
	}

	keys := nc.PreviousOrder
	if len(keys) == 0 {
		keys = make([]string, 0, len(nc.Previous))
		for k := range nc.Previous {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	inputs := make([]interface{}, 0, len(keys))
	named := make([]string, 0, len(keys))
	for _, key := range keys {
		prev, ok := nc.Previous[key]
		if !ok {
			continue
		}
		named = append(named, key)
		inputs = append(inputs, extract(prev))
	}
	return named, inputs
}

// mergeAppend flattens lists and appends scalars, skipping nulls.
func mergeAppend(inputs []interface{}) []interface{} {
	out := make([]interface{}, 0, len(inputs))
	for _, in := range inputs {
		switch v := in.(type) {
		case nil:
		case []interface{}:
			out = append(out, v...)
		default:
			out = append(out, v)
		}
	}
	return out
}

// mergeCombine deep-merges map inputs via RFC 7386 merge patches. Non-map
// inputs are keyed by their input name first so they survive the merge.
func mergeCombine(keys []string, inputs []interface{}) (map[string]interface{}, error) {
	acc := []byte("{}")
	for i, in := range inputs {
		if in == nil {
			continue
		}
		doc, ok := in.(map[string]interface{})
		if !ok {
			doc = map[string]interface{}{keys[i]: in}
		}
		patch, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		acc, err = jsonpatch.MergePatch(acc, patch)
		if err != nil {
			return nil, err
		}
	}

	var out map[string]interface{}
	if err := json.Unmarshal(acc, &out); err != nil {
		return nil, err
	}
	return out, nil
}
