package transform

import (
	"context"
	"sort"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// CompareDataset diffs two lists of records joined on a key field, reporting
// matched, changed, added and removed entries.
type CompareDataset struct {
	node.Base
}

// NewCompareDataset creates the compareDataset handler.
func NewCompareDataset() *CompareDataset {
	return &CompareDataset{Base: node.Base{Def: node.Definition{
		Type:        "compareDataset",
		DisplayName: "Compare Datasets",
		Description: "Diff two record lists joined on a key field",
		Icon:        "diff",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"inputAField": map[string]interface{}{
				"type":    "string",
				"default": "a",
			},
			"inputBField": map[string]interface{}{
				"type":    "string",
				"default": "b",
			},
			"keyField": map[string]interface{}{
				"type":        "string",
				"description": "Field records are joined on",
			},
			"mode": map[string]interface{}{
				"type":    "string",
				"enum":    []interface{}{"all", "changed", "added", "removed", "matched"},
				"default": "all",
			},
		}, "keyField"),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute joins A against B on the key. A is the reference: records present
// only in B are added, only in A are removed.
func (h *CompareDataset) Execute(ctx context.Context, nc *node.Context) *node.Result {
	keyField := nc.ConfigString("keyField", "")
	if keyField == "" {
		return node.Fail(node.KindValidation, "keyField is required")
	}
	mode := nc.ConfigString("mode", "all")

	listA := value.ToList(value.Get(nc.Input, nc.ConfigString("inputAField", "a")))
	listB := value.ToList(value.Get(nc.Input, nc.ConfigString("inputBField", "b")))

	indexB := make(map[string]map[string]interface{}, len(listB))
	orderB := make([]string, 0, len(listB))
	for _, item := range listB {
		rec, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		key := value.ToString(rec[keyField])
		if _, dup := indexB[key]; !dup {
			orderB = append(orderB, key)
		}
		indexB[key] = rec
	}

	matched := []interface{}{}
	changed := []interface{}{}
	removed := []interface{}{}
	seen := make(map[string]bool, len(listA))

	for _, item := range listA {
		rec, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		key := value.ToString(rec[keyField])
		seen[key] = true
		other, present := indexB[key]
		if !present {
			removed = append(removed, rec)
			continue
		}
		differences := diffRecords(rec, other, keyField)
		if len(differences) == 0 {
			matched = append(matched, rec)
		} else {
			changed = append(changed, map[string]interface{}{
				"key":         key,
				"differences": differences,
			})
		}
	}

	added := []interface{}{}
	for _, key := range orderB {
		if !seen[key] {
			added = append(added, indexB[key])
		}
	}

	out := map[string]interface{}{}
	if mode == "all" || mode == "matched" {
		out["matched"] = matched
	}
	if mode == "all" || mode == "changed" {
		out["changed"] = changed
	}
	if mode == "all" || mode == "added" {
		out["added"] = added
	}
	if mode == "all" || mode == "removed" {
		out["removed"] = removed
	}
	return node.Succeed(out)
}

// diffRecords lists per-field differences between two records, key field
// excluded, field names sorted for deterministic output.
func diffRecords(a, b map[string]interface{}, keyField string) []interface{} {
	fields := make(map[string]bool, len(a)+len(b))
	for f := range a {
		fields[f] = true
	}
	for f := range b {
		fields[f] = true
	}
	delete(fields, keyField)

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	var differences []interface{}
	for _, f := range names {
		oldValue, inA := a[f]
		newValue, inB := b[f]
		if inA && inB && value.Equals(oldValue, newValue) {
			continue
		}
		differences = append(differences, map[string]interface{}{
			"field":    f,
			"oldValue": oldValue,
			"newValue": newValue,
		})
	}
	return differences
}
