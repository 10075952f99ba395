// Package transform implements the data-shaping node handlers: field edits,
// list operations, dataset comparison, format conversions and text
// extraction.
package transform

import (
	"context"
	"encoding/json"

	"github.com/tidwall/sjson"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// SetFields writes configured values into the payload at dotted paths.
// Values support {{path}} expressions, resolved by the engine before
// dispatch.
type SetFields struct {
	node.Base
}

// NewSetFields creates the setFields handler.
func NewSetFields() *SetFields {
	return &SetFields{Base: node.Base{Def: node.Definition{
		Type:        "setFields",
		DisplayName: "Set Fields",
		Description: "Write values into the payload at dotted paths",
		Icon:        "pencil",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"fields": map[string]interface{}{
				"type":        "array",
				"description": "List of {name, value} assignments, applied in order",
			},
			"keepOnlySet": map[string]interface{}{
				"type":    "boolean",
				"default": false,
			},
		}, "fields"),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute applies the assignments over the input, or over an empty payload
// when keepOnlySet is set. Assignments are ordered, so later fields may
// overwrite earlier ones.
func (h *SetFields) Execute(ctx context.Context, nc *node.Context) *node.Result {
	fields := nc.ConfigList("fields")
	if len(fields) == 0 {
		return node.Fail(node.KindValidation, "fields must be a non-empty list of {name, value}")
	}

	base := map[string]interface{}{}
	if !nc.ConfigBool("keepOnlySet", false) {
		base = value.CloneMap(nc.Input)
	}

	doc, err := json.Marshal(base)
	if err != nil {
		return node.Fail(node.KindInternal, "failed to encode payload: %v", err)
	}
	for i, entry := range fields {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return node.Fail(node.KindValidation, "fields[%d] is not a {name, value} object", i)
		}
		name := value.ToString(m["name"])
		if name == "" {
			return node.Fail(node.KindValidation, "fields[%d] has no name", i)
		}
		doc, err = sjson.SetBytes(doc, name, m["value"])
		if err != nil {
			return node.Fail(node.KindValidation, "failed to set field %q: %v", name, err)
		}
	}

	var out map[string]interface{}
	if err := json.Unmarshal(doc, &out); err != nil {
		return node.Fail(node.KindInternal, "failed to decode payload: %v", err)
	}
	return node.Succeed(out)
}

// RenameKeys renames top-level or dotted keys in the payload.
type RenameKeys struct {
	node.Base
}

// NewRenameKeys creates the renameKeys handler.
func NewRenameKeys() *RenameKeys {
	return &RenameKeys{Base: node.Base{Def: node.Definition{
		Type:        "renameKeys",
		DisplayName: "Rename Keys",
		Description: "Rename payload fields, keeping their values",
		Icon:        "tag",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"renames": map[string]interface{}{
				"type":        "array",
				"description": "List of {from, to} dotted paths",
			},
		}, "renames"),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute moves each from-path value to its to-path.
func (h *RenameKeys) Execute(ctx context.Context, nc *node.Context) *node.Result {
	renames := nc.ConfigList("renames")
	if len(renames) == 0 {
		return node.Fail(node.KindValidation, "renames must be a non-empty list of {from, to}")
	}

	out := value.CloneMap(nc.Input)
	for i, entry := range renames {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return node.Fail(node.KindValidation, "renames[%d] is not a {from, to} object", i)
		}
		from := value.ToString(m["from"])
		to := value.ToString(m["to"])
		if from == "" || to == "" {
			return node.Fail(node.KindValidation, "renames[%d] needs both from and to", i)
		}
		if !value.Has(out, from) {
			continue
		}
		v := value.Get(out, from)
		value.Delete(out, from)
		value.Set(out, to, v)
	}
	return node.Succeed(out)
}
