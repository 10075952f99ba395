package transform

import (
	"context"
	"encoding/json"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// JSON parses JSON text into a value or renders a value as JSON text.
type JSON struct {
	node.Base
}

// NewJSON creates the json handler.
func NewJSON() *JSON {
	return &JSON{Base: node.Base{Def: node.Definition{
		Type:        "json",
		DisplayName: "JSON",
		Description: "Parse JSON text or render a value as JSON",
		Icon:        "braces",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"parse", "stringify"},
			},
			"field": map[string]interface{}{
				"type":    "string",
				"default": "data",
			},
			"outputField": map[string]interface{}{
				"type":    "string",
				"default": "result",
			},
			"pretty": map[string]interface{}{
				"type":    "boolean",
				"default": false,
			},
		}, "operation"),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute parses or stringifies the value at field.
func (h *JSON) Execute(ctx context.Context, nc *node.Context) *node.Result {
	operation := nc.ConfigString("operation", "")
	field := nc.ConfigString("field", "data")
	outputField := nc.ConfigString("outputField", "result")
	v := value.Get(nc.Input, field)

	out := value.CloneMap(nc.Input)
	switch operation {
	case "parse":
		text, ok := v.(string)
		if !ok {
			return node.Fail(node.KindValidation, "field %q is not a string", field)
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			return node.Fail(node.KindValidation, "invalid JSON at %q: %v", field, err)
		}
		out[outputField] = parsed
	case "stringify":
		var raw []byte
		var err error
		if nc.ConfigBool("pretty", false) {
			raw, err = json.MarshalIndent(v, "", "  ")
		} else {
			raw, err = json.Marshal(v)
		}
		if err != nil {
			return node.Fail(node.KindValidation, "value at %q is not JSON-encodable: %v", field, err)
		}
		out[outputField] = string(raw)
	default:
		return node.Fail(node.KindValidation, "unknown json operation %q", operation)
	}
	return node.Succeed(out)
}
