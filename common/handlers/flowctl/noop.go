package flowctl

import (
	"context"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// NoOp passes its input through untouched. Useful as a placeholder or a
// junction point in a flow.
type NoOp struct {
	node.Base
}

// NewNoOp creates the no-op handler.
func NewNoOp() *NoOp {
	return &NoOp{Base: node.Base{Def: node.Definition{
		Type:        "noOp",
		DisplayName: "No Operation",
		Description: "Pass the input through unchanged",
		Icon:        "circle",
		Category:    "flow",
		Schema:      node.ObjectSchema(map[string]interface{}{}),
		Interface:   node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute clones the input.
func (h *NoOp) Execute(ctx context.Context, nc *node.Context) *node.Result {
	return node.Succeed(value.CloneMap(nc.Input))
}

// StopAndError deliberately fails the execution with a configured message.
type StopAndError struct {
	node.Base
}

// NewStopAndError creates the stop-and-error handler.
func NewStopAndError() *StopAndError {
	return &StopAndError{Base: node.Base{Def: node.Definition{
		Type:        "stopAndError",
		DisplayName: "Stop and Error",
		Description: "Fail the execution with a configured error message",
		Icon:        "octagon",
		Category:    "flow",
		Schema: node.ObjectSchema(map[string]interface{}{
			"message": map[string]interface{}{
				"type":    "string",
				"default": "Workflow stopped with error",
			},
			"errorKind": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{
					string(node.KindValidation),
					string(node.KindDependency),
					string(node.KindSecurity),
					string(node.KindInternal),
				},
				"default": string(node.KindInternal),
			},
		}),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute always fails.
func (h *StopAndError) Execute(ctx context.Context, nc *node.Context) *node.Result {
	message := nc.ConfigString("message", "Workflow stopped with error")
	kind := node.Kind(nc.ConfigString("errorKind", string(node.KindInternal)))
	switch kind {
	case node.KindValidation, node.KindDependency, node.KindSecurity, node.KindInternal:
	default:
		kind = node.KindInternal
	}
	return node.Fail(kind, "%s", message)
}
