package sysio

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Code evaluates a sandboxed CEL expression over the node input. CEL has no
// I/O surface, which keeps scripting nodes side-effect free. Compiled
// programs are cached per expression text.
type Code struct {
	node.Base

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCode creates the code handler.
func NewCode() *Code {
	return &Code{
		Base: node.Base{Def: node.Definition{
			Type:        "code",
			DisplayName: "Code",
			Description: "Evaluate a CEL expression over the input",
			Icon:        "code",
			Category:    "system",
			Schema: node.ObjectSchema(map[string]interface{}{
				"expression": map[string]interface{}{
					"type":        "string",
					"description": "CEL expression; the input payload is bound as `input`, globals as `vars`",
				},
				"outputField": map[string]interface{}{
					"type":    "string",
					"default": "result",
				},
			}, "expression"),
			Interface: node.Ports([]string{"main"}, []string{"out"}),
		}},
		cache: make(map[string]cel.Program),
	}
}

// ValidateConfig compiles the expression on top of schema validation so bad
// programs are caught before the flow runs.
func (h *Code) ValidateConfig(config map[string]interface{}) node.ValidationResult {
	res := h.Base.ValidateConfig(config)
	if !res.Valid {
		return res
	}
	expression, _ := config["expression"].(string)
	if expression == "" {
		return res
	}
	if _, err := h.program(expression); err != nil {
		return node.ValidationResult{Valid: false, Errors: []string{err.Error()}}
	}
	return res
}

// Execute evaluates the expression with input and globals bound.
func (h *Code) Execute(ctx context.Context, nc *node.Context) *node.Result {
	expression := nc.ConfigString("expression", "")
	if expression == "" {
		return node.Fail(node.KindValidation, "expression is required")
	}

	prg, err := h.program(expression)
	if err != nil {
		return node.Fail(node.KindValidation, "expression rejected: %v", err)
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"input": nc.Input,
		"vars":  nc.Global,
	})
	if err != nil {
		return node.Fail(node.KindInternal, "expression evaluation failed: %v", err)
	}

	result := value.CloneMap(nc.Input)
	result[nc.ConfigString("outputField", "result")] = value.Normalize(out.Value())
	return node.Succeed(result)
}

// program returns the compiled expression, compiling and caching on miss.
func (h *Code) program(expression string) (cel.Program, error) {
	h.mu.RLock()
	prg, ok := h.cache[expression]
	h.mu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("vars", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	h.mu.Lock()
	h.cache[expression] = prg
	h.mu.Unlock()
	return prg, nil
}
