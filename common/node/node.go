// Package node defines the handler contract every node type satisfies, the
// per-invocation execution context and result envelope, and the process-wide
// handler registry.
package node

import (
	"context"
	"sort"
	"time"

	"github.com/lyzr/flowcore/common/value"
)

// Logger is the logging surface node components depend on.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// DefaultBranch is followed when a result names no branches.
const DefaultBranch = "out"

// GlobalResumeKey carries resume data into a re-entered node's global context.
const GlobalResumeKey = "_resumeData"

// MetaFanOut marks a result whose listed item envelopes each seed one virtual
// downstream execution (loop / splitOut emissions).
const MetaFanOut = "_fanOut"

// Context is the input envelope for one handler invocation. PreviousOrder
// lists the keys of Previous in topological order so multi-input handlers
// see a deterministic sequence.
type Context struct {
	ExecutionID   string                            `json:"execution_id"`
	FlowID        string                            `json:"flow_id"`
	UserID        string                            `json:"user_id"`
	NodeID        string                            `json:"node_id"`
	NodeType      string                            `json:"node_type"`
	Config        map[string]interface{}            `json:"node_config"`
	Input         map[string]interface{}            `json:"input_data"`
	Previous      map[string]map[string]interface{} `json:"previous_outputs,omitempty"`
	PreviousOrder []string                          `json:"previous_order,omitempty"`
	Global        map[string]interface{}            `json:"global_context,omitempty"`
}

// PreviousInOrder returns predecessor outputs in topological order. Falls
// back to sorted key order when PreviousOrder was not provided.
func (c *Context) PreviousInOrder() []map[string]interface{} {
	if len(c.Previous) == 0 {
		return nil
	}
	order := c.PreviousOrder
	if len(order) == 0 {
		order = make([]string, 0, len(c.Previous))
		for k := range c.Previous {
			order = append(order, k)
		}
		sort.Strings(order)
	}
	out := make([]map[string]interface{}, 0, len(order))
	for _, k := range order {
		if prev, ok := c.Previous[k]; ok {
			out = append(out, prev)
		}
	}
	return out
}

// ResumeData returns the payload attached by a resume, if this invocation is
// a re-entry of a paused node.
func (c *Context) ResumeData() (map[string]interface{}, bool) {
	if c.Global == nil {
		return nil, false
	}
	data, ok := c.Global[GlobalResumeKey].(map[string]interface{})
	return data, ok
}

// ConfigString reads a config key coerced to string, with default.
func (c *Context) ConfigString(key, def string) string {
	v, ok := c.Config[key]
	if !ok || v == nil {
		return def
	}
	s := value.ToString(v)
	if s == "" {
		return def
	}
	return s
}

// ConfigInt reads a config key coerced to int, with default.
func (c *Context) ConfigInt(key string, def int) int {
	v, ok := c.Config[key]
	if !ok || v == nil {
		return def
	}
	return value.ToInt(v, def)
}

// ConfigFloat reads a config key coerced to float64, with default.
func (c *Context) ConfigFloat(key string, def float64) float64 {
	v, ok := c.Config[key]
	if !ok || v == nil {
		return def
	}
	f, okf := value.ToFloat(v)
	if !okf {
		return def
	}
	return f
}

// ConfigBool reads a config key with JSON-ish truthiness, with default.
func (c *Context) ConfigBool(key string, def bool) bool {
	v, ok := c.Config[key]
	if !ok || v == nil {
		return def
	}
	return value.ToBool(v)
}

// ConfigMap reads a config key as a map, or nil.
func (c *Context) ConfigMap(key string) map[string]interface{} {
	m, _ := c.Config[key].(map[string]interface{})
	return m
}

// ConfigList reads a config key as a list, or nil.
func (c *Context) ConfigList(key string) []interface{} {
	l, _ := c.Config[key].([]interface{})
	return l
}

// InputValue resolves a dotted path against the input payload.
func (c *Context) InputValue(path string) interface{} {
	return value.Get(c.Input, path)
}

// ResultKind discriminates the three result arms.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultPause   ResultKind = "pause"
	ResultFailure ResultKind = "failure"
)

// PauseRequest describes a durable suspension requested by a handler.
type PauseRequest struct {
	ResumeKind        string                 `json:"resume_kind"` // timer | approval | form | manual
	Hint              map[string]interface{} `json:"payload"`
	ExternalToken     string                 `json:"external_token,omitempty"`
	ScheduledResumeAt *time.Time             `json:"scheduled_resume_at,omitempty"`
}

// Result is the handler output envelope: exactly one of the three arms is
// populated, discriminated by Kind.
type Result struct {
	Kind     ResultKind             `json:"kind"`
	Output   map[string]interface{} `json:"output,omitempty"`
	Branches []string               `json:"branches_to_follow,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Pause    *PauseRequest          `json:"pause,omitempty"`
	Err      *Error                 `json:"-"`
}

// Succeed builds a success result following the default branch.
func Succeed(output map[string]interface{}) *Result {
	if output == nil {
		output = map[string]interface{}{}
	}
	return &Result{Kind: ResultSuccess, Output: output}
}

// SucceedBranches builds a success result routing only the named branches.
func SucceedBranches(output map[string]interface{}, branches ...string) *Result {
	r := Succeed(output)
	r.Branches = branches
	return r
}

// WithMetadata attaches result metadata, merging over any present.
func (r *Result) WithMetadata(meta map[string]interface{}) *Result {
	if r.Metadata == nil {
		r.Metadata = map[string]interface{}{}
	}
	for k, v := range meta {
		r.Metadata[k] = v
	}
	return r
}

// Suspend builds a pause result.
func Suspend(req *PauseRequest) *Result {
	return &Result{Kind: ResultPause, Pause: req}
}

// Fail builds a classified failure result.
func Fail(kind Kind, format string, args ...interface{}) *Result {
	return &Result{Kind: ResultFailure, Err: Errf(kind, format, args...)}
}

// FailErr wraps an error into a failure result, classifying it.
func FailErr(err error) *Result {
	return &Result{Kind: ResultFailure, Err: AsError(err)}
}

// WithPartial attaches partial output to a failure.
func (r *Result) WithPartial(partial map[string]interface{}) *Result {
	r.Output = partial
	return r
}

func (r *Result) IsSuccess() bool { return r.Kind == ResultSuccess }
func (r *Result) IsPause() bool   { return r.Kind == ResultPause }
func (r *Result) IsFailure() bool { return r.Kind == ResultFailure }

// ValidationResult reports config validation findings.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Handler is the capability surface every node type implements.
type Handler interface {
	Type() string
	DisplayName() string
	Description() string
	Icon() string
	Category() string

	// ConfigSchema describes accepted configuration as a JSON-schema subset.
	ConfigSchema() map[string]interface{}
	// InterfaceDefinition describes input and output ports.
	InterfaceDefinition() map[string]interface{}

	IsTrigger() bool
	SupportsAsync() bool
	SupportsStreaming() bool

	ValidateConfig(config map[string]interface{}) ValidationResult
	Execute(ctx context.Context, nc *Context) *Result
}

// Shutdowner is implemented by handlers holding long-lived resources.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}
