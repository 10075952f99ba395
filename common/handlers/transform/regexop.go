package transform

import (
	"context"
	"regexp"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Regex applies a regular expression to a text field: test, match, extract,
// replace or split.
type Regex struct {
	node.Base
}

// NewRegex creates the regex handler.
func NewRegex() *Regex {
	return &Regex{Base: node.Base{Def: node.Definition{
		Type:        "regex",
		DisplayName: "Regex",
		Description: "Test, match, extract, replace or split text with a regular expression",
		Icon:        "regex",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"test", "match", "extract", "replace", "split"},
			},
			"pattern": map[string]interface{}{
				"type": "string",
			},
			"field": map[string]interface{}{
				"type":    "string",
				"default": "text",
			},
			"replacement": map[string]interface{}{
				"type":        "string",
				"description": "Replacement for replace; $1 references capture groups",
			},
			"outputField": map[string]interface{}{
				"type":    "string",
				"default": "result",
			},
		}, "operation", "pattern"),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute compiles the pattern and dispatches on operation.
func (h *Regex) Execute(ctx context.Context, nc *node.Context) *node.Result {
	operation := nc.ConfigString("operation", "")
	pattern := nc.ConfigString("pattern", "")
	if pattern == "" {
		return node.Fail(node.KindValidation, "pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return node.Fail(node.KindValidation, "invalid pattern: %v", err)
	}

	field := nc.ConfigString("field", "text")
	outputField := nc.ConfigString("outputField", "result")
	text := value.ToString(value.Get(nc.Input, field))

	out := value.CloneMap(nc.Input)
	switch operation {
	case "test":
		out[outputField] = re.MatchString(text)
	case "match":
		matches := re.FindAllString(text, -1)
		listed := make([]interface{}, len(matches))
		for i, m := range matches {
			listed[i] = m
		}
		out[outputField] = listed
		out["matchCount"] = len(matches)
	case "extract":
		// First match with capture groups; groups[0] is the whole match.
		groups := re.FindStringSubmatch(text)
		if groups == nil {
			out[outputField] = nil
		} else if len(groups) > 1 {
			captured := make([]interface{}, len(groups)-1)
			for i, g := range groups[1:] {
				captured[i] = g
			}
			out[outputField] = captured
		} else {
			out[outputField] = groups[0]
		}
	case "replace":
		out[outputField] = re.ReplaceAllString(text, nc.ConfigString("replacement", ""))
	case "split":
		parts := re.Split(text, -1)
		listed := make([]interface{}, len(parts))
		for i, p := range parts {
			listed[i] = p
		}
		out[outputField] = listed
	default:
		return node.Fail(node.KindValidation, "unknown regex operation %q", operation)
	}
	return node.Succeed(out)
}
