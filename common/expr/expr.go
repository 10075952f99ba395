// Package expr resolves {{...}} path expressions inside node configuration
// against the node's input payload. The language is deliberately a path
// substitutor: `$input.a.b`, `input.a.b` or a bare `a.b`. Missing paths
// resolve to null and resolution never fails.
package expr

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lyzr/flowcore/common/value"
)

var exprPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolve walks a config tree and substitutes every {{expr}} occurrence.
// A string that is exactly one expression resolves to the typed value; a
// string with embedded expressions interpolates their rendered forms. The
// input config is not mutated.
func Resolve(config map[string]interface{}, input map[string]interface{}) map[string]interface{} {
	if config == nil {
		return nil
	}
	doc := marshalInput(input)
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		out[k] = resolveValue(v, input, doc)
	}
	return out
}

// ResolveString substitutes expressions in a single string.
func ResolveString(s string, input map[string]interface{}) interface{} {
	return resolveString(s, input, marshalInput(input))
}

func marshalInput(input map[string]interface{}) []byte {
	if input == nil {
		return []byte("{}")
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return []byte("{}")
	}
	return raw
}

func resolveValue(v interface{}, input map[string]interface{}, doc []byte) interface{} {
	switch t := v.(type) {
	case string:
		return resolveString(t, input, doc)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = resolveValue(e, input, doc)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = resolveValue(e, input, doc)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, input map[string]interface{}, doc []byte) interface{} {
	matches := exprPattern.FindStringSubmatchIndex(s)
	if matches == nil {
		return s
	}

	// Whole-string expression keeps the resolved type.
	if trimmed := strings.TrimSpace(s); strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if !strings.Contains(inner, "{{") && strings.Count(trimmed, "{{") == 1 {
			return evaluate(inner, input, doc)
		}
	}

	// Embedded expressions interpolate as strings.
	return exprPattern.ReplaceAllStringFunc(s, func(m string) string {
		inner := strings.TrimSpace(m[2 : len(m)-2])
		return render(evaluate(inner, input, doc))
	})
}

// evaluate resolves a single expression to its value. Unknown forms resolve
// to nil rather than erroring.
func evaluate(raw string, input map[string]interface{}, doc []byte) interface{} {
	path := strings.TrimSpace(raw)
	switch path {
	case "", "$input", "input":
		if path == "" {
			return nil
		}
		return value.CloneMap(input)
	}
	if strings.HasPrefix(path, "$input.") {
		path = strings.TrimPrefix(path, "$input.")
	} else if strings.HasPrefix(path, "input.") {
		path = strings.TrimPrefix(path, "input.")
	}
	res := gjson.GetBytes(doc, path)
	if !res.Exists() {
		return nil
	}
	return res.Value()
}

func render(v interface{}) string {
	if v == nil {
		return ""
	}
	return value.ToString(v)
}
