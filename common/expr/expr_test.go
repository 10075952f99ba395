package expr

import (
	"reflect"
	"testing"
)

func testInput() map[string]interface{} {
	return map[string]interface{}{
		"name": "alice",
		"age":  float64(30),
		"address": map[string]interface{}{
			"city": "Oslo",
		},
		"tags": []interface{}{"x", "y"},
		"ok":   true,
	}
}

func TestResolveWholeStringKeepsType(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want interface{}
	}{
		{"dollar input path", "{{$input.age}}", float64(30)},
		{"input prefix path", "{{input.name}}", "alice"},
		{"bare path", "{{address.city}}", "Oslo"},
		{"list index", "{{tags.1}}", "y"},
		{"bool value", "{{$input.ok}}", true},
		{"missing path is null", "{{$input.missing.deep}}", nil},
		{"nested map value", "{{address}}", map[string]interface{}{"city": "Oslo"}},
		{"spaces inside braces", "{{ name }}", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveString(tt.in, testInput())
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveString(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveInterpolation(t *testing.T) {
	got := ResolveString("{{name}} is {{age}} in {{address.city}}", testInput())
	if got != "alice is 30 in Oslo" {
		t.Errorf("unexpected interpolation: %q", got)
	}

	// Missing paths interpolate empty, never error.
	got = ResolveString("hello {{nope}}!", testInput())
	if got != "hello !" {
		t.Errorf("missing path interpolation: %q", got)
	}

	// Non-scalar values interpolate as JSON.
	got = ResolveString("addr={{address}}", testInput())
	if got != `addr={"city":"Oslo"}` {
		t.Errorf("map interpolation: %q", got)
	}
}

func TestResolveWalksConfigTree(t *testing.T) {
	config := map[string]interface{}{
		"url":   "https://{{address.city}}.example.com",
		"field": "{{$input.name}}",
		"nested": map[string]interface{}{
			"age": "{{age}}",
		},
		"list":    []interface{}{"{{name}}", "literal"},
		"number":  float64(7),
		"literal": "no expressions here",
	}

	resolved := Resolve(config, testInput())

	if resolved["url"] != "https://Oslo.example.com" {
		t.Errorf("url: %v", resolved["url"])
	}
	if resolved["field"] != "alice" {
		t.Errorf("field: %v", resolved["field"])
	}
	if resolved["nested"].(map[string]interface{})["age"] != float64(30) {
		t.Errorf("nested age: %v", resolved["nested"])
	}
	if resolved["list"].([]interface{})[0] != "alice" {
		t.Errorf("list: %v", resolved["list"])
	}
	if resolved["number"] != float64(7) || resolved["literal"] != "no expressions here" {
		t.Error("non-expression values must pass through untouched")
	}

	// Original config must not be mutated.
	if config["field"] != "{{$input.name}}" {
		t.Error("input config mutated")
	}
}

func TestResolveNilAndEmpty(t *testing.T) {
	if Resolve(nil, testInput()) != nil {
		t.Error("nil config resolves to nil")
	}
	if got := ResolveString("{{name}}", nil); got != nil {
		t.Errorf("nil input yields null, got %v", got)
	}
	if got := ResolveString("{{$input}}", testInput()); got.(map[string]interface{})["name"] != "alice" {
		t.Errorf("whole input reference: %v", got)
	}
}
