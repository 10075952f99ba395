package value

import (
	"reflect"
	"testing"
)

func TestGet(t *testing.T) {
	root := map[string]interface{}{
		"user": map[string]interface{}{
			"name": "alice",
			"tags": []interface{}{"a", "b"},
			"address": map[string]interface{}{
				"city": "Oslo",
			},
		},
		"count": float64(3),
		"empty": nil,
	}

	tests := []struct {
		name string
		path string
		want interface{}
	}{
		{"top level", "count", float64(3)},
		{"nested map", "user.name", "alice"},
		{"deep nested", "user.address.city", "Oslo"},
		{"list index", "user.tags.1", "b"},
		{"missing key", "user.phone", nil},
		{"missing deep", "user.address.zip.code", nil},
		{"index out of range", "user.tags.5", nil},
		{"non numeric index", "user.tags.x", nil},
		{"through scalar", "count.value", nil},
		{"present null", "empty", nil},
		{"empty path returns root", "", root},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Get(root, tt.path)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Get(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestHasDistinguishesNullFromMissing(t *testing.T) {
	root := map[string]interface{}{"a": nil}
	if !Has(root, "a") {
		t.Error("expected Has to report present null key")
	}
	if Has(root, "b") {
		t.Error("expected Has to report missing key as absent")
	}
}

func TestSetCreatesIntermediates(t *testing.T) {
	m := Set(nil, "a.b.c", 42)
	got := Get(m, "a.b.c")
	if got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}

	// Overwriting a scalar in the middle of a path replaces it with a map.
	m = map[string]interface{}{"a": "scalar"}
	Set(m, "a.b", "x")
	if Get(m, "a.b") != "x" {
		t.Errorf("expected scalar replaced by map, got %v", m)
	}
}

func TestDelete(t *testing.T) {
	m := map[string]interface{}{
		"a": map[string]interface{}{"b": 1, "c": 2},
	}
	Delete(m, "a.b")
	if Has(m, "a.b") {
		t.Error("expected a.b removed")
	}
	if !Has(m, "a.c") {
		t.Error("expected sibling untouched")
	}
	Delete(m, "x.y.z") // no-op
}

func TestCloneIsDeep(t *testing.T) {
	orig := map[string]interface{}{
		"list": []interface{}{map[string]interface{}{"k": "v"}},
	}
	cp := CloneMap(orig)
	cp["list"].([]interface{})[0].(map[string]interface{})["k"] = "changed"
	if orig["list"].([]interface{})[0].(map[string]interface{})["k"] != "v" {
		t.Error("clone shares structure with original")
	}
}

func TestToList(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want []interface{}
	}{
		{"nil", nil, []interface{}{}},
		{"list passthrough", []interface{}{1, 2}, []interface{}{1, 2}},
		{"scalar wraps", "x", []interface{}{"x"}},
		{
			"map splits to key value entries",
			map[string]interface{}{"b": 2, "a": 1},
			[]interface{}{
				map[string]interface{}{"key": "a", "value": 1},
				map[string]interface{}{"key": "b", "value": 2},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToList(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ToList(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoercion(t *testing.T) {
	if !Equals(42, "42") {
		t.Error("expected 42 == \"42\" after string coercion")
	}
	if Equals("a", "b") {
		t.Error("expected a != b")
	}

	if got := Compare("10", float64(9)); got != 1 {
		t.Errorf("numeric compare: got %d, want 1", got)
	}
	if got := Compare("apple", "banana"); got != -1 {
		t.Errorf("string compare: got %d, want -1", got)
	}

	if ToBool("false") || ToBool("") || ToBool(float64(0)) || ToBool(nil) {
		t.Error("expected falsy values")
	}
	if !ToBool("yes") || !ToBool(float64(1)) || !ToBool([]interface{}{1}) {
		t.Error("expected truthy values")
	}

	if !IsEmpty("") || !IsEmpty(nil) || !IsEmpty([]interface{}{}) {
		t.Error("expected empty values")
	}
	if IsEmpty(float64(0)) {
		t.Error("zero is not empty")
	}

	if ToInt("7", 0) != 7 || ToInt("x", 3) != 3 {
		t.Error("ToInt coercion failed")
	}

	if s := ToString(map[string]interface{}{"a": 1}); s != `{"a":1}` {
		t.Errorf("map renders as JSON, got %s", s)
	}
}
