// Package value holds helpers for the dynamic JSON-like payloads that flow
// between nodes: nil, bool, numbers, strings, []interface{} and
// map[string]interface{} trees as produced by encoding/json.
package value

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Get resolves a dotted path against a payload tree. Numeric segments index
// into lists. A missing path returns nil, never an error.
func Get(root interface{}, path string) interface{} {
	if path == "" {
		return root
	}
	current := root
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil
		}
		switch v := current.(type) {
		case map[string]interface{}:
			next, ok := v[seg]
			if !ok {
				return nil
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			current = v[idx]
		default:
			return nil
		}
	}
	return current
}

// Has reports whether the dotted path exists in the payload tree. Unlike Get
// it distinguishes a present null from a missing key.
func Has(root interface{}, path string) bool {
	if path == "" {
		return true
	}
	current := root
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		switch v := current.(type) {
		case map[string]interface{}:
			next, ok := v[seg]
			if !ok {
				return false
			}
			if i == len(segs)-1 {
				return true
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return false
			}
			if i == len(segs)-1 {
				return true
			}
			current = v[idx]
		default:
			return false
		}
	}
	return true
}

// Set writes val at the dotted path, creating intermediate maps as needed.
// The root map is mutated and returned; a nil root allocates a fresh map.
func Set(root map[string]interface{}, path string, val interface{}) map[string]interface{} {
	if root == nil {
		root = make(map[string]interface{})
	}
	segs := strings.Split(path, ".")
	current := root
	for i, seg := range segs {
		if i == len(segs)-1 {
			current[seg] = val
			return root
		}
		next, ok := current[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[seg] = next
		}
		current = next
	}
	return root
}

// Delete removes the dotted path from the tree. Missing paths are a no-op.
func Delete(root map[string]interface{}, path string) {
	if root == nil {
		return
	}
	segs := strings.Split(path, ".")
	current := root
	for i, seg := range segs {
		if i == len(segs)-1 {
			delete(current, seg)
			return
		}
		next, ok := current[seg].(map[string]interface{})
		if !ok {
			return
		}
		current = next
	}
}

// Clone deep-copies a payload tree. Scalars are returned as-is.
func Clone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies a payload map, allocating an empty map for nil input.
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return make(map[string]interface{})
	}
	return Clone(m).(map[string]interface{})
}

// ToList normalises a value into a list: lists pass through, maps split into
// {key, value} entries with keys in sorted order, nil becomes empty, any other
// scalar wraps into a single-element list.
func ToList(v interface{}) []interface{} {
	switch t := v.(type) {
	case nil:
		return []interface{}{}
	case []interface{}:
		return t
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]interface{}, 0, len(t))
		for _, k := range keys {
			out = append(out, map[string]interface{}{"key": k, "value": t[k]})
		}
		return out
	default:
		return []interface{}{v}
	}
}

// Normalize round-trips a value through JSON so handler outputs built from
// typed structs compare equal to decoded payloads. Unmarshalable values are
// returned unchanged.
func Normalize(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
