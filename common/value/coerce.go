package value

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ToString renders a value for comparison and interpolation. Maps and lists
// render as compact JSON, nil renders empty.
func ToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ToFloat attempts numeric coercion. Strings parse as decimal, booleans map
// to 0/1. The second return reports whether coercion succeeded.
func ToFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ToInt coerces to an integer, truncating floats.
func ToInt(v interface{}, def int) int {
	f, ok := ToFloat(v)
	if !ok {
		return def
	}
	return int(f)
}

// ToBool follows JSON-ish truthiness: false, 0, "", "false", "0", nil and
// empty collections are false, everything else true.
func ToBool(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "false" && s != "0"
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	default:
		f, ok := ToFloat(v)
		if ok {
			return f != 0
		}
		return true
	}
}

// Equals compares after string coercion of both sides, so 42 == "42".
func Equals(a, b interface{}) bool {
	return ToString(a) == ToString(b)
}

// Compare orders two values numerically when both sides parse as numbers and
// lexicographically otherwise. Returns -1, 0 or 1.
func Compare(a, b interface{}) int {
	fa, oka := ToFloat(a)
	fb, okb := ToFloat(b)
	if oka && okb {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	sa, sb := ToString(a), ToString(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// IsEmpty reports whether a value is nil, an empty string, or an empty
// collection. Zero numbers are not empty.
func IsEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	default:
		return false
	}
}
