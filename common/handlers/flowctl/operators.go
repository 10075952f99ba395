// Package flowctl implements the flow-control node handlers: branching,
// filtering, merging, batching, retry, rate limiting and pausing.
package flowctl

import (
	"regexp"
	"strings"

	"github.com/lyzr/flowcore/common/value"
)

// Comparison operators shared by condition, switch and filter.
const (
	opEquals         = "equals"
	opNotEquals      = "notEquals"
	opContains       = "contains"
	opNotContains    = "notContains"
	opStartsWith     = "startsWith"
	opEndsWith       = "endsWith"
	opGreaterThan    = "greaterThan"
	opLessThan       = "lessThan"
	opGreaterOrEqual = "greaterOrEqual"
	opLessOrEqual    = "lessOrEqual"
	opIsEmpty        = "isEmpty"
	opIsNotEmpty     = "isNotEmpty"
	opIsTrue         = "isTrue"
	opIsFalse        = "isFalse"
	opRegex          = "regex"
	opExists         = "exists"
	opNotExists      = "notExists"
)

var operatorNames = []string{
	opEquals, opNotEquals, opContains, opNotContains, opStartsWith, opEndsWith,
	opGreaterThan, opLessThan, opGreaterOrEqual, opLessOrEqual,
	opIsEmpty, opIsNotEmpty, opIsTrue, opIsFalse, opRegex, opExists, opNotExists,
}

func operatorEnum() []interface{} {
	out := make([]interface{}, len(operatorNames))
	for i, name := range operatorNames {
		out[i] = name
	}
	return out
}

// evalOperator applies one comparison. present reports whether the left-hand
// field exists at all (distinct from being null). The second return is false
// for operators this table does not know.
func evalOperator(op string, left interface{}, present bool, right interface{}) (bool, bool) {
	switch op {
	case opEquals:
		return value.Equals(left, right), true
	case opNotEquals:
		return !value.Equals(left, right), true
	case opContains:
		return containsValue(left, right), true
	case opNotContains:
		return !containsValue(left, right), true
	case opStartsWith:
		return strings.HasPrefix(value.ToString(left), value.ToString(right)), true
	case opEndsWith:
		return strings.HasSuffix(value.ToString(left), value.ToString(right)), true
	case opGreaterThan:
		return value.Compare(left, right) > 0, true
	case opLessThan:
		return value.Compare(left, right) < 0, true
	case opGreaterOrEqual:
		return value.Compare(left, right) >= 0, true
	case opLessOrEqual:
		return value.Compare(left, right) <= 0, true
	case opIsEmpty:
		return value.IsEmpty(left), true
	case opIsNotEmpty:
		return !value.IsEmpty(left), true
	case opIsTrue:
		return value.ToBool(left), true
	case opIsFalse:
		return !value.ToBool(left), true
	case opRegex:
		re, err := regexp.Compile(value.ToString(right))
		if err != nil {
			return false, true
		}
		return re.MatchString(value.ToString(left)), true
	case opExists:
		return present, true
	case opNotExists:
		return !present, true
	default:
		return false, false
	}
}

// containsValue checks substring membership for strings and element
// membership for lists.
func containsValue(left, right interface{}) bool {
	if list, ok := left.([]interface{}); ok {
		for _, item := range list {
			if value.Equals(item, right) {
				return true
			}
		}
		return false
	}
	return strings.Contains(value.ToString(left), value.ToString(right))
}
