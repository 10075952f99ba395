package transform

import (
	"context"
	"time"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// layoutAliases map friendly format names to Go reference layouts.
var layoutAliases = map[string]string{
	"rfc3339":  time.RFC3339,
	"iso8601":  time.RFC3339,
	"date":     "2006-01-02",
	"time":     "15:04:05",
	"datetime": "2006-01-02 15:04:05",
	"unix":     "unix",
}

// DateTime produces, formats and does arithmetic on timestamps.
type DateTime struct {
	node.Base
	now func() time.Time
}

// NewDateTime creates the dateTime handler.
func NewDateTime() *DateTime {
	return &DateTime{
		Base: node.Base{Def: node.Definition{
			Type:        "dateTime",
			DisplayName: "Date & Time",
			Description: "Produce, format or offset timestamps",
			Icon:        "calendar",
			Category:    "transform",
			Schema: node.ObjectSchema(map[string]interface{}{
				"operation": map[string]interface{}{
					"type": "string",
					"enum": []interface{}{"now", "format", "add", "diff"},
				},
				"field": map[string]interface{}{
					"type":    "string",
					"default": "date",
				},
				"otherField": map[string]interface{}{
					"type":        "string",
					"description": "Second timestamp for diff",
				},
				"format": map[string]interface{}{
					"type":        "string",
					"default":     "rfc3339",
					"description": "rfc3339, date, time, datetime, unix, or a Go layout",
				},
				"timezone": map[string]interface{}{
					"type":    "string",
					"default": "UTC",
				},
				"amount": map[string]interface{}{
					"type":    "number",
					"default": 0,
				},
				"unit": map[string]interface{}{
					"type":    "string",
					"enum":    []interface{}{"seconds", "minutes", "hours", "days"},
					"default": "seconds",
				},
				"outputField": map[string]interface{}{
					"type":    "string",
					"default": "result",
				},
			}, "operation"),
			Interface: node.Ports([]string{"main"}, []string{"out"}),
		}},
		now: time.Now,
	}
}

var addUnits = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// Execute dispatches on operation.
func (h *DateTime) Execute(ctx context.Context, nc *node.Context) *node.Result {
	operation := nc.ConfigString("operation", "")
	outputField := nc.ConfigString("outputField", "result")

	loc, err := time.LoadLocation(nc.ConfigString("timezone", "UTC"))
	if err != nil {
		return node.Fail(node.KindValidation, "unknown timezone %q", nc.ConfigString("timezone", "UTC"))
	}

	out := value.CloneMap(nc.Input)
	switch operation {
	case "now":
		out[outputField] = renderTime(h.now().In(loc), nc.ConfigString("format", "rfc3339"))
	case "format":
		t, err := parseTime(value.Get(nc.Input, nc.ConfigString("field", "date")))
		if err != nil {
			return node.Fail(node.KindValidation, "%v", err)
		}
		out[outputField] = renderTime(t.In(loc), nc.ConfigString("format", "rfc3339"))
	case "add":
		t, err := parseTime(value.Get(nc.Input, nc.ConfigString("field", "date")))
		if err != nil {
			return node.Fail(node.KindValidation, "%v", err)
		}
		unit, ok := addUnits[nc.ConfigString("unit", "seconds")]
		if !ok {
			return node.Fail(node.KindValidation, "unknown unit %q", nc.ConfigString("unit", "seconds"))
		}
		offset := time.Duration(nc.ConfigFloat("amount", 0) * float64(unit))
		out[outputField] = renderTime(t.Add(offset).In(loc), nc.ConfigString("format", "rfc3339"))
	case "diff":
		a, err := parseTime(value.Get(nc.Input, nc.ConfigString("field", "date")))
		if err != nil {
			return node.Fail(node.KindValidation, "%v", err)
		}
		b, err := parseTime(value.Get(nc.Input, nc.ConfigString("otherField", "")))
		if err != nil {
			return node.Fail(node.KindValidation, "%v", err)
		}
		d := b.Sub(a)
		out[outputField] = map[string]interface{}{
			"milliseconds": d.Milliseconds(),
			"seconds":      d.Seconds(),
			"minutes":      d.Minutes(),
			"hours":        d.Hours(),
			"days":         d.Hours() / 24,
		}
	default:
		return node.Fail(node.KindValidation, "unknown dateTime operation %q", operation)
	}
	return node.Succeed(out)
}

// parseTime accepts RFC 3339 strings, date-only strings and unix seconds.
func parseTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, errUnparseable(v)
	default:
		if f, ok := value.ToFloat(v); ok {
			return time.Unix(int64(f), 0).UTC(), nil
		}
		return time.Time{}, errUnparseable(v)
	}
}

func errUnparseable(v interface{}) error {
	return node.Errf(node.KindValidation, "value %q is not a recognizable timestamp", value.ToString(v))
}

func renderTime(t time.Time, format string) interface{} {
	layout, ok := layoutAliases[format]
	if !ok {
		layout = format
	}
	if layout == "unix" {
		return t.Unix()
	}
	return t.Format(layout)
}
