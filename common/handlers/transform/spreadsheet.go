package transform

import (
	"context"
	"encoding/csv"
	"sort"
	"strconv"
	"strings"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Spreadsheet converts between CSV text and record lists. CSV ingestion
// infers scalar types: integers, floats and booleans parse to their typed
// forms, everything else stays a string. Precision-sensitive columns should
// therefore arrive pre-quoted.
type Spreadsheet struct {
	node.Base
}

// NewSpreadsheet creates the spreadsheet handler.
func NewSpreadsheet() *Spreadsheet {
	return &Spreadsheet{Base: node.Base{Def: node.Definition{
		Type:        "spreadsheet",
		DisplayName: "Spreadsheet",
		Description: "Convert between CSV text and record lists",
		Icon:        "table",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"csvToJson", "jsonToCsv"},
			},
			"field": map[string]interface{}{
				"type":    "string",
				"default": "data",
			},
			"delimiter": map[string]interface{}{
				"type":    "string",
				"default": ",",
			},
			"columns": map[string]interface{}{
				"type":        "array",
				"description": "Column order for jsonToCsv; defaults to sorted keys of the first record",
			},
			"inferTypes": map[string]interface{}{
				"type":    "boolean",
				"default": true,
			},
			"outputField": map[string]interface{}{
				"type":    "string",
				"default": "result",
			},
		}, "operation"),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute converts the value at field per operation.
func (h *Spreadsheet) Execute(ctx context.Context, nc *node.Context) *node.Result {
	operation := nc.ConfigString("operation", "")
	field := nc.ConfigString("field", "data")
	outputField := nc.ConfigString("outputField", "result")
	delimiter := nc.ConfigString("delimiter", ",")
	if len(delimiter) != 1 {
		return node.Fail(node.KindValidation, "delimiter must be a single character, got %q", delimiter)
	}

	out := value.CloneMap(nc.Input)
	switch operation {
	case "csvToJson":
		text, ok := value.Get(nc.Input, field).(string)
		if !ok {
			return node.Fail(node.KindValidation, "field %q is not a string", field)
		}
		rows, err := csvToRecords(text, rune(delimiter[0]), nc.ConfigBool("inferTypes", true))
		if err != nil {
			return node.Fail(node.KindValidation, "invalid CSV at %q: %v", field, err)
		}
		out[outputField] = rows
		out["rowCount"] = len(rows)
	case "jsonToCsv":
		rows := value.ToList(value.Get(nc.Input, field))
		text, err := recordsToCSV(rows, rune(delimiter[0]), nc.ConfigList("columns"))
		if err != nil {
			return node.Fail(node.KindValidation, "failed to render CSV: %v", err)
		}
		out[outputField] = text
	default:
		return node.Fail(node.KindValidation, "unknown spreadsheet operation %q", operation)
	}
	return node.Succeed(out)
}

// csvToRecords reads header-first CSV into a list of records.
func csvToRecords(text string, delimiter rune, inferTypes bool) ([]interface{}, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delimiter
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []interface{}{}, nil
	}

	header := rows[0]
	records := make([]interface{}, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i >= len(row) {
				rec[col] = nil
				continue
			}
			if inferTypes {
				rec[col] = inferScalar(row[i])
			} else {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// inferScalar parses "42" to int, "3.14" to float and "true" to bool.
func inferScalar(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(strings.ToLower(trimmed)); err == nil {
		return b
	}
	return s
}

// recordsToCSV renders records header-first. Column order comes from the
// caller or defaults to the sorted keys of the first record.
func recordsToCSV(rows []interface{}, delimiter rune, columns []interface{}) (string, error) {
	var header []string
	for _, c := range columns {
		header = append(header, value.ToString(c))
	}
	if header == nil && len(rows) > 0 {
		if first, ok := rows[0].(map[string]interface{}); ok {
			for k := range first {
				header = append(header, k)
			}
			sort.Strings(header)
		}
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	w.Comma = delimiter
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, row := range rows {
		rec, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		cells := make([]string, len(header))
		for i, col := range header {
			if v, present := rec[col]; present && v != nil {
				cells[i] = value.ToString(v)
			}
		}
		if err := w.Write(cells); err != nil {
			return "", err
		}
	}
	w.Flush()
	return sb.String(), w.Error()
}
