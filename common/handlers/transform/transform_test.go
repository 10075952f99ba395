package transform

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowcore/common/node"
)

func transformContext(config, input map[string]interface{}) *node.Context {
	return &node.Context{
		ExecutionID: "exec-1",
		NodeID:      "node-1",
		Config:      config,
		Input:       input,
	}
}

func TestSetFieldsWritesDottedPaths(t *testing.T) {
	h := NewSetFields()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"fields": []interface{}{
			map[string]interface{}{"name": "user.name", "value": "Ada"},
			map[string]interface{}{"name": "user.active", "value": true},
			map[string]interface{}{"name": "user.name", "value": "Grace"},
		},
	}, map[string]interface{}{"id": "u1"}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, "u1", res.Output["id"])

	user := res.Output["user"].(map[string]interface{})
	assert.Equal(t, "Grace", user["name"]) // later assignments win
	assert.Equal(t, true, user["active"])
}

func TestSetFieldsKeepOnlySet(t *testing.T) {
	h := NewSetFields()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"keepOnlySet": true,
		"fields": []interface{}{
			map[string]interface{}{"name": "kept", "value": 1},
		},
	}, map[string]interface{}{"dropped": true}))

	require.True(t, res.IsSuccess())
	assert.NotContains(t, res.Output, "dropped")
	assert.Equal(t, float64(1), res.Output["kept"])
}

func TestSetFieldsValidation(t *testing.T) {
	h := NewSetFields()

	res := h.Execute(context.Background(), transformContext(map[string]interface{}{}, nil))
	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"fields": []interface{}{map[string]interface{}{"value": 1}},
	}, nil))
	require.True(t, res.IsFailure())
}

func TestRenameKeysMovesValues(t *testing.T) {
	h := NewRenameKeys()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"renames": []interface{}{
			map[string]interface{}{"from": "old", "to": "renamed"},
			map[string]interface{}{"from": "missing", "to": "ignored"},
		},
	}, map[string]interface{}{"old": 42, "other": "stays"}))

	require.True(t, res.IsSuccess())
	assert.NotContains(t, res.Output, "old")
	assert.NotContains(t, res.Output, "ignored")
	assert.Equal(t, 42, res.Output["renamed"])
	assert.Equal(t, "stays", res.Output["other"])
}

func TestCompareDatasetBuckets(t *testing.T) {
	h := NewCompareDataset()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"keyField": "id",
	}, map[string]interface{}{
		"a": []interface{}{
			map[string]interface{}{"id": "1", "name": "same"},
			map[string]interface{}{"id": "2", "name": "before"},
			map[string]interface{}{"id": "3", "name": "gone"},
		},
		"b": []interface{}{
			map[string]interface{}{"id": "1", "name": "same"},
			map[string]interface{}{"id": "2", "name": "after"},
			map[string]interface{}{"id": "4", "name": "new"},
		},
	}))

	require.True(t, res.IsSuccess())
	assert.Len(t, res.Output["matched"], 1)
	assert.Len(t, res.Output["removed"], 1)
	assert.Len(t, res.Output["added"], 1)

	changed := res.Output["changed"].([]interface{})
	require.Len(t, changed, 1)
	entry := changed[0].(map[string]interface{})
	assert.Equal(t, "2", entry["key"])

	diffs := entry["differences"].([]interface{})
	require.Len(t, diffs, 1)
	diff := diffs[0].(map[string]interface{})
	assert.Equal(t, "name", diff["field"])
	assert.Equal(t, "before", diff["oldValue"])
	assert.Equal(t, "after", diff["newValue"])
}

func TestCompareDatasetModeFiltersOutput(t *testing.T) {
	h := NewCompareDataset()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"keyField": "id", "mode": "added",
	}, map[string]interface{}{
		"a": []interface{}{},
		"b": []interface{}{map[string]interface{}{"id": "1"}},
	}))

	require.True(t, res.IsSuccess())
	assert.Contains(t, res.Output, "added")
	assert.NotContains(t, res.Output, "matched")
	assert.NotContains(t, res.Output, "removed")
}

func TestSortByFieldBothDirections(t *testing.T) {
	h := NewSort()
	input := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"n": 3},
			map[string]interface{}{"n": 1},
			map[string]interface{}{"n": 2},
		},
	}

	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"sortKey": "n",
	}, input))
	require.True(t, res.IsSuccess())
	sorted := res.Output["items"].([]interface{})
	assert.Equal(t, 1, sorted[0].(map[string]interface{})["n"])
	assert.Equal(t, 3, sorted[2].(map[string]interface{})["n"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"sortKey": "n", "direction": "desc",
	}, input))
	require.True(t, res.IsSuccess())
	sorted = res.Output["items"].([]interface{})
	assert.Equal(t, 3, sorted[0].(map[string]interface{})["n"])
}

func TestSortIsIdempotent(t *testing.T) {
	h := NewSort()
	config := map[string]interface{}{"sortKey": "n"}
	input := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"n": 2},
			map[string]interface{}{"n": 1},
		},
	}

	once := h.Execute(context.Background(), transformContext(config, input))
	require.True(t, once.IsSuccess())
	twice := h.Execute(context.Background(), transformContext(config, once.Output))
	require.True(t, twice.IsSuccess())
	assert.Equal(t, once.Output["items"], twice.Output["items"])
}

func TestRemoveDuplicates(t *testing.T) {
	h := NewRemoveDuplicates()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"compareKey": "id",
	}, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": "a", "rank": 1},
			map[string]interface{}{"id": "b", "rank": 2},
			map[string]interface{}{"id": "a", "rank": 3},
		},
	}))

	require.True(t, res.IsSuccess())
	items := res.Output["items"].([]interface{})
	require.Len(t, items, 2)
	// First occurrence wins.
	assert.Equal(t, 1, items[0].(map[string]interface{})["rank"])
	assert.Equal(t, 1, res.Output["removedCount"])

	// Idempotent on its own output.
	again := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"compareKey": "id",
	}, res.Output))
	require.True(t, again.IsSuccess())
	assert.Equal(t, 0, again.Output["removedCount"])
}

func TestItemListsOperations(t *testing.T) {
	h := NewItemLists()
	input := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"name": "a"},
			map[string]interface{}{"name": "b"},
			map[string]interface{}{"name": "c"},
		},
	}

	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "summarize",
	}, input))
	require.True(t, res.IsSuccess())
	assert.Equal(t, 3, res.Output["count"])
	assert.Equal(t, map[string]interface{}{"name": "a"}, res.Output["first"])
	assert.Equal(t, map[string]interface{}{"name": "c"}, res.Output["last"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "limit", "maxItems": 2,
	}, input))
	require.True(t, res.IsSuccess())
	assert.Equal(t, 2, res.Output["count"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "concatenate", "itemField": "name", "separator": "|",
	}, input))
	require.True(t, res.IsSuccess())
	assert.Equal(t, "a|b|c", res.Output["concatenated"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "shuffle",
	}, input))
	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)
}

func TestLimitKeepsFirstOrLast(t *testing.T) {
	h := NewLimit()
	input := map[string]interface{}{"items": []interface{}{"a", "b", "c", "d"}}

	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"maxItems": 2,
	}, input))
	require.True(t, res.IsSuccess())
	assert.Equal(t, []interface{}{"a", "b"}, res.Output["items"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"maxItems": 2, "keep": "last",
	}, input))
	require.True(t, res.IsSuccess())
	assert.Equal(t, []interface{}{"c", "d"}, res.Output["items"])
}

func TestAggregateOperations(t *testing.T) {
	h := NewAggregate()
	input := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"score": 10},
			map[string]interface{}{"score": 30},
			map[string]interface{}{"score": "not a number"},
			map[string]interface{}{"other": 1},
		},
	}

	tests := []struct {
		operation string
		expected  interface{}
	}{
		{"count", 4},
		{"sum", float64(40)},
		{"avg", float64(20)},
		{"min", float64(10)},
		{"max", float64(30)},
	}
	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			res := h.Execute(context.Background(), transformContext(map[string]interface{}{
				"operation": tt.operation, "itemField": "score",
			}, input))
			require.True(t, res.IsSuccess())
			assert.Equal(t, tt.expected, res.Output["result"])
		})
	}

	// Empty numeric set yields nil for avg and extremes.
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "avg", "itemField": "score",
	}, map[string]interface{}{"items": []interface{}{}}))
	require.True(t, res.IsSuccess())
	assert.Nil(t, res.Output["result"])
}

func TestDateTimeOperations(t *testing.T) {
	h := NewDateTime()
	h.now = func() time.Time {
		return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	}

	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "now", "format": "date",
	}, map[string]interface{}{}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, "2024-03-15", res.Output["result"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "format", "format": "unix",
	}, map[string]interface{}{"date": "2024-03-15T12:00:00Z"}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, int64(1710504000), res.Output["result"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "add", "amount": 2, "unit": "days", "format": "date",
	}, map[string]interface{}{"date": "2024-03-15"}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, "2024-03-17", res.Output["result"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "diff", "otherField": "until",
	}, map[string]interface{}{
		"date":  "2024-03-15T00:00:00Z",
		"until": "2024-03-16T12:00:00Z",
	}))
	require.True(t, res.IsSuccess())
	diff := res.Output["result"].(map[string]interface{})
	assert.Equal(t, float64(36), diff["hours"])
	assert.Equal(t, 1.5, diff["days"])
}

func TestDateTimeRejectsBadInput(t *testing.T) {
	h := NewDateTime()

	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "format",
	}, map[string]interface{}{"date": "next tuesday"}))
	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "now", "timezone": "Mars/Olympus",
	}, map[string]interface{}{}))
	require.True(t, res.IsFailure())
}

func TestRegexOperations(t *testing.T) {
	h := NewRegex()
	input := map[string]interface{}{"text": "order-123, order-456"}

	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "test", "pattern": `order-\d+`,
	}, input))
	require.True(t, res.IsSuccess())
	assert.Equal(t, true, res.Output["result"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "match", "pattern": `order-\d+`,
	}, input))
	require.True(t, res.IsSuccess())
	assert.Equal(t, []interface{}{"order-123", "order-456"}, res.Output["result"])
	assert.Equal(t, 2, res.Output["matchCount"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "extract", "pattern": `order-(\d+)`,
	}, input))
	require.True(t, res.IsSuccess())
	assert.Equal(t, []interface{}{"123"}, res.Output["result"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "replace", "pattern": `order-(\d+)`, "replacement": "#$1",
	}, input))
	require.True(t, res.IsSuccess())
	assert.Equal(t, "#123, #456", res.Output["result"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "split", "pattern": `,\s*`,
	}, input))
	require.True(t, res.IsSuccess())
	assert.Equal(t, []interface{}{"order-123", "order-456"}, res.Output["result"])
}

func TestRegexRejectsInvalidPattern(t *testing.T) {
	h := NewRegex()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "test", "pattern": `(`,
	}, map[string]interface{}{}))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)
}

func TestJSONParseAndStringify(t *testing.T) {
	h := NewJSON()

	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "parse",
	}, map[string]interface{}{"data": `{"n": 1}`}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, map[string]interface{}{"n": float64(1)}, res.Output["result"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "stringify",
	}, map[string]interface{}{"data": map[string]interface{}{"n": 1}}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, `{"n":1}`, res.Output["result"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "parse",
	}, map[string]interface{}{"data": "{broken"}))
	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)
}

func TestSpreadsheetCSVToRecords(t *testing.T) {
	h := NewSpreadsheet()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "csvToJson",
	}, map[string]interface{}{
		"data": "name,age,active\nAda,36,true\nGrace,85,false\n",
	}))

	require.True(t, res.IsSuccess())
	assert.Equal(t, 2, res.Output["rowCount"])

	rows := res.Output["result"].([]interface{})
	first := rows[0].(map[string]interface{})
	assert.Equal(t, "Ada", first["name"])
	assert.Equal(t, int64(36), first["age"])
	assert.Equal(t, true, first["active"])
}

func TestSpreadsheetRoundTrip(t *testing.T) {
	h := NewSpreadsheet()

	rendered := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "jsonToCsv",
		"columns":   []interface{}{"name", "age"},
	}, map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{"name": "Ada", "age": 36},
			map[string]interface{}{"name": "Grace", "age": 85},
		},
	}))
	require.True(t, rendered.IsSuccess())

	csvText := rendered.Output["result"].(string)
	assert.True(t, strings.HasPrefix(csvText, "name,age\n"))

	parsed := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "csvToJson",
	}, map[string]interface{}{"data": csvText}))
	require.True(t, parsed.IsSuccess())

	rows := parsed.Output["result"].([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, "Ada", rows[0].(map[string]interface{})["name"])
	assert.Equal(t, int64(36), rows[0].(map[string]interface{})["age"])
}

func TestSpreadsheetRejectsMultiCharDelimiter(t *testing.T) {
	h := NewSpreadsheet()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "csvToJson", "delimiter": "||",
	}, map[string]interface{}{"data": "a||b"}))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)
}

func TestXMLParse(t *testing.T) {
	h := NewXML()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "parse",
	}, map[string]interface{}{
		"data": `<order id="7"><item>widget</item><item>gadget</item><note>rush</note></order>`,
	}))

	require.True(t, res.IsSuccess())
	root := res.Output["result"].(map[string]interface{})
	order := root["order"].(map[string]interface{})
	assert.Equal(t, "7", order["@id"])
	assert.Equal(t, []interface{}{"widget", "gadget"}, order["item"])
	assert.Equal(t, "rush", order["note"])
}

func TestXMLRejectsDoctype(t *testing.T) {
	h := NewXML()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "parse",
	}, map[string]interface{}{
		"data": `<!DOCTYPE foo [<!ENTITY xxe SYSTEM "file:///etc/passwd">]><foo>&xxe;</foo>`,
	}))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindSecurity, res.Err.Kind)
}

func TestXMLStringify(t *testing.T) {
	h := NewXML()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "stringify", "rootName": "order",
	}, map[string]interface{}{
		"data": map[string]interface{}{
			"@id":   "7",
			"#text": "a < b",
			"item":  []interface{}{"x", "y"},
		},
	}))

	require.True(t, res.IsSuccess())
	rendered := res.Output["result"].(string)
	assert.Equal(t, `<order id="7">a &lt; b<item>x</item><item>y</item></order>`, rendered)
}

func TestXMLRoundTrip(t *testing.T) {
	h := NewXML()

	parsed := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "parse",
	}, map[string]interface{}{
		"data": `<root><a>1</a><b attr="x">2</b></root>`,
	}))
	require.True(t, parsed.IsSuccess())

	tree := parsed.Output["result"].(map[string]interface{})
	rendered := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "stringify", "rootName": "root",
	}, map[string]interface{}{"data": tree["root"]}))
	require.True(t, rendered.IsSuccess())
	assert.Equal(t, `<root><a>1</a><b attr="x">2</b></root>`, rendered.Output["result"])
}

func TestHTMLExtract(t *testing.T) {
	h := NewHTML()
	doc := `<html><body>
		<h1> Title </h1>
		<ul><li><a href="/a">first</a></li><li><a href="/b">second</a></li></ul>
	</body></html>`

	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "extract", "selector": "h1",
	}, map[string]interface{}{"html": doc}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, "Title", res.Output["result"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "extractAll", "selector": "li a", "attribute": "href",
	}, map[string]interface{}{"html": doc}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, []interface{}{"/a", "/b"}, res.Output["result"])
	assert.Equal(t, 2, res.Output["matchCount"])

	res = h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "extract", "selector": ".absent",
	}, map[string]interface{}{"html": doc}))
	require.True(t, res.IsSuccess())
	assert.Nil(t, res.Output["result"])
}

func TestHTMLToMarkdown(t *testing.T) {
	h := NewHTML()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{
		"operation": "toMarkdown",
	}, map[string]interface{}{
		"html": `<h1>Heading</h1><p>Some <strong>bold</strong> text.</p>`,
	}))

	require.True(t, res.IsSuccess())
	markdown := res.Output["result"].(string)
	assert.Contains(t, markdown, "# Heading")
	assert.Contains(t, markdown, "**bold**")
}

func TestMarkdownRendersGFM(t *testing.T) {
	h := NewMarkdown()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{},
		map[string]interface{}{"markdown": "# Title\n\n~~gone~~\n"}))

	require.True(t, res.IsSuccess())
	html := res.Output["html"].(string)
	assert.Contains(t, html, "<h1>Title</h1>")
	assert.Contains(t, html, "<del>gone</del>")
}

func TestMarkdownRequiresString(t *testing.T) {
	h := NewMarkdown()
	res := h.Execute(context.Background(), transformContext(map[string]interface{}{},
		map[string]interface{}{"markdown": 42}))

	require.True(t, res.IsFailure())
	assert.Equal(t, node.KindValidation, res.Err.Kind)
}
