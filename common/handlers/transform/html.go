package transform

import (
	"context"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// HTML extracts content from HTML documents via CSS selectors or converts
// them to Markdown.
type HTML struct {
	node.Base
	converter *md.Converter
}

// NewHTML creates the html handler.
func NewHTML() *HTML {
	return &HTML{
		Base: node.Base{Def: node.Definition{
			Type:        "html",
			DisplayName: "HTML",
			Description: "Extract content from HTML or convert it to Markdown",
			Icon:        "code-xml",
			Category:    "transform",
			Schema: node.ObjectSchema(map[string]interface{}{
				"operation": map[string]interface{}{
					"type": "string",
					"enum": []interface{}{"extract", "extractAll", "toMarkdown"},
				},
				"field": map[string]interface{}{
					"type":    "string",
					"default": "html",
				},
				"selector": map[string]interface{}{
					"type":        "string",
					"description": "CSS selector for extract and extractAll",
				},
				"attribute": map[string]interface{}{
					"type":        "string",
					"description": "Attribute returned instead of text, e.g. href",
				},
				"outputField": map[string]interface{}{
					"type":    "string",
					"default": "result",
				},
			}, "operation"),
			Interface: node.Ports([]string{"main"}, []string{"out"}),
		}},
		converter: md.NewConverter("", true, nil),
	}
}

// Execute parses the document once and dispatches on operation.
func (h *HTML) Execute(ctx context.Context, nc *node.Context) *node.Result {
	operation := nc.ConfigString("operation", "")
	field := nc.ConfigString("field", "html")
	outputField := nc.ConfigString("outputField", "result")

	text, ok := value.Get(nc.Input, field).(string)
	if !ok {
		return node.Fail(node.KindValidation, "field %q is not a string", field)
	}

	out := value.CloneMap(nc.Input)
	switch operation {
	case "extract", "extractAll":
		selector := nc.ConfigString("selector", "")
		if selector == "" {
			return node.Fail(node.KindValidation, "selector is required for %s", operation)
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err != nil {
			return node.Fail(node.KindValidation, "invalid HTML at %q: %v", field, err)
		}
		attribute := nc.ConfigString("attribute", "")
		selection := doc.Find(selector)
		if operation == "extract" {
			out[outputField] = extractOne(selection.First(), attribute)
		} else {
			matches := make([]interface{}, 0, selection.Length())
			selection.Each(func(_ int, s *goquery.Selection) {
				matches = append(matches, extractOne(s, attribute))
			})
			out[outputField] = matches
			out["matchCount"] = len(matches)
		}
	case "toMarkdown":
		markdown, err := h.converter.ConvertString(text)
		if err != nil {
			return node.Fail(node.KindValidation, "HTML conversion failed: %v", err)
		}
		out[outputField] = markdown
	default:
		return node.Fail(node.KindValidation, "unknown html operation %q", operation)
	}
	return node.Succeed(out)
}

func extractOne(s *goquery.Selection, attribute string) interface{} {
	if s.Length() == 0 {
		return nil
	}
	if attribute != "" {
		attr, _ := s.Attr(attribute)
		return attr
	}
	return strings.TrimSpace(s.Text())
}
