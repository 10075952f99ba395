package transform

import (
	"bytes"
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// Markdown renders Markdown text to HTML. GitHub-flavoured tables and
// strikethrough are enabled; raw HTML in the source is escaped.
type Markdown struct {
	node.Base
	md goldmark.Markdown
}

// NewMarkdown creates the markdown handler.
func NewMarkdown() *Markdown {
	return &Markdown{
		Base: node.Base{Def: node.Definition{
			Type:        "markdown",
			DisplayName: "Markdown",
			Description: "Render Markdown text to HTML",
			Icon:        "heading",
			Category:    "transform",
			Schema: node.ObjectSchema(map[string]interface{}{
				"field": map[string]interface{}{
					"type":    "string",
					"default": "markdown",
				},
				"outputField": map[string]interface{}{
					"type":    "string",
					"default": "html",
				},
			}),
			Interface: node.Ports([]string{"main"}, []string{"out"}),
		}},
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Execute converts the value at field.
func (h *Markdown) Execute(ctx context.Context, nc *node.Context) *node.Result {
	field := nc.ConfigString("field", "markdown")
	text, ok := value.Get(nc.Input, field).(string)
	if !ok {
		return node.Fail(node.KindValidation, "field %q is not a string", field)
	}

	var buf bytes.Buffer
	if err := h.md.Convert([]byte(text), &buf); err != nil {
		return node.Fail(node.KindValidation, "markdown conversion failed: %v", err)
	}

	out := value.CloneMap(nc.Input)
	out[nc.ConfigString("outputField", "html")] = buf.String()
	return node.Succeed(out)
}
