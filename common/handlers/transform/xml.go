package transform

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// XML parses XML text into a map tree or renders a map tree as XML. Element
// text lives under "#text", attributes under "@name", repeated child
// elements become lists. Documents carrying a DOCTYPE or entity definition
// are rejected outright to rule out XXE.
type XML struct {
	node.Base
}

// NewXML creates the xml handler.
func NewXML() *XML {
	return &XML{Base: node.Base{Def: node.Definition{
		Type:        "xml",
		DisplayName: "XML",
		Description: "Parse XML text or render a map tree as XML",
		Icon:        "file-code",
		Category:    "transform",
		Schema: node.ObjectSchema(map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"parse", "stringify"},
			},
			"field": map[string]interface{}{
				"type":    "string",
				"default": "data",
			},
			"outputField": map[string]interface{}{
				"type":    "string",
				"default": "result",
			},
			"rootName": map[string]interface{}{
				"type":    "string",
				"default": "root",
			},
		}, "operation"),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute parses or stringifies the value at field.
func (h *XML) Execute(ctx context.Context, nc *node.Context) *node.Result {
	operation := nc.ConfigString("operation", "")
	field := nc.ConfigString("field", "data")
	outputField := nc.ConfigString("outputField", "result")

	out := value.CloneMap(nc.Input)
	switch operation {
	case "parse":
		text, ok := value.Get(nc.Input, field).(string)
		if !ok {
			return node.Fail(node.KindValidation, "field %q is not a string", field)
		}
		if hasDoctype(text) {
			return node.Fail(node.KindSecurity, "XML document declares a DOCTYPE or entity, refusing to parse")
		}
		parsed, err := parseXML(text)
		if err != nil {
			return node.Fail(node.KindValidation, "invalid XML at %q: %v", field, err)
		}
		out[outputField] = parsed
	case "stringify":
		m, ok := value.Get(nc.Input, field).(map[string]interface{})
		if !ok {
			return node.Fail(node.KindValidation, "field %q is not a map", field)
		}
		var sb strings.Builder
		if err := writeElement(&sb, nc.ConfigString("rootName", "root"), m); err != nil {
			return node.Fail(node.KindValidation, "failed to render XML: %v", err)
		}
		out[outputField] = sb.String()
	default:
		return node.Fail(node.KindValidation, "unknown xml operation %q", operation)
	}
	return node.Succeed(out)
}

func hasDoctype(text string) bool {
	upper := strings.ToUpper(text)
	return strings.Contains(upper, "<!DOCTYPE") || strings.Contains(upper, "<!ENTITY")
}

// parseXML builds the map tree for the document's root element.
func parseXML(text string) (map[string]interface{}, error) {
	dec := xml.NewDecoder(strings.NewReader(text))
	// Entity expansion stays disabled: no custom entity map is installed and
	// DOCTYPE carriers were rejected before decoding.
	dec.Strict = true
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			elem, err := parseElement(dec, start)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{start.Name.Local: elem}, nil
		}
	}
}

// parseElement consumes one element, returning its map form or, for pure
// text elements without attributes, the text itself.
func parseElement(dec *xml.Decoder, start xml.StartElement) (interface{}, error) {
	elem := make(map[string]interface{})
	for _, attr := range start.Attr {
		elem["@"+attr.Name.Local] = attr.Value
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(dec, t)
			if err != nil {
				return nil, err
			}
			appendChild(elem, t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			trimmed := strings.TrimSpace(text.String())
			if trimmed != "" {
				if len(elem) == 0 {
					return trimmed, nil
				}
				elem["#text"] = trimmed
			}
			return elem, nil
		}
	}
}

// appendChild inserts a child, promoting repeated names to lists.
func appendChild(elem map[string]interface{}, name string, child interface{}) {
	existing, ok := elem[name]
	if !ok {
		elem[name] = child
		return
	}
	if list, isList := existing.([]interface{}); isList {
		elem[name] = append(list, child)
		return
	}
	elem[name] = []interface{}{existing, child}
}

// writeElement renders one element. Keys render sorted, attributes first.
func writeElement(sb *strings.Builder, name string, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		var attrs, children []string
		for k := range t {
			switch {
			case strings.HasPrefix(k, "@"):
				attrs = append(attrs, k)
			case k == "#text":
			default:
				children = append(children, k)
			}
		}
		sort.Strings(attrs)
		sort.Strings(children)

		sb.WriteByte('<')
		sb.WriteString(name)
		for _, a := range attrs {
			fmt.Fprintf(sb, " %s=%q", strings.TrimPrefix(a, "@"), value.ToString(t[a]))
		}
		sb.WriteByte('>')
		if text, ok := t["#text"]; ok {
			if err := xml.EscapeText(sb, []byte(value.ToString(text))); err != nil {
				return err
			}
		}
		for _, c := range children {
			if list, isList := t[c].([]interface{}); isList {
				for _, item := range list {
					if err := writeElement(sb, c, item); err != nil {
						return err
					}
				}
				continue
			}
			if err := writeElement(sb, c, t[c]); err != nil {
				return err
			}
		}
		fmt.Fprintf(sb, "</%s>", name)
		return nil
	case []interface{}:
		for _, item := range t {
			if err := writeElement(sb, name, item); err != nil {
				return err
			}
		}
		return nil
	default:
		sb.WriteByte('<')
		sb.WriteString(name)
		sb.WriteByte('>')
		if err := xml.EscapeText(sb, []byte(value.ToString(t))); err != nil {
			return err
		}
		fmt.Fprintf(sb, "</%s>", name)
		return nil
	}
}
