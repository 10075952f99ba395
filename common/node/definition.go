package node

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lyzr/flowcore/common/value"
)

// Definition is the static description of a node type. Handlers embed Base
// with a Definition and add Execute.
type Definition struct {
	Type        string
	DisplayName string
	Description string
	Icon        string
	Category    string
	Schema      map[string]interface{}
	Interface   map[string]interface{}
	Trigger     bool
	Async       bool
	Streaming   bool
}

// Ports builds an interface definition from input and output port names.
func Ports(inputs []string, outputs []string) map[string]interface{} {
	in := make([]interface{}, 0, len(inputs))
	for _, p := range inputs {
		in = append(in, p)
	}
	out := make([]interface{}, 0, len(outputs))
	for _, p := range outputs {
		out = append(out, p)
	}
	return map[string]interface{}{"inputs": in, "outputs": out}
}

// ObjectSchema builds a {type: object, properties, required} schema map.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		req := make([]interface{}, 0, len(required))
		for _, r := range required {
			req = append(req, r)
		}
		s["required"] = req
	}
	return s
}

// Base provides the descriptive half of the Handler contract from a
// Definition, including schema-backed config validation.
type Base struct {
	Def Definition

	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
}

func (b *Base) Type() string        { return b.Def.Type }
func (b *Base) DisplayName() string { return b.Def.DisplayName }
func (b *Base) Description() string { return b.Def.Description }
func (b *Base) Icon() string        { return b.Def.Icon }
func (b *Base) Category() string    { return b.Def.Category }

func (b *Base) ConfigSchema() map[string]interface{} {
	if b.Def.Schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return b.Def.Schema
}

func (b *Base) InterfaceDefinition() map[string]interface{} {
	if b.Def.Interface == nil {
		return Ports([]string{"main"}, []string{DefaultBranch})
	}
	return b.Def.Interface
}

func (b *Base) IsTrigger() bool         { return b.Def.Trigger }
func (b *Base) SupportsAsync() bool     { return b.Def.Async }
func (b *Base) SupportsStreaming() bool { return b.Def.Streaming }

// ValidateConfig checks config against the declared schema. The schema
// compiles lazily once; a schema that fails to compile degrades to
// required-key checking so a malformed schema never blocks validation of
// well-formed configs.
func (b *Base) ValidateConfig(config map[string]interface{}) ValidationResult {
	if config == nil {
		config = map[string]interface{}{}
	}
	b.compileOnce.Do(func() {
		b.compiled, b.compileErr = compileSchema(b.ConfigSchema())
	})
	if b.compileErr != nil || b.compiled == nil {
		return requiredKeysOnly(b.ConfigSchema(), config)
	}
	if err := b.compiled.Validate(value.Normalize(config)); err != nil {
		return ValidationResult{Valid: false, Errors: []string{err.Error()}}
	}
	return ValidationResult{Valid: true}
}

func compileSchema(schema map[string]interface{}) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	doc := value.Normalize(schema)
	if err := c.AddResource("config.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := c.Compile("config.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return compiled, nil
}

func requiredKeysOnly(schema, config map[string]interface{}) ValidationResult {
	res := ValidationResult{Valid: true}
	required, _ := schema["required"].([]interface{})
	for _, r := range required {
		key, ok := r.(string)
		if !ok {
			continue
		}
		if v, present := config[key]; !present || v == nil {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("missing required field %q", key))
		}
	}
	return res
}
