package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validator compiles tool input schemas once and validates arguments
// against them before dispatch.
type validator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newValidator() *validator {
	return &validator{compiled: make(map[string]*jsonschema.Schema)}
}

// validate checks raw arguments against a tool's input schema. A tool with
// no schema accepts anything.
func (v *validator) validate(toolName string, schema json.RawMessage, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := v.compile(toolName, schema)
	if err != nil {
		return err
	}

	var payload any
	if len(args) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("arguments do not match the %s schema: %w", toolName, err)
	}
	return nil
}

func (v *validator) compile(toolName string, schema json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if compiled, ok := v.compiled[toolName]; ok {
		return compiled, nil
	}

	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema for %s: %w", toolName, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", toolName, err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", toolName, err)
	}

	v.compiled[toolName] = compiled
	return compiled, nil
}
