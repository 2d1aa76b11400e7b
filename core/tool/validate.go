package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateArgs checks a resolved argument tree against a tool's input schema.
// A nil or empty schema accepts anything.
func ValidateArgs(toolName string, schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema for %s: %w", toolName, err)
	}
	resourceID := "inmemory://tool/" + toolName
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", toolName, err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", toolName, err)
	}
	// Round-trip through JSON so typed values (ints, structs) land in the
	// value domain the validator expects.
	payload, err := jsonValue(args)
	if err != nil {
		return fmt.Errorf("normalize args for %s: %w", toolName, err)
	}
	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("invalid args for %s: %w", toolName, err)
	}
	return nil
}

func jsonValue(v any) (any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
