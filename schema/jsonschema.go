package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// JSONSchema adapts a compiled santhosh-tekuri/jsonschema/v6 schema to the
// Schema interface, for callers who want draft-2020-12 validation of
// inputSchema/resultSchema/configSchema/payloadSchema instead of the native
// String/Number/Object builders above.
type JSONSchema struct {
	compiled *jsonschema.Schema
}

// FromJSONSchema wraps an already-compiled schema.
func FromJSONSchema(compiled *jsonschema.Schema) *JSONSchema {
	return &JSONSchema{compiled: compiled}
}

// CompileJSONSchema compiles a JSON Schema document (as a Go value — map,
// slice, or anything json.Marshal accepts) into a Schema.
func CompileJSONSchema(resourceName string, doc any) (*JSONSchema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal json schema %s: %w", resourceName, err)
	}

	compiler := jsonschema.NewCompiler()
	unmarshalled, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal json schema %s: %w", resourceName, err)
	}
	if err := compiler.AddResource(resourceName, unmarshalled); err != nil {
		return nil, fmt.Errorf("add json schema resource %s: %w", resourceName, err)
	}

	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile json schema %s: %w", resourceName, err)
	}

	return &JSONSchema{compiled: compiled}, nil
}

// Validate implements Schema. The jsonschema validator works against
// generic Go values (map[string]any, []any, primitives), so a value that
// round-tripped through JSON unmarshalling is expected; structs are
// marshalled through JSON first.
func (s *JSONSchema) Validate(value any) (any, error) {
	candidate := value
	if _, ok := value.(map[string]any); !ok {
		if _, ok := value.([]any); !ok {
			raw, err := json.Marshal(value)
			if err == nil {
				var generic any
				if err := json.Unmarshal(raw, &generic); err == nil {
					candidate = generic
				}
			}
		}
	}

	if err := s.compiled.Validate(candidate); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	return value, nil
}
