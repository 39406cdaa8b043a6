package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/conveyor/pkg/schema"
)

// SchemaValidator validates JSON values against JSON Schema documents.
// Compiled schemas are cached by their serialized form.
// Thread-safe.
type SchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator creates an empty SchemaValidator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks value against schemaJSON. A nil error means the value
// conforms. Schema compilation failures are configuration errors; validation
// failures carry ErrCodeValidation and the human-readable cause.
func (v *SchemaValidator) Validate(value json.RawMessage, schemaJSON json.RawMessage) error {
	if len(schemaJSON) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(schemaJSON)
	if err != nil {
		return err
	}

	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(value))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid JSON value: %s", err.Error()).WithCause(err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"schema validation failed: %s", err.Error()).WithCause(err)
	}
	return nil
}

// ValidateMap checks a decoded map against schemaJSON.
func (v *SchemaValidator) ValidateMap(value map[string]any, schemaJSON json.RawMessage) error {
	if len(schemaJSON) == 0 {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return v.Validate(raw, schemaJSON)
}

func (v *SchemaValidator) getOrCompile(schemaJSON json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaJSON)

	v.mu.RLock()
	if s, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid JSON schema: %s", err.Error()).WithCause(err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline.json", doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"register JSON schema: %s", err.Error()).WithCause(err)
	}
	compiled, err := compiler.Compile("inline.json")
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile JSON schema: %s", err.Error()).WithCause(err)
	}

	v.mu.Lock()
	v.cache[key] = compiled
	v.mu.Unlock()

	return compiled, nil
}
