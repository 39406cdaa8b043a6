package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/conveyor/pkg/schema"
)

var personSchema = json.RawMessage(`{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"age": {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`)

func TestValidate_Conforming(t *testing.T) {
	v := NewSchemaValidator()

	err := v.Validate(json.RawMessage(`{"name":"ada","age":36}`), personSchema)
	assert.NoError(t, err)
}

func TestValidate_Violations(t *testing.T) {
	v := NewSchemaValidator()

	cases := []struct {
		name  string
		value string
	}{
		{"missing required", `{"age":36}`},
		{"wrong type", `{"name":123}`},
		{"extra property", `{"name":"ada","extra":true}`},
		{"constraint violated", `{"name":"ada","age":-1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(json.RawMessage(tc.value), personSchema)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
		})
	}
}

func TestValidate_EmptySchemaAccepts(t *testing.T) {
	v := NewSchemaValidator()
	assert.NoError(t, v.Validate(json.RawMessage(`{"anything":"goes"}`), nil))
}

func TestValidate_MalformedSchemaRejected(t *testing.T) {
	v := NewSchemaValidator()

	err := v.Validate(json.RawMessage(`{}`), json.RawMessage(`{not json`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestValidateMap(t *testing.T) {
	v := NewSchemaValidator()

	assert.NoError(t, v.ValidateMap(map[string]any{"name": "ada"}, personSchema))
	assert.Error(t, v.ValidateMap(map[string]any{"age": 3}, personSchema))
}

func TestValidate_CompiledSchemaReused(t *testing.T) {
	v := NewSchemaValidator()

	for i := 0; i < 3; i++ {
		require.NoError(t, v.Validate(json.RawMessage(`{"name":"ada"}`), personSchema))
	}
}
