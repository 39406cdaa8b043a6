package schema

import (
	"encoding/json"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringList_UnmarshalJSON(t *testing.T) {
	var single StringList
	require.NoError(t, json.Unmarshal([]byte(`"initial"`), &single))
	assert.Equal(t, StringList{"initial"}, single)

	var many StringList
	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &many))
	assert.Equal(t, StringList{"a", "b"}, many)

	var bad StringList
	assert.Error(t, json.Unmarshal([]byte(`{"not":"a list"}`), &bad))
}

func TestStringList_UnmarshalYAML(t *testing.T) {
	var def TransitionDefinition
	require.NoError(t, yaml.Unmarshal([]byte("id: go\nfrom: '*'\nto:\n  - a\n  - b\n"), &def))

	assert.Equal(t, StringList{"*"}, def.From)
	assert.Equal(t, StringList{"a", "b"}, def.To)
}

func TestStringList_Contains(t *testing.T) {
	l := StringList{"a", "b"}
	assert.True(t, l.Contains("a"))
	assert.False(t, l.Contains("c"))
}

func TestTransitionDefinition_IsOnEntry(t *testing.T) {
	assert.False(t, (&TransitionDefinition{}).IsOnEntry())
	assert.False(t, (&TransitionDefinition{Trigger: TriggerManual}).IsOnEntry())
	assert.True(t, (&TransitionDefinition{Trigger: TriggerOnEntry}).IsOnEntry())
}

func TestMachineConfig_DecodesToolCalls(t *testing.T) {
	raw := []byte(`{
		"name": "approval",
		"transitions": [{
			"id": "submit",
			"from": "initial",
			"to": "review",
			"call": [{
				"tool": "document.create",
				"args": {"name": "report"},
				"assign": {"documentId": "output.id"}
			}]
		}]
	}`)

	var cfg MachineConfig
	require.NoError(t, json.Unmarshal(raw, &cfg))
	require.Len(t, cfg.Transitions, 1)
	require.Len(t, cfg.Transitions[0].Calls, 1)

	call := cfg.Transitions[0].Calls[0]
	assert.Equal(t, "document.create", call.Tool)
	assert.Equal(t, "report", call.Args["name"])
	assert.Equal(t, "output.id", call.Assign["documentId"])
}
