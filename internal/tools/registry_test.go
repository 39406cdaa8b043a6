package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/conveyor/pkg/schema"
)

type stubTool struct {
	name    string
	schema  ToolSchema
	execute func(ctx context.Context, input ToolInput) (*ToolResult, error)
}

func (t *stubTool) Name() string       { return t.name }
func (t *stubTool) Schema() ToolSchema { return t.schema }

func (t *stubTool) Execute(ctx context.Context, input ToolInput) (*ToolResult, error) {
	if t.execute == nil {
		return &ToolResult{}, nil
	}
	return t.execute(ctx, input)
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubTool{name: "echo"}))

	tool, err := reg.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", tool.Name())
	assert.True(t, reg.Has("echo"))
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubTool{name: "echo"}))

	err := reg.Register(&stubTool{name: "echo"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestRegistry_UnknownToolUnavailable(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Resolve("missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeToolUnavailable, schema.CodeOf(err))
}

func TestRegistry_InvalidRegistrations(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(&stubTool{name: ""}))
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"transform", "context.set", "log"} {
		require.NoError(t, reg.Register(&stubTool{name: name}))
	}

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "context.set", infos[0].Name)
	assert.Equal(t, "log", infos[1].Name)
	assert.Equal(t, "transform", infos[2].Name)
}
