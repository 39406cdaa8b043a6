package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCELEngine_EvaluateBool(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	activation := map[string]any{
		"workflow": map[string]any{"place": "review"},
		"context":  map[string]any{"retries": 3},
		"data":     map[string]any{"approved": true},
		"options":  map[string]any{"mode": "fast"},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`data["approved"] == true`, true},
		{`workflow["place"] == "review"`, true},
		{`context["retries"] >= 5`, false},
		{`options["mode"] == "fast" && data["approved"] == true`, true},
	}
	for _, tc := range cases {
		got, err := eng.EvaluateBool(context.Background(), tc.expr, activation)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestCELEngine_MissingScopesDefaultEmpty(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	got, err := eng.EvaluateBool(context.Background(), `"k" in options`, nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestCELEngine_NonBooleanResultRejected(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	_, err = eng.EvaluateBool(context.Background(), `options["mode"]`, map[string]any{
		"options": map[string]any{"mode": "fast"},
	})
	assert.Error(t, err)
}

func TestCELEngine_InvalidExpressionRejected(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	_, err = eng.EvaluateBool(context.Background(), `this is not cel`, nil)
	assert.Error(t, err)
}

func TestCELEngine_CachesCompiledPrograms(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	const expr = `context["retries"] < 10`
	for i := 0; i < 3; i++ {
		got, err := eng.EvaluateBool(context.Background(), expr, map[string]any{
			"context": map[string]any{"retries": i},
		})
		require.NoError(t, err)
		assert.True(t, got)
	}
}
