package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/conveyor/pkg/schema"
)

func TestExprEngine_Evaluate(t *testing.T) {
	eng := NewExprEngine()

	env := map[string]any{
		"context": map[string]any{"retries": 3, "owner": "ops"},
		"data":    map[string]any{"amount": 120.5},
	}

	got, err := eng.Evaluate(context.Background(), `context.retries + 1`, env)
	require.NoError(t, err)
	assert.Equal(t, 4, got)

	got, err = eng.Evaluate(context.Background(), `data.amount > 100`, env)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = eng.Evaluate(context.Background(), `upper(context.owner)`, env)
	require.NoError(t, err)
	assert.Equal(t, "OPS", got)
}

func TestExprEngine_UndefinedVariablesAllowed(t *testing.T) {
	eng := NewExprEngine()

	got, err := eng.Evaluate(context.Background(), `missing`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExprEngine_EmptyExpressionRejected(t *testing.T) {
	eng := NewExprEngine()

	_, err := eng.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestExprEngine_InvalidExpressionRejected(t *testing.T) {
	eng := NewExprEngine()

	_, err := eng.Evaluate(context.Background(), `1 +`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestExprEngine_CachesPrograms(t *testing.T) {
	eng := NewExprEngine()

	const expression = `n * 2`
	for i := 1; i <= 3; i++ {
		got, err := eng.Evaluate(context.Background(), expression, map[string]any{"n": i})
		require.NoError(t, err)
		assert.Equal(t, i*2, got)
	}
}
