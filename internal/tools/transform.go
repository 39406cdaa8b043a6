package tools

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/conveyor/pkg/schema"
)

// transformTool runs a jq program over an input value, typically used to
// reshape context or payload data between transitions.
// Compiled programs are cached and reused across invocations.
type transformTool struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func newTransformTool() *transformTool {
	return &transformTool{cache: make(map[string]*gojq.Code)}
}

func (t *transformTool) Name() string { return "transform" }

func (t *transformTool) Schema() ToolSchema {
	return ToolSchema{
		ArgsSchema: []byte(`{
			"type": "object",
			"required": ["query"],
			"properties": {
				"query": {"type": "string", "minLength": 1},
				"input": {}
			},
			"additionalProperties": false
		}`),
		Description: "Apply a jq program to the given input value.",
	}
}

func (t *transformTool) Execute(ctx context.Context, input ToolInput) (*ToolResult, error) {
	query, err := argString(input.Args, "query")
	if err != nil {
		return nil, err
	}

	code, err := t.getOrCompile(query)
	if err != nil {
		return nil, err
	}

	source := input.Args["input"]
	if source == nil {
		source = input.Context
	}

	var results []any
	iter := code.RunWithContext(ctx, source)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if iterErr, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", query, iterErr.Error()).WithCause(iterErr)
		}
		results = append(results, v)
	}

	var output any
	switch len(results) {
	case 0:
		output = nil
	case 1:
		output = results[0]
	default:
		output = results
	}
	return &ToolResult{Output: output}, nil
}

func (t *transformTool) getOrCompile(query string) (*gojq.Code, error) {
	t.mu.RLock()
	if code, ok := t.cache[query]; ok {
		t.mu.RUnlock()
		return code, nil
	}
	t.mu.RUnlock()

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid jq query %q: %s", query, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile jq query %q: %s", query, err.Error()).WithCause(err)
	}

	t.mu.Lock()
	t.cache[query] = code
	t.mu.Unlock()

	return code, nil
}
