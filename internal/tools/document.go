package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/conveyor/internal/store"
	"github.com/rendis/conveyor/internal/validation"
	"github.com/rendis/conveyor/pkg/schema"
)

// documentCreateTool persists an immutable document as a side effect of the
// current transition. When a "schema" arg is present the content is validated
// against it; a validation failure is recorded on the document rather than
// failing the transition, so the document can be corrected later.
type documentCreateTool struct {
	store     store.Store
	validator *validation.SchemaValidator
}

func (t *documentCreateTool) Name() string { return "document.create" }

func (t *documentCreateTool) Schema() ToolSchema {
	return ToolSchema{
		ArgsSchema: []byte(`{
			"type": "object",
			"required": ["name"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"content": {},
				"schema": {"type": "object"}
			},
			"additionalProperties": false
		}`),
		Description: "Create an immutable document owned by the current workflow.",
	}
}

func (t *documentCreateTool) Execute(ctx context.Context, input ToolInput) (*ToolResult, error) {
	if input.Workflow == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "document.create requires a workflow")
	}
	name, err := argString(input.Args, "name")
	if err != nil {
		return nil, err
	}

	content, err := json.Marshal(input.Args["content"])
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"marshal document content: %s", err.Error()).WithCause(err)
	}

	existing, err := t.store.ListDocuments(ctx, input.Workflow.ID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"list documents: %s", err.Error()).WithCause(err)
	}
	version := 1
	for _, doc := range existing {
		if doc.Name == name {
			version++
		}
	}

	doc := &store.Document{
		ID:         uuid.New().String(),
		WorkflowID: input.Workflow.ID,
		Name:       name,
		Transition: input.TransitionID,
		Place:      input.Workflow.Place,
		Index:      len(existing),
		Version:    version,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}

	if schemaArg := argMapOpt(input.Args, "schema"); schemaArg != nil {
		schemaJSON, err := json.Marshal(schemaArg)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"marshal document schema: %s", err.Error()).WithCause(err)
		}
		if verr := t.validator.Validate(content, schemaJSON); verr != nil {
			doc.ValidationError = verr.Error()
		}
	}

	if err := t.store.CreateDocument(ctx, doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"create document: %s", err.Error()).WithCause(err)
	}

	return &ToolResult{
		Output: map[string]any{
			"id":      doc.ID,
			"name":    doc.Name,
			"index":   doc.Index,
			"version": doc.Version,
			"valid":   doc.ValidationError == "",
		},
	}, nil
}
