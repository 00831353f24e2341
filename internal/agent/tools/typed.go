package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// TypedTool adapts a function over a Go argument struct to Tool. The
// argument schema is reflected from A: fields without omitempty are required,
// and descriptions come from jsonschema_description tags.
type TypedTool[A any] struct {
	name        string
	description string
	readOnly    bool
	schema      map[string]interface{}
	required    []string
	fn          func(ctx context.Context, args A) (*Result, error)
}

// TypedOption configures a TypedTool.
type TypedOption func(*typedOptions)

type typedOptions struct {
	readOnly bool
}

// WithReadOnly marks the tool as free of side effects.
func WithReadOnly() TypedOption {
	return func(o *typedOptions) { o.readOnly = true }
}

// NewTyped builds a tool from fn.
func NewTyped[A any](name, description string, fn func(ctx context.Context, args A) (*Result, error), opts ...TypedOption) *TypedTool[A] {
	var o typedOptions
	for _, opt := range opts {
		opt(&o)
	}
	schema := SchemaFor[A]()
	return &TypedTool[A]{
		name:        name,
		description: description,
		readOnly:    o.readOnly,
		schema:      schema,
		required:    requiredFields(schema),
		fn:          fn,
	}
}

func (t *TypedTool[A]) Name() string                        { return t.name }
func (t *TypedTool[A]) Description() string                 { return t.description }
func (t *TypedTool[A]) InputSchema() map[string]interface{} { return t.schema }
func (t *TypedTool[A]) ReadOnly() bool                      { return t.readOnly }

// Execute decodes input strictly and calls the handler.
func (t *TypedTool[A]) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	args, err := decodeArgs[A](t.name, input, t.required)
	if err != nil {
		return nil, err
	}
	return t.fn(ctx, args)
}

// SchemaFor reflects the JSON Schema of A as a plain map.
func SchemaFor[A any]() map[string]interface{} {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	encoded, err := json.Marshal(r.Reflect(new(A)))
	if err != nil {
		panic(fmt.Sprintf("tools: cannot encode schema for %T: %v", *new(A), err))
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(encoded, &schema); err != nil {
		panic(fmt.Sprintf("tools: cannot decode schema for %T: %v", *new(A), err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	schema["type"] = "object"
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]interface{}{}
	}
	return schema
}

func requiredFields(schema map[string]interface{}) []string {
	raw, _ := schema["required"].([]interface{})
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeArgs[A any](tool string, input json.RawMessage, required []string) (A, error) {
	var args A
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil || fields == nil {
		return args, &ArgumentError{Tool: tool, Reason: "arguments must be a JSON object"}
	}
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			return args, &ArgumentError{Tool: tool, Reason: fmt.Sprintf("missing required argument %q", name)}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(input))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, &ArgumentError{Tool: tool, Reason: err.Error()}
	}
	return args, nil
}
