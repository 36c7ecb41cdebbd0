// Package llmcap defines the LLM Capability (C2, spec.md §4.2): the three
// operations every pipeline stage performs against a remote model — unary
// completion, streamed completion, and schema-validated structured
// completion — independent of which provider backs a given task.
package llmcap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cogops/govqa/internal/config"
	"github.com/cogops/govqa/internal/coreerrors"
)

// Chunk is one piece of a streamed completion. Err is set, and Text is the
// final (possibly empty) fragment, exactly when the stream terminates on
// failure — the caller should stop ranging over the channel after an Err.
type Chunk struct {
	Text string
	Err  error
}

// Capability is the provider-agnostic surface every task-bound LLM endpoint
// exposes. Implementations wrap a single remote model configured with a
// declared MaxContextTokens (spec.md §4.2, §6).
type Capability interface {
	// Invoke performs a unary completion. Errors wrap coreerrors.ErrTransport,
	// ErrUpstream, or ErrEmptyResponse.
	Invoke(ctx context.Context, prompt string, params config.SamplingParams) (string, error)

	// Stream performs a streamed completion. The returned channel is closed
	// when the stream ends, whether by completion, error (delivered as the
	// final Chunk.Err), or context cancellation. The consumer may stop
	// ranging over the channel at any time; cancelling ctx releases the
	// underlying connection promptly.
	Stream(ctx context.Context, prompt string, params config.SamplingParams) (<-chan Chunk, error)

	// InvokeStructured appends a schema description to the prompt, requests
	// JSON-object output, and unmarshals+validates the response into out
	// (a pointer). Errors wrap coreerrors.ErrTransport, ErrUpstream,
	// ErrEmptyResponse, ErrSchemaViolation, or ErrContextOverflow.
	InvokeStructured(ctx context.Context, prompt string, schema Schema, out any, params config.SamplingParams) error

	// MaxContextTokens returns the endpoint's declared context window,
	// passed by callers to the Token Accountant (C1).
	MaxContextTokens() int
}

// Schema names and describes the JSON object a structured completion must
// produce. Definition is a JSON-Schema document (draft 2020-12 compatible).
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

// ValidateAgainstSchema decodes raw into a generic value, compiles
// schema.Definition, and validates the value against it. It returns a
// wrapped coreerrors.ErrSchemaViolation on any failure, never a naked
// unmarshal/compile error, so callers can uniformly branch on
// errors.Is(err, coreerrors.ErrSchemaViolation).
func ValidateAgainstSchema(schema Schema, raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode structured response: %v", coreerrors.ErrSchemaViolation, err)
	}

	schemaJSON, err := json.Marshal(schema.Definition)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal schema: %v", coreerrors.ErrSchemaViolation, err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("%w: decode schema: %v", coreerrors.ErrSchemaViolation, err)
	}

	compiler := jsonschema.NewCompiler()
	resourceName := schema.Name
	if resourceName == "" {
		resourceName = "schema.json"
	}
	if err := compiler.AddResource(resourceName, schemaDoc); err != nil {
		return nil, fmt.Errorf("%w: add schema resource: %v", coreerrors.ErrSchemaViolation, err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("%w: compile schema: %v", coreerrors.ErrSchemaViolation, err)
	}

	var anyDoc any
	if err := json.Unmarshal(raw, &anyDoc); err != nil {
		return nil, fmt.Errorf("%w: decode for validation: %v", coreerrors.ErrSchemaViolation, err)
	}
	if err := compiled.Validate(anyDoc); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrSchemaViolation, err)
	}
	return doc, nil
}
