// Package coreerrors defines the error taxonomy shared by every stage of the
// query orchestration pipeline (see spec.md §7). Stage-specific errors wrap
// one of these sentinels so callers can classify a failure with errors.Is
// without depending on which backend (Anthropic, OpenAI, Qdrant) produced it.
package coreerrors

import "errors"

var (
	// ErrTransport indicates a network/timeout failure reaching a remote
	// backend (LLM endpoint, vector store, embedding service).
	ErrTransport = errors.New("transport_error")

	// ErrUpstream indicates the remote backend responded but with a
	// non-success status or otherwise rejected the request.
	ErrUpstream = errors.New("upstream_error")

	// ErrEmptyResponse indicates a 2xx response carrying no usable content.
	ErrEmptyResponse = errors.New("empty_response")

	// ErrSchemaViolation indicates a structured completion failed to parse
	// or validate against its declared JSON schema.
	ErrSchemaViolation = errors.New("schema_violation")

	// ErrContextOverflow indicates the prompt was rejected for exceeding the
	// model's context window. Recoverable only inside the reranker (C4),
	// where it downgrades a passage to score=3 instead of dropping it.
	ErrContextOverflow = errors.New("context_overflow")

	// ErrCancelled indicates the turn was cancelled by the caller.
	ErrCancelled = errors.New("cancelled")

	// ErrPlanGenerationFailed indicates the query planner (C5) could not
	// produce a valid plan.
	ErrPlanGenerationFailed = errors.New("plan_generation_failed")
)

// IsTransportClass reports whether err should be treated as a network
// failure for the purposes of the orchestrator's "services unavailable"
// fallback (spec.md §7).
func IsTransportClass(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrUpstream) || errors.Is(err, ErrEmptyResponse)
}
