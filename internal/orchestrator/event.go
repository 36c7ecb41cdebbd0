// Package orchestrator implements the Conversation Orchestrator (C7,
// spec.md §4.7): the per-turn state machine that wires the planner, the
// response router, the vector retriever, the reranker, and the
// answer/summarizer endpoints into a single streaming operation, and owns
// the two conversation history logs. Grounded on
// original_source/cogops/agent.py's ChatAgent.process_query, translated
// from a Python async generator to a Go event channel.
package orchestrator

// EventType tags the kind of content carried by an Event (spec.md §6:
// "Each event has a tag field and a content field").
type EventType string

const (
	EventAnswerChunk EventType = "answer_chunk"
	EventFinalData   EventType = "final_data"
	EventError       EventType = "error"
)

// Event is one item of process_query's output stream.
type Event struct {
	Type    EventType
	Content string
	Sources []string // populated only on EventFinalData
}
