// Package config loads the flat, environment-sourced configuration for the
// query orchestration pipeline (spec.md §6). Every sub-config groups one
// component's knobs, mirroring the teacher's nested *Config struct style.
package config

import "time"

// LLMEndpointConfig describes one named LLM endpoint (spec.md §6: "Named
// LLM endpoints").
type LLMEndpointConfig struct {
	Name             string
	Provider         string // "anthropic" | "openai"
	APIKey           string
	Model            string
	BaseURL          string
	MaxContextTokens int
	Timeout          time.Duration
}

// TaskMappingConfig maps each pipeline task to the name of the LLM endpoint
// that serves it.
type TaskMappingConfig struct {
	Planner               string
	NonRetrievalResponder string
	Reranker              string
	AnswerGenerator       string
	Summarizer            string
}

// SamplingParams are the per-task sampling knobs (spec.md §6: "Per-task
// sampling parameters").
type SamplingParams struct {
	Temperature   float64
	TopP          float64
	MaxTokens     int
	StopSequences []string
}

// TokenManagementConfig configures the Token Accountant (C1).
type TokenManagementConfig struct {
	TokenizerModel    string
	ReservationTokens int
	HistoryFraction   float64
}

// VectorRetrieverConfig configures the Vector Retriever (C3).
type VectorRetrieverConfig struct {
	ShardCollections  []string
	PassageCollection string
	DSN               string
	Dimensions        int
	Metric            string
	TopKPerShard      int
	MaxResults        int
	RRFK              int
	PassageIDMetaKey  string
	QueryTimeout      time.Duration
}

// ConcurrencyConfig bounds fan-out (spec.md §5).
type ConcurrencyConfig struct {
	RerankerLimit int
}

// RerankerConfig configures C4's relevance cut.
type RerankerConfig struct {
	RelevanceThreshold int
}

// HistoryConfig bounds the dual conversation memory (spec.md §3).
type HistoryConfig struct {
	WindowSize             int
	ClarificationPaceDelay time.Duration
}

// CategoryRefinementConfig configures the fuzzy category match (spec.md §4.7)
// and the service vocabulary text used by the pivot branch.
type CategoryRefinementConfig struct {
	ScoreCutoff float64
	Categories  []string
	ServiceData string
}

// ResponseTemplatesConfig holds canned responses (spec.md §6).
type ResponseTemplatesConfig struct {
	PlanGenerationFailed string
	NoPassagesFound      string
	ErrorFallback        string
	ServicesUnavailable  string
}

// AgentIdentityConfig names the assistant persona threaded into
// non-retrieval prompts (spec.md §6, SPEC_FULL §12).
type AgentIdentityConfig struct {
	Name  string
	Story string
}

// EmbeddingConfig configures the query-embedding endpoint the vector
// retriever calls before each shard search (spec.md §6: "vector-store and
// embedding service addresses... sourced from the process environment").
type EmbeddingConfig struct {
	BaseURL string
	Path    string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// Config is the root configuration object, constructed once at process
// start and held immutably thereafter (spec.md §5: "after construction, the
// core holds no module-level mutable state").
type Config struct {
	LLMEndpoints      map[string]LLMEndpointConfig
	TaskMapping       TaskMappingConfig
	SamplingByTask    map[string]SamplingParams
	TokenManagement   TokenManagementConfig
	VectorRetriever   VectorRetrieverConfig
	Concurrency       ConcurrencyConfig
	Reranker          RerankerConfig
	History           HistoryConfig
	CategoryRefine    CategoryRefinementConfig
	ResponseTemplates ResponseTemplatesConfig
	AgentIdentity     AgentIdentityConfig
	Embedding         EmbeddingConfig

	LogPath  string
	LogLevel string
}

// Endpoint resolves the LLM endpoint configured for a given task name.
func (c Config) Endpoint(task string) (LLMEndpointConfig, bool) {
	var name string
	switch task {
	case "planner":
		name = c.TaskMapping.Planner
	case "non_retrieval_responder":
		name = c.TaskMapping.NonRetrievalResponder
	case "reranker":
		name = c.TaskMapping.Reranker
	case "answer_generator":
		name = c.TaskMapping.AnswerGenerator
	case "summarizer":
		name = c.TaskMapping.Summarizer
	}
	ep, ok := c.LLMEndpoints[name]
	return ep, ok
}

// Sampling resolves the sampling params configured for a given task name,
// falling back to zero values. Provider clients always send the temperature,
// zero included; a zero top-p, max-tokens or empty stop list is left to the
// client's or provider's default.
func (c Config) Sampling(task string) SamplingParams {
	return c.SamplingByTask[task]
}
