package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables, optionally layered
// over a .env file (teacher convention: internal/config/loader.go). Overload
// lets repository/local .env values win, including over variables already
// set in the process environment; variables absent from .env are read from
// the process environment as usual.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		LLMEndpoints:   map[string]LLMEndpointConfig{},
		SamplingByTask: map[string]SamplingParams{},
	}

	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

	loadEndpoint := func(prefix, provider string) {
		apiKey := strings.TrimSpace(os.Getenv(prefix + "_API_KEY"))
		model := strings.TrimSpace(os.Getenv(prefix + "_MODEL"))
		baseURL := strings.TrimSpace(os.Getenv(prefix + "_BASE_URL"))
		if apiKey == "" && model == "" && baseURL == "" {
			return
		}
		name := strings.ToLower(prefix)
		cfg.LLMEndpoints[name] = LLMEndpointConfig{
			Name:             name,
			Provider:         provider,
			APIKey:           apiKey,
			Model:            model,
			BaseURL:          baseURL,
			MaxContextTokens: intFromEnv(prefix+"_MAX_CONTEXT_TOKENS", 32_000),
			Timeout:          durationFromEnvSeconds(prefix+"_TIMEOUT_SECONDS", 30*time.Second),
		}
	}
	// Closed endpoint roster: a planner/reranker judge served by an
	// OpenAI-compatible structured-JSON endpoint, and an
	// answer/responder/summarizer family served by Anthropic. Both provider
	// families may be configured with distinct env prefixes per task so an
	// operator can route any task to any named endpoint via TASK_* vars.
	loadEndpoint("PLANNER", "openai")
	loadEndpoint("RERANKER", "openai")
	loadEndpoint("RESPONDER", "anthropic")
	loadEndpoint("ANSWER", "anthropic")
	loadEndpoint("SUMMARIZER", "anthropic")

	cfg.TaskMapping = TaskMappingConfig{
		Planner:               firstNonEmpty(os.Getenv("TASK_PLANNER_ENDPOINT"), "planner"),
		NonRetrievalResponder: firstNonEmpty(os.Getenv("TASK_RESPONDER_ENDPOINT"), "responder"),
		Reranker:              firstNonEmpty(os.Getenv("TASK_RERANKER_ENDPOINT"), "reranker"),
		AnswerGenerator:       firstNonEmpty(os.Getenv("TASK_ANSWER_ENDPOINT"), "answer"),
		Summarizer:            firstNonEmpty(os.Getenv("TASK_SUMMARIZER_ENDPOINT"), "summarizer"),
	}

	for _, task := range []string{"planner", "non_retrieval_responder", "reranker", "answer_generator", "summarizer"} {
		envPrefix := strings.ToUpper(task)
		cfg.SamplingByTask[task] = SamplingParams{
			Temperature:   floatFromEnv(envPrefix+"_TEMPERATURE", 0.2),
			TopP:          floatFromEnv(envPrefix+"_TOP_P", 1.0),
			MaxTokens:     intFromEnv(envPrefix+"_MAX_TOKENS", 1024),
			StopSequences: parseCommaSeparatedList(os.Getenv(envPrefix + "_STOP_SEQUENCES")),
		}
	}

	cfg.TokenManagement = TokenManagementConfig{
		TokenizerModel:    firstNonEmpty(os.Getenv("TOKENIZER_MODEL"), "cl100k_base"),
		ReservationTokens: intFromEnv("PROMPT_TEMPLATE_RESERVATION_TOKENS", 512),
		HistoryFraction:   floatFromEnv("HISTORY_TRUNCATION_FRACTION", 0.5),
	}

	cfg.VectorRetriever = VectorRetrieverConfig{
		ShardCollections:  parseCommaSeparatedList(os.Getenv("VECTOR_SHARD_COLLECTIONS")),
		PassageCollection: strings.TrimSpace(os.Getenv("VECTOR_PASSAGE_COLLECTION")),
		DSN:               firstNonEmpty(os.Getenv("VECTOR_STORE_DSN"), "http://localhost:6334"),
		Dimensions:        intFromEnv("VECTOR_DIMENSIONS", 1024),
		Metric:            firstNonEmpty(os.Getenv("VECTOR_METRIC"), "cosine"),
		TopKPerShard:      intFromEnv("VECTOR_TOP_K_PER_SHARD", 10),
		MaxResults:        intFromEnv("VECTOR_MAX_RESULTS", 10),
		RRFK:              intFromEnv("VECTOR_RRF_K", 60),
		PassageIDMetaKey:  firstNonEmpty(os.Getenv("VECTOR_PASSAGE_ID_META_KEY"), "passage_id"),
		QueryTimeout:      durationFromEnvSeconds("VECTOR_QUERY_TIMEOUT_SECONDS", 10*time.Second),
	}

	cfg.Concurrency = ConcurrencyConfig{
		RerankerLimit: intFromEnv("RERANKER_CONCURRENCY_LIMIT", 5),
	}
	cfg.Reranker = RerankerConfig{
		RelevanceThreshold: intFromEnv("RERANKER_RELEVANCE_THRESHOLD", 2),
	}
	cfg.History = HistoryConfig{
		WindowSize:             intFromEnv("HISTORY_WINDOW", 10),
		ClarificationPaceDelay: durationFromEnvMillis("CLARIFICATION_PACE_DELAY_MS", 10*time.Millisecond),
	}
	cfg.CategoryRefine = CategoryRefinementConfig{
		ScoreCutoff: floatFromEnv("CATEGORY_REFINEMENT_SCORE_CUTOFF", 0.6),
		Categories:  parseCommaSeparatedList(os.Getenv("CATEGORY_VOCABULARY")),
	}
	categoryRefine, err := loadServiceVocabulary(strings.TrimSpace(os.Getenv("SERVICE_VOCABULARY_FILE")), cfg.CategoryRefine)
	if err != nil {
		return Config{}, err
	}
	cfg.CategoryRefine = categoryRefine
	cfg.ResponseTemplates = ResponseTemplatesConfig{
		PlanGenerationFailed: firstNonEmpty(os.Getenv("TEMPLATE_PLAN_GENERATION_FAILED"), "দুঃখিত, আপনার প্রশ্নটি বুঝতে সমস্যা হয়েছে। অনুগ্রহ করে আবার চেষ্টা করুন।"),
		NoPassagesFound:      firstNonEmpty(os.Getenv("TEMPLATE_NO_PASSAGES_FOUND"), "দুঃখিত, এই বিষয়ে আমার কাছে কোনো তথ্য নেই।"),
		ErrorFallback:        firstNonEmpty(os.Getenv("TEMPLATE_ERROR_FALLBACK"), "একটি অপ্রত্যাশিত সমস্যা হয়েছে। অনুগ্রহ করে আবার চেষ্টা করুন।"),
		ServicesUnavailable:  firstNonEmpty(os.Getenv("TEMPLATE_SERVICES_UNAVAILABLE"), "সার্ভিসগুলো এই মুহূর্তে ব্যস্ত থাকায় উত্তর দেওয়া যাচ্ছে না।"),
	}
	cfg.AgentIdentity = AgentIdentityConfig{
		Name:  firstNonEmpty(os.Getenv("AGENT_NAME"), "AI Assistant"),
		Story: firstNonEmpty(os.Getenv("AGENT_STORY"), "I am a helpful AI assistant designed to provide information on government services."),
	}
	cfg.Embedding = EmbeddingConfig{
		BaseURL: firstNonEmpty(os.Getenv("EMBEDDING_BASE_URL"), "http://localhost:8080/v1"),
		Path:    firstNonEmpty(os.Getenv("EMBEDDING_PATH"), "/embeddings"),
		Model:   firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small"),
		APIKey:  strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")),
		Timeout: durationFromEnvSeconds("EMBEDDING_TIMEOUT_SECONDS", 15*time.Second),
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseCommaSeparatedList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func durationFromEnvSeconds(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func durationFromEnvMillis(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
