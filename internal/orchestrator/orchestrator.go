package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cogops/govqa/internal/config"
	"github.com/cogops/govqa/internal/coreerrors"
	"github.com/cogops/govqa/internal/llmcap"
	"github.com/cogops/govqa/internal/obslog"
	"github.com/cogops/govqa/internal/plan"
	"github.com/cogops/govqa/internal/rerank"
	"github.com/cogops/govqa/internal/router"
	"github.com/cogops/govqa/internal/tokenbudget"
	"github.com/cogops/govqa/internal/vectorstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = obslog.Tracer("govqa/orchestrator")

// answerPromptTemplate is the "intelligent synthesizer" prompt, grounded on
// original_source/cogops/prompts/answer.py's SYNTHESIS_ANSWER_PROMPT,
// renamed to the {history_str}/{passages_context} slot names the token
// accountant fills.
const answerPromptTemplate = `[SYSTEM INSTRUCTION]
You are an intelligent, empathetic, and precise AI assistant for Bangladesh Government services. Your most important skill is to synthesize a helpful answer from the provided RELEVANT PASSAGES while also being transparent about any information you lack. Perform a brief gap analysis first: if the user asked for a specific detail (a location, an office name, a person) that the passages do not cover, acknowledge that gap politely, then bridge into the general information the passages do provide. If no gap exists, answer directly.

CRUCIAL RULES:
1. NO INLINE CITATIONS: the final answer must be clean text, with no [passage_id] markers.
2. Use only the provided passages; never invent missing information.
3. Respond in clear, natural-sounding Bengali.

Conversation History:
{history_str}

User Query:
{user_query}

RELEVANT PASSAGES:
---
{passages_context}
---

[FINAL RESPONSE IN BENGALI, WITHOUT CITATION MARKERS]`

// summaryPromptTemplate condenses one answered turn into a 1-2 sentence
// memory entry. The original's SUMMARY_GENERATION_PROMPT text was not
// retrieved into the pack; authored independently in the sibling prompts'
// idiom (see DESIGN.md).
const summaryPromptTemplate = `[SYSTEM INSTRUCTION]
Summarize the following question-and-answer exchange in 1-2 sentences, in Bengali, preserving any concrete facts (fees, document names, office names) the answer gave. Do not add information that is not in the answer.

User Query:
{user_query}

Assistant Answer:
{final_answer}

[1-2 SENTENCE SUMMARY IN BENGALI]`

// retriever narrows *vectorstore.Retriever to the one method the
// orchestrator calls, so tests can substitute a fake instead of dialing a
// live qdrant instance.
type retriever interface {
	Retrieve(ctx context.Context, queryText string, filter vectorstore.Filter) ([]vectorstore.CandidatePassage, error)
}

// Orchestrator implements the Conversation Orchestrator (C7). One instance
// owns exactly one conversation's dual history logs; concurrent turns on
// the same instance are not supported (spec.md §5: "single-threaded
// cooperative per conversation").
type Orchestrator struct {
	planner    *plan.Planner
	responder  llmcap.Capability
	answerGen  llmcap.Capability
	summarizer llmcap.Capability
	retriever  retriever
	reranker   *rerank.Reranker
	accountant *tokenbudget.Accountant

	identity           config.AgentIdentityConfig
	templates          config.ResponseTemplatesConfig
	categoryVocabulary []string
	categoryCutoff     float64
	serviceData        string

	relevanceThreshold      int
	historyWindow           int
	clarificationPaceDelay  time.Duration
	samplingResponder       config.SamplingParams
	samplingAnswer          config.SamplingParams
	samplingSummarizer      config.SamplingParams

	verbatimLog   []tokenbudget.HistoryTurn
	summarizedLog []tokenbudget.HistoryTurn
}

// New wires the orchestrator from its already-constructed collaborators and
// the loaded configuration. serviceData is the pre-formatted service
// vocabulary text used by the pivot branch (spec.md §4.7 step 5); in the
// original this was a separate SERVICE_DATA constant not present in the
// retrieval pack, so cmd/govqa passes the configured service_data, or the
// category vocabulary text when none is configured.
func New(
	planner *plan.Planner,
	responder llmcap.Capability,
	answerGen llmcap.Capability,
	summarizer llmcap.Capability,
	vectorRetriever retriever,
	reranker *rerank.Reranker,
	accountant *tokenbudget.Accountant,
	cfg config.Config,
	serviceData string,
) *Orchestrator {
	return &Orchestrator{
		planner:                planner,
		responder:              responder,
		answerGen:              answerGen,
		summarizer:             summarizer,
		retriever:              vectorRetriever,
		reranker:               reranker,
		accountant:             accountant,
		identity:               cfg.AgentIdentity,
		templates:              cfg.ResponseTemplates,
		categoryVocabulary:     cfg.CategoryRefine.Categories,
		categoryCutoff:         cfg.CategoryRefine.ScoreCutoff,
		serviceData:            serviceData,
		relevanceThreshold:     cfg.Reranker.RelevanceThreshold,
		historyWindow:          cfg.History.WindowSize,
		clarificationPaceDelay: cfg.History.ClarificationPaceDelay,
		samplingResponder:      cfg.Sampling("non_retrieval_responder"),
		samplingAnswer:         cfg.Sampling("answer_generator"),
		samplingSummarizer:     cfg.Sampling("summarizer"),
	}
}

// ProcessQuery runs one turn's state machine and returns its event stream.
// The channel is closed once the turn reaches completed or errored
// (spec.md §6: "process_query(user_query) → event stream").
func (o *Orchestrator) ProcessQuery(ctx context.Context, userQuery string) <-chan Event {
	out := make(chan Event)
	go o.run(ctx, userQuery, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, userQuery string, out chan<- Event) {
	defer close(out)

	log := obslog.WithTrace(ctx)
	log.Info().Str("user_query", userQuery).Msg("orchestrator_turn_started")

	historyText := o.formatVerbatimHistory()

	planCtx, planSpan := tracer.Start(ctx, "plan")
	queryPlan, err := o.planner.Plan(planCtx, historyText, userQuery)
	if err != nil {
		// spec.md §8 S5: any failure during planning (transport or
		// schema_violation alike) surfaces the plan_generation_failed
		// template, not the generic services-unavailable one.
		planSpan.RecordError(err)
		planSpan.SetStatus(codes.Error, err.Error())
		planSpan.End()
		log.Error().Err(err).Msg("orchestrator_plan_failed")
		emitError(ctx, out, o.templates.PlanGenerationFailed)
		return
	}
	planSpan.End()
	log.Info().Str("kind", string(queryPlan.Kind)).Msg("orchestrator_plan_ready")

	switch {
	case queryPlan.Kind == plan.KindAmbiguous:
		o.runClarification(ctx, userQuery, queryPlan, out)
	case queryPlan.Kind.IsNonRetrieval():
		o.runNonRetrieval(ctx, userQuery, queryPlan, historyText, out)
	case queryPlan.Kind == plan.KindInDomain:
		o.runRetrievalSynthesis(ctx, userQuery, queryPlan, historyText, out)
	default:
		// Unreachable under the closed nine-value vocabulary; guarded
		// defensively since Kind crosses a process boundary (invoke_structured).
		log.Error().Str("kind", string(queryPlan.Kind)).Msg("orchestrator_unknown_plan_kind")
		emitError(ctx, out, o.templates.ErrorFallback)
	}
}

// runClarification implements the planning→clarifying→completed edge
// (spec.md §4.6): the clarification text is streamed character-by-character
// with a pacing delay, then appended to both logs (same text in each, since
// there is no separate summarized form for a short clarification).
func (o *Orchestrator) runClarification(ctx context.Context, userQuery string, p plan.QueryPlan, out chan<- Event) {
	for _, r := range p.Clarification {
		select {
		case out <- Event{Type: EventAnswerChunk, Content: string(r)}:
		case <-ctx.Done():
			return
		}
		if o.clarificationPaceDelay > 0 {
			t := time.NewTimer(o.clarificationPaceDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
	}
	o.appendHistory(userQuery, p.Clarification, p.Clarification)
}

// runNonRetrieval implements the planning→non_retrieval_streaming→completed
// edge (spec.md §4.6) for the seven non-retrieval kinds.
func (o *Orchestrator) runNonRetrieval(ctx context.Context, userQuery string, p plan.QueryPlan, historyText string, out chan<- Event) {
	prompt := router.NonRetrievalPrompt(p, historyText, userQuery, o.identity)
	answer, ok := o.streamResponse(ctx, o.responder, prompt, o.samplingResponder, out)
	if !ok {
		return
	}
	o.appendHistory(userQuery, answer, answer)
}

// runRetrievalSynthesis implements spec.md §4.7 steps 1-9: category
// refinement, retrieval, reranking, the relevance cut, and the
// pivot/synthesis branches.
func (o *Orchestrator) runRetrievalSynthesis(ctx context.Context, userQuery string, p plan.QueryPlan, historyText string, out chan<- Event) {
	log := obslog.WithTrace(ctx)

	refinedCategory, categoryAccepted := router.RefineCategory(p.Category, o.categoryVocabulary, o.categoryCutoff)
	var filter vectorstore.Filter
	if categoryAccepted {
		filter = vectorstore.Filter{"category": refinedCategory}
	}

	retrieveCtx, retrieveSpan := tracer.Start(ctx, "retrieve")
	candidates, err := o.retriever.Retrieve(retrieveCtx, p.SearchQuery, filter)
	if err != nil {
		retrieveSpan.RecordError(err)
		retrieveSpan.SetStatus(codes.Error, err.Error())
		retrieveSpan.End()
		log.Error().Err(err).Msg("orchestrator_retrieve_failed")
		emitError(ctx, out, o.servicesOrFallback(err))
		return
	}
	retrieveSpan.SetAttributes(attribute.Int("candidate_count", len(candidates)))
	retrieveSpan.End()
	if len(candidates) == 0 {
		select {
		case out <- Event{Type: EventAnswerChunk, Content: o.templates.NoPassagesFound}:
		case <-ctx.Done():
		}
		return
	}

	rerankCtx, rerankSpan := tracer.Start(ctx, "rerank")
	ranked := o.reranker.Rerank(rerankCtx, o.verbatimLog, userQuery, p.SearchQuery, candidates)
	rerankSpan.End()

	var relevant []rerank.RankedPassage
	for _, r := range ranked {
		if r.Score <= o.relevanceThreshold {
			relevant = append(relevant, r)
		}
	}
	// Most relevant first (score ascending, lower passage id on ties), the
	// order the token accountant's tail-first passage truncation assumes.
	sort.Slice(relevant, func(i, j int) bool {
		if relevant[i].Score != relevant[j].Score {
			return relevant[i].Score < relevant[j].Score
		}
		return relevant[i].PassageID < relevant[j].PassageID
	})

	if len(relevant) == 0 {
		log.Warn().Msg("orchestrator_pivoting_no_relevant_passages")
		pivotPrompt := router.PivotPrompt(historyText, userQuery, refinedCategory, o.serviceData)
		answer, ok := o.streamResponse(ctx, o.responder, pivotPrompt, o.samplingResponder, out)
		if !ok {
			return
		}
		o.appendHistory(userQuery, answer, answer)
		return
	}

	passages := make([]tokenbudget.PassageContext, 0, len(relevant))
	for _, r := range relevant {
		passages = append(passages, tokenbudget.PassageContext{PassageID: r.PassageID, Document: r.Document})
	}
	answerPrompt := o.accountant.BuildPrompt(ctx, answerPromptTemplate, o.answerGen.MaxContextTokens(), tokenbudget.PromptInputs{
		Fixed:    map[string]string{"user_query": userQuery},
		History:  o.summarizedLog,
		Passages: passages,
	})

	synthesizeCtx, synthesizeSpan := tracer.Start(ctx, "synthesize")
	finalAnswer, ok := o.streamResponse(synthesizeCtx, o.answerGen, answerPrompt, o.samplingAnswer, out)
	synthesizeSpan.End()
	if !ok {
		return
	}
	finalAnswer = strings.TrimSpace(finalAnswer)

	select {
	case out <- Event{Type: EventFinalData, Sources: computeSources(relevant)}:
	case <-ctx.Done():
		return
	}

	summarizeCtx, summarizeSpan := tracer.Start(ctx, "summarize")
	summary := o.summarize(summarizeCtx, userQuery, finalAnswer)
	summarizeSpan.End()
	o.appendHistory(userQuery, finalAnswer, summary)
}

// summarize invokes the summarizer task. A summarizer failure is degraded
// to using the final answer verbatim as its own memory entry rather than
// aborting the turn: the answer stream and final_data have already reached
// the caller, so there is nothing left to retract, and falling back keeps
// invariant 1 (|verbatim_log| = |summarized_log|) intact (spec.md §8) —
// the original's unconditional raw_history append before the summarizer
// call, with no fallback on failure, would otherwise desynchronize the two
// logs; see DESIGN.md.
func (o *Orchestrator) summarize(ctx context.Context, userQuery, finalAnswer string) string {
	prompt := strings.NewReplacer(
		"{user_query}", userQuery,
		"{final_answer}", finalAnswer,
	).Replace(summaryPromptTemplate)

	summary, err := o.summarizer.Invoke(ctx, prompt, o.samplingSummarizer)
	if err != nil {
		obslog.WithTrace(ctx).Warn().Err(err).Msg("orchestrator_summary_failed_fallback_to_final_answer")
		return finalAnswer
	}
	return strings.TrimSpace(summary)
}

// streamResponse drains capability's stream, emitting each chunk as it
// arrives (spec.md §9: "begin emitting answer_chunk events as soon as the
// first upstream chunk arrives"). It returns the concatenated text and true
// on a clean close, or ("", false) after emitting an error event.
func (o *Orchestrator) streamResponse(ctx context.Context, capability llmcap.Capability, prompt string, sampling config.SamplingParams, out chan<- Event) (string, bool) {
	ch, err := capability.Stream(ctx, prompt, sampling)
	if err != nil {
		obslog.WithTrace(ctx).Error().Err(err).Msg("orchestrator_stream_start_failed")
		emitError(ctx, out, o.servicesOrFallback(err))
		return "", false
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			obslog.WithTrace(ctx).Error().Err(chunk.Err).Msg("orchestrator_stream_failed")
			emitError(ctx, out, o.servicesOrFallback(chunk.Err))
			return "", false
		}
		sb.WriteString(chunk.Text)
		select {
		case out <- Event{Type: EventAnswerChunk, Content: chunk.Text}:
		case <-ctx.Done():
			return "", false
		}
	}
	return sb.String(), true
}

// servicesOrFallback classifies err for the user-visible template choice
// (spec.md §7): transport, upstream and empty-response failures get the
// services-unavailable message, anything else gets the generic fallback.
func (o *Orchestrator) servicesOrFallback(err error) string {
	if coreerrors.IsTransportClass(err) {
		return o.templates.ServicesUnavailable
	}
	return o.templates.ErrorFallback
}

// appendHistory mutates both logs atomically and trims both to the
// configured window, oldest-first (spec.md §8 invariant 1). Generalizes the
// original's single `if len(...) > window: pop(0)`, which only corrects a
// one-turn overshoot, to a loop-free slice-trim that holds regardless of
// window size changes between turns.
func (o *Orchestrator) appendHistory(userQuery, verbatimReply, summaryReply string) {
	o.verbatimLog = append(o.verbatimLog, tokenbudget.HistoryTurn{User: userQuery, Assistant: verbatimReply})
	o.summarizedLog = append(o.summarizedLog, tokenbudget.HistoryTurn{User: userQuery, Assistant: summaryReply})

	if o.historyWindow > 0 {
		if len(o.verbatimLog) > o.historyWindow {
			o.verbatimLog = o.verbatimLog[len(o.verbatimLog)-o.historyWindow:]
		}
		if len(o.summarizedLog) > o.historyWindow {
			o.summarizedLog = o.summarizedLog[len(o.summarizedLog)-o.historyWindow:]
		}
	}
}

// formatVerbatimHistory mirrors original_source/cogops/agent.py's
// _format_history_for_planner: a non-truncating, verbatim flattening used
// only for the planner and the non-retrieval/pivot prompts, distinct from
// C1's ceiling-aware history truncation (SPEC_FULL §14 Open Question 1).
func (o *Orchestrator) formatVerbatimHistory() string {
	if len(o.verbatimLog) == 0 {
		return "No conversation history yet."
	}
	parts := make([]string, 0, len(o.verbatimLog))
	for _, t := range o.verbatimLog {
		parts = append(parts, fmt.Sprintf("User: %s\nAI: %s", t.User, t.Assistant))
	}
	return strings.Join(parts, "\n---\n")
}

// computeSources implements spec.md §4.7 step 7: distinct urls, sorted,
// followed by distinct passage ids, sorted, both as strings.
func computeSources(passages []rerank.RankedPassage) []string {
	urlSet := make(map[string]struct{})
	idSet := make(map[int64]struct{})
	for _, p := range passages {
		if u := p.Metadata["url"]; u != "" {
			urlSet[u] = struct{}{}
		}
		idSet[p.PassageID] = struct{}{}
	}

	urls := make([]string, 0, len(urlSet))
	for u := range urlSet {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = strconv.FormatInt(id, 10)
	}
	return append(urls, idStrs...)
}

// emitError sends a terminal error event, dropping it silently if ctx is
// already cancelled (spec.md §5: cancellation must not block on a consumer
// that has stopped reading).
func emitError(ctx context.Context, out chan<- Event, content string) {
	select {
	case out <- Event{Type: EventError, Content: content}:
	case <-ctx.Done():
	}
}
