package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cogops/govqa/internal/config"
	"github.com/cogops/govqa/internal/coreerrors"
	"github.com/cogops/govqa/internal/llmcap"
	"github.com/cogops/govqa/internal/plan"
	"github.com/cogops/govqa/internal/rerank"
	"github.com/cogops/govqa/internal/tokenbudget"
	"github.com/cogops/govqa/internal/vectorstore"
)

// fakeCapability implements llmcap.Capability for structured/unary/stream
// calls, configurable per test.
type fakeCapability struct {
	structuredResponse string
	structuredErr      error
	invokeResponse     string
	invokeErr          error
	streamChunks       []llmcap.Chunk
	streamErr          error
	maxContext         int
}

func (f *fakeCapability) Invoke(ctx context.Context, prompt string, params config.SamplingParams) (string, error) {
	return f.invokeResponse, f.invokeErr
}

func (f *fakeCapability) Stream(ctx context.Context, prompt string, params config.SamplingParams) (<-chan llmcap.Chunk, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan llmcap.Chunk, len(f.streamChunks))
	for _, c := range f.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeCapability) InvokeStructured(ctx context.Context, prompt string, schema llmcap.Schema, out any, params config.SamplingParams) error {
	if f.structuredErr != nil {
		return f.structuredErr
	}
	return json.Unmarshal([]byte(f.structuredResponse), out)
}

func (f *fakeCapability) MaxContextTokens() int {
	if f.maxContext == 0 {
		return 8000
	}
	return f.maxContext
}

type fakeRetriever struct {
	candidates []vectorstore.CandidatePassage
	err        error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, queryText string, filter vectorstore.Filter) ([]vectorstore.CandidatePassage, error) {
	return f.candidates, f.err
}

func testConfig() config.Config {
	return config.Config{
		AgentIdentity: config.AgentIdentityConfig{Name: "Sheba", Story: "a helpful assistant"},
		ResponseTemplates: config.ResponseTemplatesConfig{
			PlanGenerationFailed: "plan failed",
			NoPassagesFound:      "no passages found",
			ErrorFallback:        "error fallback",
			ServicesUnavailable:  "services unavailable",
		},
		CategoryRefine: config.CategoryRefinementConfig{ScoreCutoff: 0.6, Categories: []string{"passport", "nid"}},
		Reranker:       config.RerankerConfig{RelevanceThreshold: 2},
		History:        config.HistoryConfig{WindowSize: 3, ClarificationPaceDelay: 0},
		SamplingByTask: map[string]config.SamplingParams{},
	}
}

func newTestAccountant() *tokenbudget.Accountant {
	return tokenbudget.NewAccountant(tokenbudget.NewTokenizer("cl100k_base"), 0, 0.5)
}

func newOrchestrator(t *testing.T, planner *plan.Planner, responder, answerGen, summarizer llmcap.Capability, retr retriever, rr *rerank.Reranker) *Orchestrator {
	t.Helper()
	return New(planner, responder, answerGen, summarizer, retr, rr, newTestAccountant(), testConfig(), "service vocabulary text")
}

func drain(ch <-chan Event) []Event {
	var events []Event
	for e := range ch {
		events = append(events, e)
	}
	return events
}

func TestProcessQuery_Ambiguous(t *testing.T) {
	planner := plan.New(&fakeCapability{structuredResponse: `{"kind":"ambiguous","search_query":null,"clarification":"কোন কর?","category":null}`}, newTestAccountant(), config.SamplingParams{}, "")
	o := newOrchestrator(t, planner, &fakeCapability{}, &fakeCapability{}, &fakeCapability{}, &fakeRetriever{}, rerank.New(&fakeCapability{}, newTestAccountant(), config.SamplingParams{}, 1))

	events := drain(o.ProcessQuery(context.Background(), "আমি কর দিতে চাই"))

	var reconstructed string
	for _, e := range events {
		require.Equal(t, EventAnswerChunk, e.Type)
		reconstructed += e.Content
	}
	require.Equal(t, "কোন কর?", reconstructed)
	require.Len(t, o.verbatimLog, 1)
	require.Equal(t, o.verbatimLog, o.summarizedLog)
	require.Equal(t, "কোন কর?", o.verbatimLog[0].Assistant)
}

func TestProcessQuery_NonRetrievalStreams(t *testing.T) {
	planner := plan.New(&fakeCapability{structuredResponse: `{"kind":"chitchat","search_query":null,"clarification":null,"category":null}`}, newTestAccountant(), config.SamplingParams{}, "")
	responder := &fakeCapability{streamChunks: []llmcap.Chunk{{Text: "Pa"}, {Text: "ris."}}}
	o := newOrchestrator(t, planner, responder, &fakeCapability{}, &fakeCapability{}, &fakeRetriever{}, rerank.New(&fakeCapability{}, newTestAccountant(), config.SamplingParams{}, 1))

	events := drain(o.ProcessQuery(context.Background(), "what is the capital of france"))

	var answer string
	for _, e := range events {
		require.Equal(t, EventAnswerChunk, e.Type)
		answer += e.Content
	}
	require.Equal(t, "Paris.", answer)
	require.Len(t, o.verbatimLog, 1)
	require.Equal(t, "Paris.", o.verbatimLog[0].Assistant)
}

func TestProcessQuery_InDomainNoPassages(t *testing.T) {
	planner := plan.New(&fakeCapability{structuredResponse: `{"kind":"in_domain","search_query":"q","clarification":null,"category":"passport"}`}, newTestAccountant(), config.SamplingParams{}, "")
	o := newOrchestrator(t, planner, &fakeCapability{}, &fakeCapability{}, &fakeCapability{}, &fakeRetriever{candidates: nil}, rerank.New(&fakeCapability{}, newTestAccountant(), config.SamplingParams{}, 1))

	events := drain(o.ProcessQuery(context.Background(), "query"))

	require.Len(t, events, 1)
	require.Equal(t, EventAnswerChunk, events[0].Type)
	require.Equal(t, "no passages found", events[0].Content)
	require.Empty(t, o.verbatimLog)
}

func TestProcessQuery_InDomainSynthesizesAndEmitsSources(t *testing.T) {
	planner := plan.New(&fakeCapability{structuredResponse: `{"kind":"in_domain","search_query":"q","clarification":null,"category":"passport"}`}, newTestAccountant(), config.SamplingParams{}, "")
	candidates := []vectorstore.CandidatePassage{
		{PassageID: 1, Document: "doc one", Metadata: map[string]string{"url": "http://b.example"}},
		{PassageID: 2, Document: "doc two", Metadata: map[string]string{"url": "http://a.example"}},
	}
	judge := &fakeCapability{structuredResponse: `{"score":1,"reasoning":"direct"}`}
	reranker := rerank.New(judge, newTestAccountant(), config.SamplingParams{}, 2)
	answerGen := &fakeCapability{streamChunks: []llmcap.Chunk{{Text: "the "}, {Text: "answer"}}}
	summarizer := &fakeCapability{invokeResponse: "a short summary"}

	o := newOrchestrator(t, planner, &fakeCapability{}, answerGen, summarizer, &fakeRetriever{candidates: candidates}, reranker)

	events := drain(o.ProcessQuery(context.Background(), "query"))

	require.Len(t, events, 3)
	require.Equal(t, EventAnswerChunk, events[0].Type)
	require.Equal(t, EventAnswerChunk, events[1].Type)
	require.Equal(t, EventFinalData, events[2].Type)
	require.Equal(t, []string{"http://a.example", "http://b.example", "1", "2"}, events[2].Sources)

	require.Len(t, o.verbatimLog, 1)
	require.Equal(t, "the answer", o.verbatimLog[0].Assistant)
	require.Equal(t, "a short summary", o.summarizedLog[0].Assistant)
}

func TestProcessQuery_PivotsWhenNothingClearsRelevanceCut(t *testing.T) {
	planner := plan.New(&fakeCapability{structuredResponse: `{"kind":"in_domain","search_query":"q","clarification":null,"category":"passport"}`}, newTestAccountant(), config.SamplingParams{}, "")
	candidates := []vectorstore.CandidatePassage{{PassageID: 1, Document: "doc"}}
	judge := &fakeCapability{structuredResponse: `{"score":3,"reasoning":"unrelated"}`}
	reranker := rerank.New(judge, newTestAccountant(), config.SamplingParams{}, 1)
	responder := &fakeCapability{streamChunks: []llmcap.Chunk{{Text: "pivot response"}}}

	o := newOrchestrator(t, planner, responder, &fakeCapability{}, &fakeCapability{}, &fakeRetriever{candidates: candidates}, reranker)

	events := drain(o.ProcessQuery(context.Background(), "query"))

	for _, e := range events {
		require.Equal(t, EventAnswerChunk, e.Type)
	}
	require.Len(t, o.verbatimLog, 1)
	require.Equal(t, "pivot response", o.verbatimLog[0].Assistant)
}

func TestProcessQuery_PlanFailureEmitsSingleErrorNoHistoryMutation(t *testing.T) {
	planner := plan.New(&fakeCapability{structuredErr: coreerrors.ErrTransport}, newTestAccountant(), config.SamplingParams{}, "")
	o := newOrchestrator(t, planner, &fakeCapability{}, &fakeCapability{}, &fakeCapability{}, &fakeRetriever{}, rerank.New(&fakeCapability{}, newTestAccountant(), config.SamplingParams{}, 1))

	events := drain(o.ProcessQuery(context.Background(), "query"))

	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Type)
	require.Equal(t, "plan failed", events[0].Content)
	require.Empty(t, o.verbatimLog)
	require.Empty(t, o.summarizedLog)
}

func TestProcessQuery_StreamFailureMidwayEmitsErrorKeepsEarlierChunksUnretracted(t *testing.T) {
	planner := plan.New(&fakeCapability{structuredResponse: `{"kind":"chitchat","search_query":null,"clarification":null,"category":null}`}, newTestAccountant(), config.SamplingParams{}, "")
	responder := &fakeCapability{streamChunks: []llmcap.Chunk{{Text: "partial "}, {Err: coreerrors.ErrTransport}}}
	o := newOrchestrator(t, planner, responder, &fakeCapability{}, &fakeCapability{}, &fakeRetriever{}, rerank.New(&fakeCapability{}, newTestAccountant(), config.SamplingParams{}, 1))

	events := drain(o.ProcessQuery(context.Background(), "hi"))

	require.Len(t, events, 2)
	require.Equal(t, EventAnswerChunk, events[0].Type)
	require.Equal(t, "partial ", events[0].Content)
	require.Equal(t, EventError, events[1].Type)
	require.Equal(t, "services unavailable", events[1].Content)
	require.Empty(t, o.verbatimLog)
}

func TestProcessQuery_SummarizerFailureFallsBackToFinalAnswer(t *testing.T) {
	planner := plan.New(&fakeCapability{structuredResponse: `{"kind":"in_domain","search_query":"q","clarification":null,"category":"passport"}`}, newTestAccountant(), config.SamplingParams{}, "")
	candidates := []vectorstore.CandidatePassage{{PassageID: 1, Document: "doc"}}
	judge := &fakeCapability{structuredResponse: `{"score":1,"reasoning":"direct"}`}
	reranker := rerank.New(judge, newTestAccountant(), config.SamplingParams{}, 1)
	answerGen := &fakeCapability{streamChunks: []llmcap.Chunk{{Text: "final answer"}}}
	summarizer := &fakeCapability{invokeErr: errors.New("summarizer down")}

	o := newOrchestrator(t, planner, &fakeCapability{}, answerGen, summarizer, &fakeRetriever{candidates: candidates}, reranker)

	drain(o.ProcessQuery(context.Background(), "query"))

	require.Len(t, o.verbatimLog, 1)
	require.Len(t, o.summarizedLog, 1)
	require.Equal(t, "final answer", o.verbatimLog[0].Assistant)
	require.Equal(t, "final answer", o.summarizedLog[0].Assistant)
}

func TestProcessQuery_HistoryTrimmedToWindow(t *testing.T) {
	planner := func() *plan.Planner {
		return plan.New(&fakeCapability{structuredResponse: `{"kind":"chitchat","search_query":null,"clarification":null,"category":null}`}, newTestAccountant(), config.SamplingParams{}, "")
	}
	responder := &fakeCapability{streamChunks: []llmcap.Chunk{{Text: "ok"}}}
	o := newOrchestrator(t, planner(), responder, &fakeCapability{}, &fakeCapability{}, &fakeRetriever{}, rerank.New(&fakeCapability{}, newTestAccountant(), config.SamplingParams{}, 1))

	for i := 0; i < 4; i++ {
		drain(o.ProcessQuery(context.Background(), "hello"))
	}

	require.Len(t, o.verbatimLog, 3)
	require.Len(t, o.summarizedLog, 3)
}

func TestProcessQuery_CancellationStopsClarificationPacingWithoutHistoryAppend(t *testing.T) {
	planner := plan.New(&fakeCapability{structuredResponse: `{"kind":"ambiguous","search_query":null,"clarification":"abcdefghijklmnop","category":null}`}, newTestAccountant(), config.SamplingParams{}, "")
	o := newOrchestrator(t, planner, &fakeCapability{}, &fakeCapability{}, &fakeCapability{}, &fakeRetriever{}, rerank.New(&fakeCapability{}, newTestAccountant(), config.SamplingParams{}, 1))
	o.clarificationPaceDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	ch := o.ProcessQuery(ctx, "query")

	count := 0
	for range ch {
		count++
		if count == 2 {
			cancel()
		}
	}
	require.Less(t, count, 16)
	require.Empty(t, o.verbatimLog)
}
