// Package rerank implements the Parallel Reranker (C4, spec.md §4.4):
// scores candidate passages against the user's intent via a judge LLM,
// bounded by a concurrency semaphore, tolerant of per-passage failures and
// context overflow. Grounded on
// original_source/cogops/retriver/reranker.py's ParallelReranker, translated
// from asyncio.Semaphore + asyncio.gather to golang.org/x/sync/semaphore and
// a sync.WaitGroup fan-out (teacher idiom: internal/agent/warpp.go).
package rerank

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/cogops/govqa/internal/config"
	"github.com/cogops/govqa/internal/coreerrors"
	"github.com/cogops/govqa/internal/llmcap"
	"github.com/cogops/govqa/internal/obslog"
	"github.com/cogops/govqa/internal/tokenbudget"
	"github.com/cogops/govqa/internal/vectorstore"
)

const promptTemplate = `You are an expert relevance evaluation assistant. Your task is to determine if the provided PASSAGE is relevant for answering the user's intent, considering the CONVERSATION HISTORY and the specific SEARCH QUERY used for retrieval.

Your evaluation must result in a score of 1, 2, or 3.
1: The passage directly and completely answers the user's query and provides additional context.
2: The passage is on-topic and partially relevant, but not a complete answer.
3: The passage is unrelated to the user's query.

CONVERSATION HISTORY:
{history_str}

USER QUERY (Natural Language):
{user_query}

SEARCH QUERY (Used for Retrieval):
{search_query}

PASSAGE TO EVALUATE:
{passages_context}
---
Based on all the information above, provide your relevance score and a brief justification.`

var scoreSchema = llmcap.Schema{
	Name:        "rerank_score",
	Description: "Relevance score and reasoning for one passage",
	Definition: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"score", "reasoning"},
		"properties": map[string]any{
			"score":     map[string]any{"type": "integer", "enum": []any{1, 2, 3}},
			"reasoning": map[string]any{"type": "string"},
		},
	},
}

// RankedPassage extends CandidatePassage with the judge's verdict
// (spec.md §3: "Ranked Passage").
type RankedPassage struct {
	vectorstore.CandidatePassage
	Score     int
	Reasoning string
}

// Reranker scores candidates via judge LLM calls bounded by a semaphore.
type Reranker struct {
	judge      llmcap.Capability
	accountant *tokenbudget.Accountant
	sem        *semaphore.Weighted
	sampling   config.SamplingParams
	ceiling    int
}

// New constructs a Reranker. concurrencyLimit bounds simultaneous judge
// calls (spec.md §5: "bounded by a semaphore of size N shared per reranker
// instance").
func New(judge llmcap.Capability, accountant *tokenbudget.Accountant, sampling config.SamplingParams, concurrencyLimit int) *Reranker {
	if concurrencyLimit <= 0 {
		concurrencyLimit = 1
	}
	return &Reranker{
		judge:      judge,
		accountant: accountant,
		sem:        semaphore.NewWeighted(int64(concurrencyLimit)),
		sampling:   sampling,
		ceiling:    judge.MaxContextTokens(),
	}
}

// Rerank implements spec.md §4.4's rerank operation. The returned slice is
// not sorted by score; the caller (the orchestrator) owns ordering.
func (r *Reranker) Rerank(ctx context.Context, history []tokenbudget.HistoryTurn, userQuery, searchQuery string, candidates []vectorstore.CandidatePassage) []RankedPassage {
	if len(candidates) == 0 {
		return nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make([]RankedPassage, 0, len(candidates))
	)

	for _, candidate := range candidates {
		candidate := candidate
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.sem.Acquire(ctx, 1); err != nil {
				// Cancelled while waiting for a slot; contain and move on
				// (spec.md §4.4 step 4: per-passage failures are contained).
				return
			}
			defer r.sem.Release(1)

			ranked, ok := r.scoreOne(ctx, history, userQuery, searchQuery, candidate)
			if !ok {
				return
			}
			mu.Lock()
			out = append(out, ranked)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (r *Reranker) scoreOne(ctx context.Context, history []tokenbudget.HistoryTurn, userQuery, searchQuery string, candidate vectorstore.CandidatePassage) (RankedPassage, bool) {
	prompt := r.accountant.BuildPrompt(ctx, promptTemplate, r.ceiling, tokenbudget.PromptInputs{
		Fixed: map[string]string{
			"user_query":   userQuery,
			"search_query": searchQuery,
		},
		History:  history,
		Passages: []tokenbudget.PassageContext{{PassageID: candidate.PassageID, Document: candidate.Document}},
	})

	var result struct {
		Score     int    `json:"score"`
		Reasoning string `json:"reasoning"`
	}
	err := r.judge.InvokeStructured(ctx, prompt, scoreSchema, &result, r.sampling)

	stableID := candidate.PassageID

	switch {
	case err == nil:
		return RankedPassage{
			CandidatePassage: candidate,
			Score:            result.Score,
			Reasoning:        result.Reasoning,
		}, true
	case errors.Is(err, coreerrors.ErrContextOverflow):
		obslog.WithTrace(ctx).Warn().Int64("passage_id", stableID).Msg("rerank_context_overflow_degraded")
		return RankedPassage{
			CandidatePassage: candidate,
			Score:            3,
			Reasoning:        "passage too long to evaluate",
		}, true
	default:
		obslog.WithTrace(ctx).Error().Err(err).Int64("passage_id", stableID).Msg("rerank_passage_failed")
		return RankedPassage{}, false
	}
}
