package rerank

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cogops/govqa/internal/config"
	"github.com/cogops/govqa/internal/coreerrors"
	"github.com/cogops/govqa/internal/llmcap"
	"github.com/cogops/govqa/internal/tokenbudget"
	"github.com/cogops/govqa/internal/vectorstore"
)

type fakeJudge struct {
	maxContext int
	inflight   int32
	maxSeen    int32
	respond    func(passageID int64) (int, string, error)
}

func (f *fakeJudge) Invoke(ctx context.Context, prompt string, params config.SamplingParams) (string, error) {
	return "", errors.New("unused")
}

func (f *fakeJudge) Stream(ctx context.Context, prompt string, params config.SamplingParams) (<-chan llmcap.Chunk, error) {
	return nil, errors.New("unused")
}

func (f *fakeJudge) MaxContextTokens() int { return f.maxContext }

func (f *fakeJudge) InvokeStructured(ctx context.Context, prompt string, schema llmcap.Schema, out any, params config.SamplingParams) error {
	cur := atomic.AddInt32(&f.inflight, 1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.inflight, -1)

	result := out.(*struct {
		Score     int    `json:"score"`
		Reasoning string `json:"reasoning"`
	})
	score, reasoning, err := f.respond(0)
	if err != nil {
		return err
	}
	result.Score = score
	result.Reasoning = reasoning
	return nil
}

func newAccountant() *tokenbudget.Accountant {
	return tokenbudget.NewAccountant(tokenbudget.NewTokenizer("cl100k_base"), 0, 0.5)
}

func TestRerank_SuccessAndFailureContained(t *testing.T) {
	calls := int32(0)
	judge := &fakeJudge{maxContext: 8000, respond: func(int64) (int, string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 2 {
			return 0, "", errors.New("boom")
		}
		return 1, "direct answer", nil
	}}
	r := New(judge, newAccountant(), config.SamplingParams{}, 2)

	candidates := []vectorstore.CandidatePassage{
		{PassageID: 1, Document: "doc one"},
		{PassageID: 2, Document: "doc two"},
		{PassageID: 3, Document: "doc three"},
	}
	out := r.Rerank(context.Background(), nil, "query", "search query", candidates)
	require.Len(t, out, 2)
}

func TestRerank_ContextOverflowDegradesToScoreThree(t *testing.T) {
	judge := &fakeJudge{maxContext: 8000, respond: func(int64) (int, string, error) {
		return 0, "", coreerrors.ErrContextOverflow
	}}
	r := New(judge, newAccountant(), config.SamplingParams{}, 1)

	out := r.Rerank(context.Background(), nil, "query", "search", []vectorstore.CandidatePassage{{PassageID: 9, Document: "very long passage"}})
	require.Len(t, out, 1)
	require.Equal(t, 3, out[0].Score)
	require.Equal(t, "passage too long to evaluate", out[0].Reasoning)
}

func TestRerank_ConcurrencyBoundedBySemaphore(t *testing.T) {
	judge := &fakeJudge{maxContext: 8000, respond: func(int64) (int, string, error) {
		return 1, "ok", nil
	}}
	r := New(judge, newAccountant(), config.SamplingParams{}, 2)

	candidates := make([]vectorstore.CandidatePassage, 10)
	for i := range candidates {
		candidates[i] = vectorstore.CandidatePassage{PassageID: int64(i), Document: "doc"}
	}
	out := r.Rerank(context.Background(), nil, "q", "sq", candidates)
	require.Len(t, out, 10)
	require.LessOrEqual(t, judge.maxSeen, int32(2))
}

func TestRerank_EmptyCandidates(t *testing.T) {
	judge := &fakeJudge{maxContext: 8000}
	r := New(judge, newAccountant(), config.SamplingParams{}, 1)
	out := r.Rerank(context.Background(), nil, "q", "sq", nil)
	require.Nil(t, out)
}
