package plan

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cogops/govqa/internal/config"
	"github.com/cogops/govqa/internal/coreerrors"
	"github.com/cogops/govqa/internal/llmcap"
	"github.com/cogops/govqa/internal/tokenbudget"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Invoke(ctx context.Context, prompt string, params config.SamplingParams) (string, error) {
	return "", errors.New("unused")
}

func (f *fakeLLM) Stream(ctx context.Context, prompt string, params config.SamplingParams) (<-chan llmcap.Chunk, error) {
	return nil, errors.New("unused")
}

func (f *fakeLLM) MaxContextTokens() int { return 8000 }

func (f *fakeLLM) InvokeStructured(ctx context.Context, prompt string, schema llmcap.Schema, out any, params config.SamplingParams) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.response), out)
}

func newAccountant() *tokenbudget.Accountant {
	return tokenbudget.NewAccountant(tokenbudget.NewTokenizer("cl100k_base"), 0, 0.5)
}

func TestPlan_InDomainPopulatesSearchQueryAndCategory(t *testing.T) {
	llm := &fakeLLM{response: `{"kind":"in_domain","search_query":"passport fee","clarification":null,"category":"passport"}`}
	p := New(llm, newAccountant(), config.SamplingParams{}, "passport, nid, trade license")

	result, err := p.Plan(context.Background(), "No conversation history yet.", "passport fee?")
	require.NoError(t, err)
	require.Equal(t, KindInDomain, result.Kind)
	require.Equal(t, "passport fee", result.SearchQuery)
	require.Equal(t, "passport", result.Category)
	require.Empty(t, result.Clarification)
}

func TestPlan_AmbiguousPopulatesClarificationOnly(t *testing.T) {
	llm := &fakeLLM{response: `{"kind":"ambiguous","search_query":null,"clarification":"Which tax do you mean?","category":null}`}
	p := New(llm, newAccountant(), config.SamplingParams{}, "")

	result, err := p.Plan(context.Background(), "", "I want to pay tax")
	require.NoError(t, err)
	require.Equal(t, KindAmbiguous, result.Kind)
	require.Equal(t, "Which tax do you mean?", result.Clarification)
	require.Empty(t, result.SearchQuery)
	require.Empty(t, result.Category)
}

func TestPlan_NonRetrievalKindsHaveNoOptionalFields(t *testing.T) {
	llm := &fakeLLM{response: `{"kind":"chitchat","search_query":null,"clarification":null,"category":null}`}
	p := New(llm, newAccountant(), config.SamplingParams{}, "")

	result, err := p.Plan(context.Background(), "", "hello there")
	require.NoError(t, err)
	require.Equal(t, KindChitchat, result.Kind)
	require.True(t, result.Kind.IsNonRetrieval())
	require.Empty(t, result.SearchQuery)
	require.Empty(t, result.Clarification)
}

func TestPlan_FailureWrapsPlanGenerationFailed(t *testing.T) {
	llm := &fakeLLM{err: errors.New("schema mismatch")}
	p := New(llm, newAccountant(), config.SamplingParams{}, "")

	_, err := p.Plan(context.Background(), "", "query")
	require.Error(t, err)
	require.True(t, errors.Is(err, coreerrors.ErrPlanGenerationFailed))
}

func TestNineValueVocabulary_IsNonRetrievalClassification(t *testing.T) {
	inDomainAndAmbiguous := map[Kind]bool{KindInDomain: false, KindAmbiguous: false}
	nonRetrieval := []Kind{
		KindOutOfDomain, KindGeneralKnowledge, KindChitchat,
		KindAbusive, KindIdentity, KindMalicious, KindUnhandled,
	}
	for k := range inDomainAndAmbiguous {
		require.False(t, k.IsNonRetrieval())
	}
	for _, k := range nonRetrieval {
		require.True(t, k.IsNonRetrieval())
	}
}
