package tokenbudget

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// wordCounter treats each whitespace-separated word as one token, and
// truncation as keeping the first N words, so test expectations don't
// depend on a live BPE vocabulary.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func (wordCounter) TruncateToTokens(text string, maxTokens int) string {
	fields := strings.Fields(text)
	if len(fields) <= maxTokens {
		return text
	}
	return strings.Join(fields[:maxTokens], " ")
}

func TestBuildPrompt_NoHistoryNoPassages(t *testing.T) {
	a := NewAccountant(wordCounter{}, 2, 0.5)
	out := a.BuildPrompt(context.Background(), "Q: {user_query}", 50, PromptInputs{
		Fixed: map[string]string{"user_query": "what is the fee"},
	})
	require.Equal(t, "Q: what is the fee", out)
}

func TestBuildPrompt_HistoryTruncatedOldestFirst(t *testing.T) {
	a := NewAccountant(wordCounter{}, 0, 1.0)
	history := []HistoryTurn{
		{User: "one two three", Assistant: "reply one"},
		{User: "four five six", Assistant: "reply two"},
	}
	out := a.BuildPrompt(context.Background(), "{history_str}", 8, PromptInputs{
		Fixed:   map[string]string{},
		History: history,
	})
	require.NotContains(t, out, "one two three")
	require.Contains(t, out, "four five six")
}

func TestBuildPrompt_EmptyHistoryPlaceholder(t *testing.T) {
	a := NewAccountant(wordCounter{}, 0, 1.0)
	out := a.BuildPrompt(context.Background(), "{history_str}", 50, PromptInputs{
		Fixed:   map[string]string{},
		History: []HistoryTurn{},
	})
	require.Equal(t, noHistoryPlaceholder, out)
}

func TestBuildPrompt_PassagesTruncatedLeastRelevantFirst(t *testing.T) {
	a := NewAccountant(wordCounter{}, 0, 0.0)
	passages := []PassageContext{
		{PassageID: 1, Document: "alpha beta gamma"},
		{PassageID: 2, Document: "delta epsilon zeta eta theta"},
	}
	out := a.BuildPrompt(context.Background(), "{passages_context}", 10, PromptInputs{
		Fixed:    map[string]string{},
		Passages: passages,
	})
	require.Contains(t, out, "Passage ID: 1")
	require.NotContains(t, out, "Passage ID: 2")
}

func TestBuildPrompt_HardTruncateAfterAssembly(t *testing.T) {
	a := NewAccountant(wordCounter{}, 0, 0.5)
	out := a.BuildPrompt(context.Background(), "{user_query}", 3, PromptInputs{
		Fixed: map[string]string{"user_query": "one two three four five"},
	})
	require.Equal(t, "one two three", out)
}
