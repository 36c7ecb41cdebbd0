// Package tokenbudget implements the Token Accountant (C1, spec.md §4.1):
// token counting and ceiling-aware prompt assembly with oldest-first history
// truncation and least-relevant-first passage truncation. Grounded on
// original_source/cogops/utils/token_manager.py's TokenManager, translated
// from Python string.format slot-filling to an explicit {slot} replacer.
package tokenbudget

import (
	"context"
	"fmt"
	"strings"

	"github.com/cogops/govqa/internal/obslog"
)

// HistoryTurn is one (user, assistant) exchange in the verbatim
// conversation log (spec.md §3: "Conversation Memory").
type HistoryTurn struct {
	User      string
	Assistant string
}

// PassageContext is one candidate passage formatted for inclusion in a
// synthesis or rerank prompt, pre-sorted most-relevant-first by the caller.
type PassageContext struct {
	PassageID int64
	Document  string
}

// PromptInputs are the named slots of one prompt-assembly call. Fixed slots
// are measured but never truncated. History and Passages are nil when the
// template has no such slot (spec.md §3: "the presence of each optional
// field is determined solely by kind"-equivalent discipline applies here to
// slot presence). A nil History is still rendered, as the empty-history
// placeholder, when the template has a {history_str} slot that Fixed does
// not supply.
type PromptInputs struct {
	Fixed    map[string]string
	History  []HistoryTurn
	Passages []PassageContext
}

const (
	noHistoryPlaceholder = "No conversation history yet."
	historyTooLong       = "History is too long to be included."
)

// Accountant assembles prompts under a hard token ceiling.
type Accountant struct {
	tok               Tokenizer
	reservationTokens int
	historyFraction   float64
}

// NewAccountant constructs an Accountant. reservationTokens is the fixed
// boilerplate reservation; historyFraction is the share of the remaining
// budget allocated to history before passages.
func NewAccountant(tok Tokenizer, reservationTokens int, historyFraction float64) *Accountant {
	return &Accountant{tok: tok, reservationTokens: reservationTokens, historyFraction: historyFraction}
}

// Count returns the token count of text.
func (a *Accountant) Count(text string) int {
	return a.tok.Count(text)
}

// BuildPrompt implements spec.md §4.1's build_prompt algorithm.
func (a *Accountant) BuildPrompt(ctx context.Context, template string, ceiling int, inputs PromptInputs) string {
	available := ceiling - a.reservationTokens

	finalComponents := make(map[string]string, len(inputs.Fixed)+2)
	tokensUsed := 0
	for k, v := range inputs.Fixed {
		finalComponents[k] = v
		tokensUsed += a.tok.Count(v)
	}

	remaining := available - tokensUsed
	if remaining < 0 {
		obslog.WithTrace(ctx).Warn().Msg("tokenbudget_fixed_slots_exceed_ceiling")
		remaining = 0
	}

	_, historyFixed := inputs.Fixed["history_str"]
	if inputs.History != nil || (!historyFixed && strings.Contains(template, "{history_str}")) {
		historyBudget := int(float64(remaining) * a.historyFraction)
		historyStr := a.truncateHistory(inputs.History, historyBudget)
		tokensUsed += a.tok.Count(historyStr)
		finalComponents["history_str"] = historyStr
	}

	passageBudget := available - tokensUsed
	if inputs.Passages != nil {
		finalComponents["passages_context"] = a.truncatePassages(inputs.Passages, passageBudget)
	}

	finalPrompt := renderTemplate(template, finalComponents)

	if a.tok.Count(finalPrompt) > ceiling {
		finalPrompt = a.tok.TruncateToTokens(finalPrompt, ceiling)
		obslog.WithTrace(ctx).Warn().Msg("tokenbudget_hard_truncated_after_assembly")
	}
	return finalPrompt
}

// truncateHistory drops whole turns from the front until the formatted
// remainder fits maxTokens (spec.md §4.1: "truncated oldest-first").
func (a *Accountant) truncateHistory(history []HistoryTurn, maxTokens int) string {
	if len(history) == 0 {
		return noHistoryPlaceholder
	}
	remaining := append([]HistoryTurn(nil), history...)
	for len(remaining) > 0 {
		formatted := formatHistory(remaining)
		if a.tok.Count(formatted) <= maxTokens {
			return formatted
		}
		remaining = remaining[1:]
	}
	return historyTooLong
}

func formatHistory(turns []HistoryTurn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		parts = append(parts, fmt.Sprintf("User: %s\nAI: %s", t.User, t.Assistant))
	}
	return strings.Join(parts, "\n---\n")
}

// truncatePassages drops passages from the tail (least-relevant-first, since
// the input is assumed sorted most-relevant-first) until the formatted
// remainder fits maxTokens (spec.md §4.1).
func (a *Accountant) truncatePassages(passages []PassageContext, maxTokens int) string {
	if len(passages) == 0 {
		return ""
	}
	for i := len(passages); i > 0; i-- {
		formatted := formatPassages(passages[:i])
		if a.tok.Count(formatted) <= maxTokens {
			return formatted
		}
	}
	return ""
}

func formatPassages(passages []PassageContext) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		parts = append(parts, fmt.Sprintf("Passage ID: %d\nContent: %s", p.PassageID, p.Document))
	}
	return strings.Join(parts, "\n\n")
}

// renderTemplate substitutes {slot} placeholders with their string values.
// Unlike Go's text/template, this mirrors the original's simple str.format
// slot-filling (no control flow), which is all spec.md's templates need.
func renderTemplate(template string, components map[string]string) string {
	out := template
	for k, v := range components {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
