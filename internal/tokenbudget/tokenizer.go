package tokenbudget

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and hard-truncates text for a specific encoding. Grounded
// on the teacher's internal/llm/tokenizer.go Tokenizer interface, but backed
// by an accurate BPE encoder (spec.md §4.1 requires "a token-counting
// capability", not a heuristic) rather than the teacher's chars/4 estimate.
type Tokenizer interface {
	Count(text string) int
	// TruncateToTokens returns the prefix of text that encodes to at most
	// maxTokens tokens (spec.md §4.1: "hard-truncated to the ceiling by
	// token-decode").
	TruncateToTokens(text string, maxTokens int) string
}

// tiktokenCounter wraps github.com/pkoukk/tiktoken-go.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer resolves an encoding by model/encoding name (e.g.
// "cl100k_base", "gpt-4o"). If the encoding cannot be loaded, it falls back
// to the teacher's heuristic (chars/4), matching
// internal/llm/tokenizer.go's EstimateTokens as a last resort.
func NewTokenizer(encodingName string) Tokenizer {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		enc, err = tiktoken.EncodingForModel(encodingName)
	}
	if err != nil || enc == nil {
		return heuristicTokenizer{}
	}
	return tiktokenCounter{enc: enc}
}

func (t tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t tiktokenCounter) TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:maxTokens])
}

// heuristicTokenizer mirrors the teacher's EstimateTokens fallback
// (internal/llm/tokenizer.go): 4 characters per token on average.
type heuristicTokenizer struct{}

func (heuristicTokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len([]rune(text))/4 + 1
}

func (heuristicTokenizer) TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	// Count reports len/4+1, so at most 4*maxTokens-1 runes stay within maxTokens.
	maxRunes := maxTokens*4 - 1
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxRunes]))
}
