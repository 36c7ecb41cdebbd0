// Package anthropic adapts the Anthropic Messages API to the llmcap.Capability
// surface, grounded on the teacher's internal/llm/anthropic/client.go Chat and
// ChatStream methods (prompt-caching and extended-thinking machinery dropped;
// this domain needs plain unary and streamed completions only).
package anthropic

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cogops/govqa/internal/config"
	"github.com/cogops/govqa/internal/coreerrors"
	"github.com/cogops/govqa/internal/llmcap"
	"github.com/cogops/govqa/internal/obslog"
)

// Client wraps a single Anthropic-served endpoint.
type Client struct {
	sdk              anthropicsdk.Client
	model            string
	maxContextTokens int
}

// New constructs a Client from an endpoint config entry.
func New(ep config.LLMEndpointConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(ep.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(ep.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(ep.Model)
	if model == "" {
		model = string(anthropicsdk.ModelClaude3_7SonnetLatest)
	}
	return &Client{
		sdk:              anthropicsdk.NewClient(opts...),
		model:            model,
		maxContextTokens: ep.MaxContextTokens,
	}
}

func (c *Client) MaxContextTokens() int { return c.maxContextTokens }

func (c *Client) buildParams(prompt string, params config.SamplingParams) anthropicsdk.MessageNewParams {
	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	p := anthropicsdk.MessageNewParams{
		Model: anthropicsdk.Model(c.model),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
		MaxTokens:   maxTokens,
		Temperature: anthropicsdk.Float(params.Temperature),
	}
	if len(params.StopSequences) > 0 {
		p.StopSequences = params.StopSequences
	}
	return p
}

func (c *Client) Invoke(ctx context.Context, prompt string, params config.SamplingParams) (string, error) {
	reqParams := c.buildParams(prompt, params)
	log := obslog.WithTrace(ctx)

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, reqParams)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("anthropic_invoke_error")
		return "", classifyError(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	out := sb.String()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: anthropic returned no text content", coreerrors.ErrEmptyResponse)
	}
	log.Debug().Str("model", c.model).Dur("duration", dur).Int("output_tokens", int(resp.Usage.OutputTokens)).Msg("anthropic_invoke_ok")
	return out, nil
}

func (c *Client) Stream(ctx context.Context, prompt string, params config.SamplingParams) (<-chan llmcap.Chunk, error) {
	reqParams := c.buildParams(prompt, params)
	log := obslog.WithTrace(ctx)

	stream := c.sdk.Messages.NewStreaming(ctx, reqParams)

	out := make(chan llmcap.Chunk)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()

		var acc anthropicsdk.Message
		hasDelta := false
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				log.Debug().Err(err).Msg("anthropic_stream_accumulate_error")
			}
			if delta, ok := event.AsAny().(anthropicsdk.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(anthropicsdk.TextDelta); ok && text.Text != "" {
					hasDelta = true
					select {
					case out <- llmcap.Chunk{Text: text.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- llmcap.Chunk{Err: classifyError(err)}:
			case <-ctx.Done():
			}
			return
		}
		if !hasDelta {
			select {
			case out <- llmcap.Chunk{Err: fmt.Errorf("%w: anthropic stream produced no text", coreerrors.ErrEmptyResponse)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// InvokeStructured is unsupported on the Anthropic backend in this pipeline:
// only the planner and reranker tasks need structured output, and both are
// routed to an OpenAI-compatible endpoint (spec.md §6, SPEC_FULL §11).
func (c *Client) InvokeStructured(ctx context.Context, prompt string, schema llmcap.Schema, out any, params config.SamplingParams) error {
	return fmt.Errorf("%w: anthropic backend does not implement invoke_structured", coreerrors.ErrUpstream)
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", coreerrors.ErrCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", coreerrors.ErrTransport, err)
	}
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == 429 {
			return fmt.Errorf("%w: %v", coreerrors.ErrTransport, err)
		}
		return fmt.Errorf("%w: %v", coreerrors.ErrUpstream, err)
	}
	return fmt.Errorf("%w: %v", coreerrors.ErrTransport, err)
}
