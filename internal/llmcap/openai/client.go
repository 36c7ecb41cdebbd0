// Package openai adapts an OpenAI-compatible chat-completions endpoint to the
// llmcap.Capability surface. Invoke/Stream are grounded on the teacher's
// internal/llm/openai/client.go Chat/ChatStream methods (self-hosted SSE
// fallback and tool-call accumulation dropped: this domain calls a single
// hosted endpoint with no tool use). InvokeStructured follows the
// ResponseFormatJSONSchemaParam idiom shown in
// basegraphhq-basegraph/relay/common/llm/client.go.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/cogops/govqa/internal/config"
	"github.com/cogops/govqa/internal/coreerrors"
	"github.com/cogops/govqa/internal/llmcap"
	"github.com/cogops/govqa/internal/obslog"
)

// Client wraps a single OpenAI-compatible endpoint.
type Client struct {
	sdk              sdk.Client
	model            string
	maxContextTokens int
}

// New constructs a Client from an endpoint config entry.
func New(ep config.LLMEndpointConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(ep.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if ep.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ep.BaseURL))
	}
	return &Client{
		sdk:              sdk.NewClient(opts...),
		model:            ep.Model,
		maxContextTokens: ep.MaxContextTokens,
	}
}

func (c *Client) MaxContextTokens() int { return c.maxContextTokens }

func (c *Client) baseParams(prompt string, params config.SamplingParams) sdk.ChatCompletionNewParams {
	p := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage(prompt),
		},
		Temperature: sdk.Float(params.Temperature),
	}
	if params.TopP > 0 {
		p.TopP = sdk.Float(params.TopP)
	}
	if params.MaxTokens > 0 {
		p.MaxTokens = sdk.Int(int64(params.MaxTokens))
	}
	if len(params.StopSequences) > 0 {
		p.Stop = sdk.ChatCompletionNewParamsStopUnion{OfStringArray: params.StopSequences}
	}
	return p
}

func (c *Client) Invoke(ctx context.Context, prompt string, params config.SamplingParams) (string, error) {
	reqParams := c.baseParams(prompt, params)
	log := obslog.WithTrace(ctx)

	start := time.Now()
	resp, err := c.sdk.Chat.Completions.New(ctx, reqParams)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("openai_invoke_error")
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", coreerrors.ErrEmptyResponse)
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: openai returned empty content", coreerrors.ErrEmptyResponse)
	}
	log.Debug().Str("model", c.model).Dur("duration", dur).Int64("completion_tokens", resp.Usage.CompletionTokens).Msg("openai_invoke_ok")
	return content, nil
}

func (c *Client) Stream(ctx context.Context, prompt string, params config.SamplingParams) (<-chan llmcap.Chunk, error) {
	reqParams := c.baseParams(prompt, params)
	reqParams.StreamOptions.IncludeUsage = sdk.Bool(true)

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, reqParams)

	out := make(chan llmcap.Chunk)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()

		hasDelta := false
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			hasDelta = true
			select {
			case out <- llmcap.Chunk{Text: delta}:
			case <-ctx.Done():
				return
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
			case out <- llmcap.Chunk{Err: fmt.Errorf("%w: openai stream produced no text", coreerrors.ErrEmptyResponse)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (c *Client) InvokeStructured(ctx context.Context, prompt string, schema llmcap.Schema, out any, params config.SamplingParams) error {
	if schemaJSON, err := json.Marshal(schema.Definition); err == nil {
		prompt += "\n\nRespond with a JSON object conforming to this JSON schema:\n" + string(schemaJSON)
	}
	reqParams := c.baseParams(prompt, params)

	name := schema.Name
	if name == "" {
		name = "structured_response"
	}
	description := schema.Description
	if description == "" {
		description = "Structured response schema"
	}
	reqParams.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &sdk.ResponseFormatJSONSchemaParam{
			JSONSchema: sdk.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        name,
				Description: sdk.String(description),
				Schema:      schema.Definition,
				Strict:      sdk.Bool(true),
			},
		},
	}

	log := obslog.WithTrace(ctx)
	start := time.Now()
	resp, err := c.sdk.Chat.Completions.New(ctx, reqParams)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Str("schema", name).Dur("duration", dur).Msg("openai_invoke_structured_error")
		return classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: openai returned no choices for structured response", coreerrors.ErrEmptyResponse)
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: openai returned empty structured content", coreerrors.ErrEmptyResponse)
	}

	if _, err := llmcap.ValidateAgainstSchema(schema, []byte(content)); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: unmarshal structured response: %v", coreerrors.ErrSchemaViolation, err)
	}

	log.Debug().Str("model", c.model).Str("schema", name).Dur("duration", dur).Msg("openai_invoke_structured_ok")
	return nil
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
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if strings.Contains(strings.ToLower(apiErr.Message), "context_length_exceeded") ||
			strings.Contains(strings.ToLower(apiErr.Message), "maximum context length") {
			return fmt.Errorf("%w: %v", coreerrors.ErrContextOverflow, err)
		}
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == 429 {
			return fmt.Errorf("%w: %v", coreerrors.ErrTransport, err)
		}
		return fmt.Errorf("%w: %v", coreerrors.ErrUpstream, err)
	}
	return fmt.Errorf("%w: %v", coreerrors.ErrTransport, err)
}
