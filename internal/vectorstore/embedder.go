package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEmbedderConfig configures an OpenAI-compatible embeddings endpoint.
// Grounded on the teacher's internal/embedding/client.go EmbedText.
type HTTPEmbedderConfig struct {
	BaseURL string
	Path    string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type httpEmbedder struct {
	cfg    HTTPEmbedderConfig
	client *http.Client
}

// NewHTTPEmbedder constructs an Embedder backed by a single-input call to an
// OpenAI-compatible /embeddings endpoint.
func NewHTTPEmbedder(cfg HTTPEmbedderConfig, client *http.Client) Embedder {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Path == "" {
		cfg.Path = "/embeddings"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &httpEmbedder{cfg: cfg, client: client}
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(embedReq{Model: e.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	url := e.cfg.BaseURL + e.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embed endpoint returned %s: %s", resp.Status, string(body))
	}

	var parsed embedResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding count: got %d, want 1", len(parsed.Data))
	}
	return parsed.Data[0].Embedding, nil
}
