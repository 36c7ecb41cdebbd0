// Command govqa wires the query orchestration pipeline from environment
// configuration and drives it from a line-mode REPL: one line of stdin is
// one user turn, each turn's event stream is printed to stdout as it
// arrives. This is ambient demonstration wiring, not a production frontend.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cogops/govqa/internal/config"
	"github.com/cogops/govqa/internal/llmcap"
	"github.com/cogops/govqa/internal/llmcap/anthropic"
	"github.com/cogops/govqa/internal/llmcap/openai"
	"github.com/cogops/govqa/internal/obslog"
	"github.com/cogops/govqa/internal/orchestrator"
	"github.com/cogops/govqa/internal/plan"
	"github.com/cogops/govqa/internal/rerank"
	"github.com/cogops/govqa/internal/tokenbudget"
	"github.com/cogops/govqa/internal/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	obslog.Init(cfg.LogPath, cfg.LogLevel)
	shutdownTracing := obslog.InitTracing("govqa")
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("govqa_tracing_shutdown_failed")
		}
	}()

	orch, closeRetriever, err := build(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("govqa_build_failed")
	}
	defer closeRetriever()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repl(ctx, orch)
}

// build wires every collaborator named in SPEC_FULL §13's package layout
// from cfg (spec.md §6: "loaded once at construction").
func build(cfg config.Config) (*orchestrator.Orchestrator, func(), error) {
	httpClient := &http.Client{
		Timeout:   60 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	plannerLLM, err := capabilityFor(cfg, "planner", httpClient)
	if err != nil {
		return nil, nil, err
	}
	rerankerLLM, err := capabilityFor(cfg, "reranker", httpClient)
	if err != nil {
		return nil, nil, err
	}
	responderLLM, err := capabilityFor(cfg, "non_retrieval_responder", httpClient)
	if err != nil {
		return nil, nil, err
	}
	answerLLM, err := capabilityFor(cfg, "answer_generator", httpClient)
	if err != nil {
		return nil, nil, err
	}
	summarizerLLM, err := capabilityFor(cfg, "summarizer", httpClient)
	if err != nil {
		return nil, nil, err
	}

	tokenizer := tokenbudget.NewTokenizer(cfg.TokenManagement.TokenizerModel)
	accountant := tokenbudget.NewAccountant(tokenizer, cfg.TokenManagement.ReservationTokens, cfg.TokenManagement.HistoryFraction)

	embedder := vectorstore.NewHTTPEmbedder(vectorstore.HTTPEmbedderConfig{
		BaseURL: cfg.Embedding.BaseURL,
		Path:    cfg.Embedding.Path,
		Model:   cfg.Embedding.Model,
		APIKey:  cfg.Embedding.APIKey,
		Timeout: cfg.Embedding.Timeout,
	}, httpClient)

	retriever, err := vectorstore.NewRetriever(cfg.VectorRetriever, embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("build vector retriever: %w", err)
	}
	closeRetriever := func() {
		if err := retriever.Close(); err != nil {
			log.Warn().Err(err).Msg("govqa_retriever_close_failed")
		}
	}

	reranker := rerank.New(rerankerLLM, accountant, cfg.Sampling("reranker"), cfg.Concurrency.RerankerLimit)

	categoriesText := strings.Join(cfg.CategoryRefine.Categories, ", ")
	planner := plan.New(plannerLLM, accountant, cfg.Sampling("planner"), categoriesText)

	// SERVICE_DATA in the original is a standalone prose blob describing
	// available services; the pack never retrieved the file that defines it,
	// so an operator-supplied service_data (SERVICE_VOCABULARY_FILE) is
	// preferred and the category vocabulary text is the fallback.
	serviceData := cfg.CategoryRefine.ServiceData
	if serviceData == "" {
		serviceData = categoriesText
	}

	orch := orchestrator.New(planner, responderLLM, answerLLM, summarizerLLM, retriever, reranker, accountant, cfg, serviceData)
	return orch, closeRetriever, nil
}

func capabilityFor(cfg config.Config, task string, httpClient *http.Client) (llmcap.Capability, error) {
	ep, ok := cfg.Endpoint(task)
	if !ok {
		return nil, fmt.Errorf("no LLM endpoint configured for task %q", task)
	}
	switch ep.Provider {
	case "anthropic":
		return anthropic.New(ep, httpClient), nil
	case "openai":
		return openai.New(ep, httpClient), nil
	default:
		return nil, fmt.Errorf("task %q: unknown provider %q", task, ep.Provider)
	}
}

// repl reads one user turn per line and prints its event stream as it
// arrives, closing over ctx so Ctrl-C/SIGTERM cancels any in-flight turn.
func repl(ctx context.Context, orch *orchestrator.Orchestrator) {
	fmt.Println("govqa ready. Type a query and press Enter; Ctrl-D to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		runTurn(ctx, orch, line)
	}
}

func runTurn(ctx context.Context, orch *orchestrator.Orchestrator, userQuery string) {
	fmt.Print("AI: ")
	for ev := range orch.ProcessQuery(ctx, userQuery) {
		switch ev.Type {
		case orchestrator.EventAnswerChunk:
			fmt.Print(ev.Content)
		case orchestrator.EventFinalData:
			fmt.Printf("\n[sources: %s]\n", strings.Join(ev.Sources, ", "))
		case orchestrator.EventError:
			fmt.Printf("\n[error: %s]\n", ev.Content)
		}
	}
	fmt.Println()
}
