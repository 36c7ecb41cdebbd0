// Package obslog provides the process-wide structured logger and the
// per-request trace enrichment used throughout the orchestration pipeline.
package obslog

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Init configures zerolog with sane defaults. If logPath is non-empty, logs
// are written there (append mode) instead of stdout; if opening the file
// fails, logging falls back to stdout.
func Init(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", logPath, err)
		}
	}
	log.Logger = log.Output(w).With().Timestamp().Logger()

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

// InitTracing installs a process-wide TracerProvider so every suspension
// point in the pipeline (plan, retrieve, rerank, synthesize) can open a real
// span, and WithTrace below has a trace/span id to attach to log lines. No
// exporter is wired: the teacher's internal/observability/otel.go batches
// spans to an OTLP collector, but that collector is an external dependency
// this module has no business assuming is present. No span processor is
// registered either, so spans carry real trace/span ids but ended spans are
// neither exported nor retained.
func InitTracing(serviceName string) func(context.Context) error {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer returns a named tracer from the process-wide TracerProvider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// WithTrace returns a zerolog.Logger enriched with trace_id/span_id from ctx
// whenever ctx carries a span context with a trace id, sampled or not;
// trace_sampled=true is added only for a sampled span.
func WithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
		if sc.HasSpanID() {
			l = l.With().Str("span_id", sc.SpanID().String()).Logger()
		}
		if sc.IsSampled() {
			l = l.With().Bool("trace_sampled", true).Logger()
		}
	}
	return &l
}
