package llm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tombee/autoflow/pkg/llm"

// Recorder receives one measurement per completion call.
type Recorder interface {
	RecordLLMRequest(ctx context.Context, model, status string, promptTokens, completionTokens int, latency time.Duration)
}

// Instrumented wraps a Provider with a span, a log line and a metrics
// record per call.
type Instrumented struct {
	provider     Provider
	recorder     Recorder
	logger       *slog.Logger
	tracer       trace.Tracer
	defaultModel string
}

// Instrument wraps p. A nil recorder disables metrics; a nil logger uses
// slog.Default(). defaultModel fills requests that name no model.
func Instrument(p Provider, recorder Recorder, logger *slog.Logger, defaultModel string) *Instrumented {
	if logger == nil {
		logger = slog.Default()
	}
	return &Instrumented{
		provider:     p,
		recorder:     recorder,
		logger:       logger.With(slog.String("component", "llm"), slog.String("provider", p.Name())),
		tracer:       otel.Tracer(tracerName),
		defaultModel: defaultModel,
	}
}

// Name implements Provider.
func (i *Instrumented) Name() string { return i.provider.Name() }

// Complete implements Provider.
func (i *Instrumented) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.Model == "" {
		req.Model = i.defaultModel
	}

	ctx, span := i.tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.provider", i.provider.Name()),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
	))
	defer span.End()

	start := time.Now()
	resp, err := i.provider.Complete(ctx, req)
	latency := time.Since(start)

	model := req.Model
	status := "success"
	var usage TokenUsage
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.Warn("completion failed",
			slog.String("model", model),
			slog.Int64("duration_ms", latency.Milliseconds()),
			slog.Any("error", err))
	} else {
		usage = resp.Usage
		if resp.Model != "" {
			model = resp.Model
		}
		span.SetAttributes(
			attribute.Int("llm.tokens.input", usage.InputTokens),
			attribute.Int("llm.tokens.output", usage.OutputTokens),
			attribute.String("llm.finish_reason", string(resp.FinishReason)),
		)
		i.logger.Debug("completion finished",
			slog.String("model", model),
			slog.Int("input_tokens", usage.InputTokens),
			slog.Int("output_tokens", usage.OutputTokens),
			slog.Int64("duration_ms", latency.Milliseconds()))
	}

	if i.recorder != nil {
		i.recorder.RecordLLMRequest(ctx, model, status, usage.InputTokens, usage.OutputTokens, latency)
	}
	return resp, err
}
