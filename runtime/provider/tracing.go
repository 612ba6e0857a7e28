package provider

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatcore/engine/runtime/telemetry"
)

// TracedAdapter wraps an Adapter with an OTEL span per streaming call,
// grounded on the teacher's runtime/agent/runtime/model_tracing.go
// (tracedClient/tracedStream wrapping model.Client/model.Streamer),
// generalized from the teacher's single Chunk/TokenUsage union to this
// package's ChunkUsage/ChunkStop event types.
type TracedAdapter struct {
	next    Adapter
	tracer  telemetry.Tracer
	metrics telemetry.Metrics
}

// NewTracedAdapter wraps next so every Stream call opens a span named
// "provider.stream" and records request and error counters, plus a token
// counter from the stream's usage chunks when the stream ends.
// A nil tracer or metrics recorder falls back to a no-op implementation.
func NewTracedAdapter(next Adapter, tracer telemetry.Tracer, metrics telemetry.Metrics) *TracedAdapter {
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &TracedAdapter{next: next, tracer: tracer, metrics: metrics}
}

func (a *TracedAdapter) Stream(ctx context.Context, req *Request) (Stream, error) {
	ctx, span := a.tracer.Start(ctx, "provider.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(requestSpanAttrs(req)...),
	)

	a.metrics.IncCounter("provider.stream.requests", 1, "model", req.Model)

	s, err := a.next.Stream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream start failed")
		span.End()
		a.metrics.IncCounter("provider.stream.errors", 1, "model", req.Model)
		return nil, err
	}
	return &tracedStream{inner: s, span: span, metrics: a.metrics, model: req.Model}, nil
}

func requestSpanAttrs(req *Request) []attribute.KeyValue {
	if req == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String("chat.model", req.Model),
		attribute.Int("chat.message_count", len(req.Messages)),
		attribute.Int("chat.tool_count", len(req.Tools)),
		attribute.Int("chat.max_new_tokens", req.Sampling.MaxNewTokens),
	}
}

type tracedStream struct {
	inner   Stream
	span    telemetry.Span
	metrics telemetry.Metrics
	model   string

	mu    sync.Mutex
	usage Usage

	endOnce sync.Once
}

func (s *tracedStream) Recv() (Chunk, error) {
	c, err := s.inner.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.end(codes.Ok, "eof")
			return c, err
		}
		s.span.RecordError(err)
		s.end(codes.Error, "recv failed")
		return c, err
	}
	if c.Type == ChunkUsage && c.Usage != nil {
		s.mu.Lock()
		s.usage.PromptTokens += c.Usage.PromptTokens
		s.usage.CompletionTokens += c.Usage.CompletionTokens
		s.usage.TotalTokens += c.Usage.TotalTokens
		s.mu.Unlock()
	}
	if c.Type == ChunkStop && c.FinishReason != "" {
		s.span.AddEvent("provider.stop", "reason", c.FinishReason)
	}
	return c, nil
}

func (s *tracedStream) Close() error {
	err := s.inner.Close()
	if err != nil {
		s.span.RecordError(err)
		s.end(codes.Error, "close failed")
		return err
	}
	s.end(codes.Ok, "closed")
	return nil
}

func (s *tracedStream) end(code codes.Code, desc string) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		usage := s.usage
		s.mu.Unlock()

		if usage != (Usage{}) {
			s.span.AddEvent("provider.usage",
				"prompt_tokens", usage.PromptTokens,
				"completion_tokens", usage.CompletionTokens,
				"total_tokens", usage.TotalTokens,
			)
			s.metrics.IncCounter("provider.stream.tokens", float64(usage.TotalTokens), "model", s.model)
		}
		s.span.SetStatus(code, desc)
		s.span.End()
	})
}
