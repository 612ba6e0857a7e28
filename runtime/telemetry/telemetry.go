// Package telemetry defines the ambient Tracer/Metrics contract used to
// instrument provider streams without coupling the runtime to a concrete
// observability backend.
//
// Grounded on the teacher's runtime/agent/telemetry package (Tracer/Span/
// Metrics interfaces backed by OpenTelemetry) and runtime/agent/runtime's
// model_tracing.go, which wraps model.Client/model.Streamer in tracing
// spans. The teacher's own interface definitions were not present in the
// retrieved copy of that package (only its clue.go and noop.go
// implementations were), so the interfaces below are reconstructed from
// their usage in model_tracing.go and clue.go rather than copied verbatim.
// goa.design/clue/log is dropped: it is a goa-specific logging facade with
// no other grounding anywhere in this module, and the teacher has no
// separate logging package for this concern either (see DESIGN.md) — only
// the OTEL tracer/metrics half of clue.go is carried forward.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span wraps a single OpenTelemetry span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, keyvals ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Tracer starts spans for provider calls.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Metrics records counters and timers for provider calls.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
}

type (
	noopTracer struct{}
	noopSpan   struct{}
	noopMetrics struct{}
)

// NewNoopTracer returns a Tracer that starts spans with no backend attached.
func NewNoopTracer() Tracer { return noopTracer{} }

// NewNoopMetrics returns a Metrics recorder that discards every observation.
func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) End(...trace.SpanEndOption)             {}
func (noopSpan) AddEvent(string, ...any)                {}
func (noopSpan) SetStatus(codes.Code, string)           {}
func (noopSpan) RecordError(error, ...trace.EventOption) {}

func (noopMetrics) IncCounter(string, float64, ...string)        {}
func (noopMetrics) RecordTimer(string, time.Duration, ...string) {}
