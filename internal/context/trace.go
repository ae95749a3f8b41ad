package context

import (
	stdcontext "context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TraceContext carries only cross-cutting concerns needed for observability.
type TraceContext struct {
	TraceID string            // Globally unique ID for logs and spans
	SpanID  string            // Current span identifier
	Baggage map[string]string // Optional key-value flags (e.g., correlation data)
	stdCtx  stdcontext.Context
}

// NewTraceContext creates a TraceContext bound to parent. When parent carries
// a valid OpenTelemetry span its trace id is reused, otherwise a new id is
// generated.
func NewTraceContext(parent stdcontext.Context) TraceContext {
	if parent == nil {
		parent = stdcontext.Background()
	}
	tc := TraceContext{
		TraceID: uuid.NewString(),
		SpanID:  uuid.NewString(),
		Baggage: make(map[string]string),
		stdCtx:  parent,
	}
	if sc := trace.SpanContextFromContext(parent); sc.IsValid() {
		tc.TraceID = sc.TraceID().String()
		tc.SpanID = sc.SpanID().String()
	}
	return tc
}

// NewTraceContextWithIDs rebinds an existing trace to ctx, typically right
// after starting a span.
func NewTraceContextWithIDs(ctx stdcontext.Context, traceID, spanID string) TraceContext {
	return TraceContext{TraceID: traceID, SpanID: spanID, Baggage: make(map[string]string), stdCtx: ctx}
}

// Context returns the standard context the trace is bound to.
func (tc TraceContext) Context() stdcontext.Context {
	if tc.stdCtx == nil {
		return stdcontext.Background()
	}
	return tc.stdCtx
}

// NewSpan generates a new SpanID for a child operation within the same trace.
func (tc *TraceContext) NewSpan() string {
	tc.SpanID = uuid.NewString()
	return tc.SpanID
}

// Fields are the log fields identifying the trace.
func (tc TraceContext) Fields() []zap.Field {
	return []zap.Field{zap.String("trace_id", tc.TraceID), zap.String("span_id", tc.SpanID)}
}
