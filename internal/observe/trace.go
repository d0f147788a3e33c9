package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every essaydeck span.
const tracerName = "github.com/MrWong99/essaydeck"

// ReferenceLen is the number of trace id characters shown to users.
const ReferenceLen = 8

// Tracer returns the essaydeck tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace id of the span in ctx, or "" when ctx
// carries no valid span. HTTP responses expose it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Reference is the short form of [CorrelationID] printed in failure notices.
// It is a prefix of the trace id, so a user's report can be grepped for in
// the logs directly.
func Reference(ctx context.Context) string {
	cid := CorrelationID(ctx)
	if len(cid) > ReferenceLen {
		return cid[:ReferenceLen]
	}
	return cid
}

// Logger returns the default logger with the trace and span id of ctx
// attached. Without a span it is [slog.Default] unchanged.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
