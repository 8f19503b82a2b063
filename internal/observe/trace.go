package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scope name shared by every span the gateway emits.
const tracerName = "github.com/MrWong99/adagate"

// Tracer returns the gateway's [trace.Tracer], backed by whatever provider
// [InitProvider] registered globally.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span on the gateway tracer. The caller owns span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the active trace ID, or empty when ctx carries no valid
// span. The trace ID doubles as the correlation header value, so a client can
// quote one identifier that works in both logs and traces.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default slog logger tagged with trace_id and span_id
// from ctx, or untagged when no span is active.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
