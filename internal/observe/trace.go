package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voxturn"

// Tracer returns the tracer of the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must call span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// turnKey stores the [turnIDs] of the turn a context belongs to.
type turnKey struct{}

type turnIDs struct {
	session string
	turn    string
}

// StartTurnSpan starts a span for one stage of a conversational turn
// ("turn.transcribe", "turn.respond"). The span is tagged with the session
// and turn IDs, and so is every [Logger] derived from the returned context.
func StartTurnSpan(ctx context.Context, stage, sessionID, turnID string) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, turnKey{}, turnIDs{session: sessionID, turn: turnID})
	return StartSpan(ctx, stage, trace.WithAttributes(
		attribute.String("voxturn.session_id", sessionID),
		attribute.String("voxturn.turn_id", turnID),
	))
}

// FailSpan marks span as failed with err.
func FailSpan(span trace.Span, err error, description string) {
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, description)
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the turn and trace of ctx attached:
// session and turn when ctx comes from [StartTurnSpan], trace_id and span_id
// when it carries a valid span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if ids, ok := ctx.Value(turnKey{}).(turnIDs); ok {
		l = l.With(slog.String("session", ids.session), slog.String("turn", ids.turn))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
