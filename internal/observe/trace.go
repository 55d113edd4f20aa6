package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/intervox"

// AttrInterviewID is the span and log attribute naming an interview.
const AttrInterviewID = "interview_id"

type interviewKey struct{}

// WithInterview returns ctx tagged with an interview ID. Spans started from
// it and loggers derived from it carry the ID.
func WithInterview(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, interviewKey{}, id)
}

// InterviewID returns the ID set by [WithInterview], or "".
func InterviewID(ctx context.Context) string {
	id, _ := ctx.Value(interviewKey{}).(string)
	return id
}

// StartSpan starts a span on the intervox tracer. The interview ID in ctx,
// if any, is added as an attribute. The caller must end the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if id := InterviewID(ctx); id != "" {
		attrs = append(attrs, attribute.String(AttrInterviewID, id))
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if non-nil, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Logger returns the default logger with the trace, span and interview IDs
// found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	if id := InterviewID(ctx); id != "" {
		l = l.With(AttrInterviewID, id)
	}
	return l
}
