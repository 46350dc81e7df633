package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EndFunc ends a span opened by StartChild. A non-nil error is recorded on
// the span and sets its status to Error. Calling it more than once has no
// further effect.
type EndFunc func(err error)

// StartChild opens a span named name as a child of the span carried by ctx.
// Work done with the returned context is attributed to the new span. Callers
// defer the EndFunc so the span ends on every return path, which keeps
// children ending before their parents:
//
//	ctx, end := observability.StartChild(ctx, tracer, "Nested Activity")
//	defer func() { end(err) }()
func StartChild(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, EndFunc) {
	ctx, span := tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	ended := false
	return ctx, func(err error) {
		if ended {
			return
		}
		ended = true
		MarkError(span, err)
		span.End()
	}
}

// MarkError records err on span and flags the span as failed. It is a no-op
// for a nil error.
func MarkError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
