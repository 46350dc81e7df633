package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// oteldemo semantic convention attributes.
var (
	// Request cycle attributes
	AttrRequestSequence  = attribute.Key("oteldemo.request.sequence")
	AttrCyclePosition    = attribute.Key("oteldemo.cycle.position")
	AttrInjectedBehavior = attribute.Key("oteldemo.injected.behavior")
	AttrInjectedDelayMs  = attribute.Key("oteldemo.injected.delay_ms")

	// Downstream attributes
	AttrHeaders = attribute.Key("headers")
	AttrNames   = attribute.Key("Names")

	// Demo route attributes
	AttrSleepTime = attribute.Key("operation.sleep_time")
	AttrHTTPRoute = attribute.Key("http.route")
)

// RequestOperation creates attributes describing where a request fell in the
// injection cycle.
func RequestOperation(sequence, position uint64, behavior string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestSequence.Int64(int64(sequence)),
		AttrCyclePosition.Int64(int64(position)),
		AttrInjectedBehavior.String(behavior),
	}
}

// SetSpanAttributes sets attributes on the span in ctx.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
