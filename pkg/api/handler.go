package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/oteldemo/pkg/observability"
	"github.com/Mindburn-Labs/oteldemo/pkg/pipeline"
)

// Runner runs the work behind a route that answers with an empty body.
type Runner interface {
	Handle(ctx context.Context) error
}

// TextFunc produces a plain-text response body.
type TextFunc func(ctx context.Context) (string, error)

// RequestTracker records RED metrics around a request.
type RequestTracker interface {
	TrackRequest(ctx context.Context, attrs ...attribute.KeyValue) func(error)
}

// NewHandler exposes runner on route. Success is 200 with an empty body;
// any error is a generic 500 problem document.
func NewHandler(route string, runner Runner, tracker RequestTracker, logger *slog.Logger) http.Handler {
	return NewTextHandler(route, func(ctx context.Context) (string, error) {
		return "", runner.Handle(ctx)
	}, tracker, logger)
}

// NewTextHandler exposes fn on route, writing its result as text/plain.
func NewTextHandler(route string, fn TextFunc, tracker RequestTracker, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("route", route)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(observability.AttrHTTPRoute.String(route))

		done := tracker.TrackRequest(ctx, observability.AttrHTTPRoute.String(route))
		body, err := fn(ctx)
		done(err)

		if err != nil {
			observability.MarkError(span, err)
			if pipeline.IsInjected(err) {
				logger.InfoContext(ctx, "injected failure", "error", err)
			} else {
				logger.ErrorContext(ctx, "request failed", "error", err)
			}
			WriteInternal(w, r)
			return
		}

		if body == "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, body)
	})
}
