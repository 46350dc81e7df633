package downstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(recorder),
	)
	return recorder, provider
}

func clientSpans(spans []sdktrace.ReadOnlySpan) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range spans {
		if s.SpanKind() == trace.SpanKindClient {
			out = append(out, s)
		}
	}
	return out
}

func attr(s sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestCaller_SendsStaticHeaderInsideClientSpan(t *testing.T) {
	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get(TestHeaderName))
		_, _ = w.Write([]byte("<html>example</html>"))
	}))
	defer srv.Close()

	recorder, tp := newTestTracer()
	caller := NewCaller(srv.URL, WithTracerProvider(tp))
	assert.Equal(t, srv.URL, caller.Target())

	ctx, root := tp.Tracer("test").Start(context.Background(), "GET /otel-demo")
	res, err := caller.Call(ctx)
	root.End()

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, TestHeaderValue, res.Headers.Get(TestHeaderName))
	assert.Equal(t, TestHeaderValue, gotHeader.Load())

	clients := clientSpans(recorder.Ended())
	require.Len(t, clients, 1)
	client := clients[0]
	assert.Equal(t, root.SpanContext().SpanID(), client.Parent().SpanID())
	assert.Equal(t, root.SpanContext().TraceID(), client.SpanContext().TraceID())

	headers, ok := attr(client, "headers")
	require.True(t, ok, "client span should carry the headers attribute")
	assert.True(t, strings.Contains(headers, `"Test-Header":["test-value"]`), headers)
}

func TestCaller_NonSuccessStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, tp := newTestTracer()
	res, err := NewCaller(srv.URL, WithTracerProvider(tp)).Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestCaller_TransportErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	recorder, tp := newTestTracer()
	_, err := NewCaller(url, WithTracerProvider(tp)).Call(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), url)

	// The client span is still ended on failure.
	assert.Len(t, clientSpans(recorder.Ended()), 1)
}

func TestCaller_InvalidTarget(t *testing.T) {
	_, err := NewCaller("://bad").Call(context.Background())
	require.Error(t, err)
}

func TestCaller_CancelledContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, tp := newTestTracer()
	_, err := NewCaller(srv.URL, WithTracerProvider(tp)).Call(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
