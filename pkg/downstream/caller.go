// Package downstream simulates the dependencies a demo request fans out to:
// one outbound HTTP call and one query against the backing store.
package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/oteldemo/pkg/observability"
)

// DefaultTargetURL is the fixed external address the pipeline calls.
const DefaultTargetURL = "http://example.com"

// Static header attached to every outbound call.
const (
	TestHeaderName  = "test-header"
	TestHeaderValue = "test-value"
)

// CallResult is the outcome of an outbound call. It only feeds telemetry.
type CallResult struct {
	StatusCode int
	Headers    http.Header // request headers as sent
}

// Caller issues the outbound network call.
type Caller struct {
	client *http.Client
	target string
}

// CallerOption customizes a Caller.
type CallerOption func(*callerOptions)

type callerOptions struct {
	base    http.RoundTripper
	tp      trace.TracerProvider
	timeout time.Duration
}

// WithTransport sets the round tripper wrapped by the instrumentation.
func WithTransport(rt http.RoundTripper) CallerOption {
	return func(o *callerOptions) { o.base = rt }
}

// WithTracerProvider sets the provider for client spans. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) CallerOption {
	return func(o *callerOptions) { o.tp = tp }
}

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) CallerOption {
	return func(o *callerOptions) { o.timeout = d }
}

// NewCaller returns a Caller for target. Each call runs in a client span
// started by the otelhttp transport under the span in the call's context.
func NewCaller(target string, opts ...CallerOption) *Caller {
	o := callerOptions{
		base:    http.DefaultTransport,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var otelOpts []otelhttp.Option
	if o.tp != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(o.tp))
	}

	return &Caller{
		client: &http.Client{
			Transport: otelhttp.NewTransport(headerRecorder{next: o.base}, otelOpts...),
			Timeout:   o.timeout,
		},
		target: target,
	}
}

// Target returns the URL the caller hits.
func (c *Caller) Target() string { return c.target }

// Call sends one GET to the target with the static test header. The response
// body is drained and discarded; any status code counts as success. Transport
// errors are returned to the caller.
func (c *Caller) Call(ctx context.Context) (CallResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.target, nil)
	if err != nil {
		return CallResult{}, fmt.Errorf("build request to %s: %w", c.target, err)
	}
	req.Header.Set(TestHeaderName, TestHeaderValue)

	resp, err := c.client.Do(req)
	if err != nil {
		return CallResult{}, fmt.Errorf("call %s: %w", c.target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return CallResult{StatusCode: resp.StatusCode, Headers: req.Header.Clone()}, nil
}

// headerRecorder runs inside the otelhttp transport, so the context of the
// request it sees carries the client span. It records the outgoing headers
// on that span.
type headerRecorder struct {
	next http.RoundTripper
}

func (h headerRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	if b, err := json.Marshal(req.Header); err == nil {
		trace.SpanFromContext(req.Context()).SetAttributes(observability.AttrHeaders.String(string(b)))
	}
	return h.next.RoundTrip(req)
}
