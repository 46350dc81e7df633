// Package loadgen drives steady synthetic traffic at a demo endpoint.
package loadgen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/oteldemo/pkg/clock"
	"github.com/Mindburn-Labs/oteldemo/pkg/observability"
)

// UserIDHeader identifies the simulated user behind a worker.
const UserIDHeader = "user-id"

// Config controls a load run.
type Config struct {
	// URL is the endpoint every worker hits.
	URL string
	// Workers is the number of concurrent simulated users.
	Workers int
	// MaxPause bounds the uniform pause after each request.
	MaxPause time.Duration
	// RPS caps the combined request rate. Zero means uncapped.
	RPS float64
	// Requests stops the run after this many requests. Zero means run until
	// the context ends.
	Requests int
	// Timeout bounds each request.
	Timeout time.Duration
}

// DefaultConfig mirrors the stock load generator: two workers pausing up to
// one second between requests.
func DefaultConfig() Config {
	return Config{
		URL:      "http://localhost:8080/otel-demo",
		Workers:  2,
		MaxPause: time.Second,
		Timeout:  30 * time.Second,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("loadgen: invalid url %q", c.URL)
	}
	if c.Workers < 1 {
		return fmt.Errorf("loadgen: workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxPause < 0 || c.RPS < 0 || c.Requests < 0 {
		return fmt.Errorf("loadgen: pause, rps and requests must not be negative")
	}
	return nil
}

// Stats summarize a run.
type Stats struct {
	Sent   uint64 // requests that got a response or a transport error
	Failed uint64 // transport errors and 5xx responses
}

// Generator runs the workers.
type Generator struct {
	cfg     Config
	client  *http.Client
	base    http.RoundTripper
	tp      trace.TracerProvider
	limiter *rate.Limiter
	sleeper clock.Sleeper
	uniform func() float64
	logger  *slog.Logger

	issued atomic.Int64
	sent   atomic.Uint64
	failed atomic.Uint64
}

// Option configures a Generator.
type Option func(*Generator)

// WithSleeper replaces the wall-clock sleeper used for pauses.
func WithSleeper(s clock.Sleeper) Option {
	return func(g *Generator) { g.sleeper = s }
}

// WithTracerProvider sets the provider for client spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Generator) { g.tp = tp }
}

// WithTransport replaces the base round tripper under the instrumentation.
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Generator) { g.base = rt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// New validates cfg and builds a Generator.
func New(cfg Config, opts ...Option) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		cfg: cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		base:    http.DefaultTransport,
		sleeper: clock.Real{},
		uniform: rand.Float64,
		logger:  slog.Default().With("component", "loadgen"),
	}
	if cfg.RPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	for _, opt := range opts {
		opt(g)
	}

	var otelOpts []otelhttp.Option
	if g.tp != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(g.tp))
	}
	g.client.Transport = otelhttp.NewTransport(spanTagger{next: g.base}, otelOpts...)
	return g, nil
}

// Run starts the workers and blocks until the request budget is spent or
// ctx ends. It returns the totals of this run.
func (g *Generator) Run(ctx context.Context) Stats {
	g.logger.InfoContext(ctx, "load generation started",
		"url", g.cfg.URL, "workers", g.cfg.Workers, "rps", g.cfg.RPS, "requests", g.cfg.Requests)

	var wg sync.WaitGroup
	for i := 0; i < g.cfg.Workers; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			g.work(ctx, userID)
		}(uuid.NewString())
	}
	wg.Wait()

	stats := g.Stats()
	g.logger.InfoContext(ctx, "load generation finished", "sent", stats.Sent, "failed", stats.Failed)
	return stats
}

// Stats returns the running totals.
func (g *Generator) Stats() Stats {
	return Stats{Sent: g.sent.Load(), Failed: g.failed.Load()}
}

func (g *Generator) work(ctx context.Context, userID string) {
	for ctx.Err() == nil {
		if g.cfg.Requests > 0 && g.issued.Add(1) > int64(g.cfg.Requests) {
			return
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return
			}
		}

		g.send(ctx, userID)

		pause := time.Duration(g.uniform() * float64(g.cfg.MaxPause))
		if err := g.sleeper.Sleep(ctx, pause); err != nil {
			return
		}
	}
}

func (g *Generator) send(ctx context.Context, userID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.URL, nil)
	if err != nil {
		g.failed.Add(1)
		return
	}
	req.Header.Set(UserIDHeader, userID)

	resp, err := g.client.Do(req)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if ctx.Err() != nil {
		return
	}
	g.sent.Add(1)
	if err != nil {
		g.failed.Add(1)
		g.logger.WarnContext(ctx, "request failed", "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		g.failed.Add(1)
	}
}

// spanTagger runs inside the otelhttp transport and tags the client span with
// the route and the simulated user.
type spanTagger struct {
	next http.RoundTripper
}

func (s spanTagger) RoundTrip(req *http.Request) (*http.Response, error) {
	observability.SetSpanAttributes(req.Context(),
		observability.AttrHTTPRoute.String(req.URL.Path),
		attribute.String("http.header.user-id", req.Header.Get(UserIDHeader)),
	)
	return s.next.RoundTrip(req)
}
