// Package demoapi serves the auxiliary demo routes: a randomly slow,
// occasionally failing /hello-world and a cache-backed /cached-result.
package demoapi

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/oteldemo/pkg/clock"
	"github.com/Mindburn-Labs/oteldemo/pkg/observability"
)

// Routes served by the App.
const (
	RouteHelloWorld   = "/hello-world"
	RouteCachedResult = "/cached-result"
)

const (
	helloWorldBody = "Hello World!"
	errorRate      = 0.1

	cacheKey       = "result"
	cachedValue    = "foo"
	cacheMissDelay = 2 * time.Second

	// DefaultCacheTTL is how long a computed result stays cached.
	DefaultCacheTTL = 30 * time.Second
)

// ErrHelloWorld is the failure /hello-world returns on its error draw.
var ErrHelloWorld = errors.New("Error!")

// Candidate /hello-world latencies, weighted towards the fast end.
var (
	sleepTimes   = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second, 5 * time.Second}
	sleepWeights = []float64{0.7, 0.1, 0.1, 0.05, 0.03, 0.01, 0.01}
)

// App implements the demo routes.
type App struct {
	tracer  trace.Tracer
	cache   Cache
	ttl     time.Duration
	sleeper clock.Sleeper
	uniform func() float64
	errors  metric.Int64Counter
	logger  *slog.Logger
}

// Option configures an App.
type Option func(*App)

// WithCacheTTL sets the TTL of cached results.
func WithCacheTTL(d time.Duration) Option {
	return func(a *App) { a.ttl = d }
}

// WithSleeper replaces the wall-clock sleeper.
func WithSleeper(s clock.Sleeper) Option {
	return func(a *App) { a.sleeper = s }
}

// WithRand replaces the source of uniform draws in [0,1).
func WithRand(f func() float64) Option {
	return func(a *App) { a.uniform = f }
}

// New registers the App's instruments on meter: the "errors" counter and
// observable "cache.miss" and "cache.request" counters fed by cache stats.
func New(meter metric.Meter, tracer trace.Tracer, cache Cache, opts ...Option) (*App, error) {
	a := &App{
		tracer:  tracer,
		cache:   cache,
		ttl:     DefaultCacheTTL,
		sleeper: clock.Real{},
		uniform: rand.Float64,
		logger:  slog.Default().With("component", "demoapi"),
	}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	a.errors, err = meter.Int64Counter("errors",
		metric.WithDescription("Counts the number of errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	if _, err := meter.Int64ObservableCounter("cache.miss",
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(a.cache.Stats().Misses))
			return nil
		}),
	); err != nil {
		return nil, err
	}

	if _, err := meter.Int64ObservableCounter("cache.request",
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(a.cache.Stats().Requests))
			return nil
		}),
	); err != nil {
		return nil, err
	}

	return a, nil
}

// HelloWorld sleeps a weighted random duration inside a "random sleep" span,
// then fails with ErrHelloWorld one time in ten.
func (a *App) HelloWorld(ctx context.Context) (_ string, err error) {
	defer a.countErrors(ctx, RouteHelloWorld, &err)

	d := pickSleep(a.uniform())
	sleepCtx, end := observability.StartChild(ctx, a.tracer, "random sleep",
		observability.AttrSleepTime.Float64(d.Seconds()))
	serr := a.sleeper.Sleep(sleepCtx, d)
	end(serr)
	if serr != nil {
		return "", serr
	}

	if a.uniform() < errorRate {
		return "", ErrHelloWorld
	}
	return helloWorldBody, nil
}

// CachedResult returns the cached value, computing it slowly on a miss.
func (a *App) CachedResult(ctx context.Context) (_ string, err error) {
	defer a.countErrors(ctx, RouteCachedResult, &err)

	if v, ok, err := a.cache.Get(ctx, cacheKey); err != nil {
		return "", err
	} else if ok {
		return v, nil
	}

	a.logger.DebugContext(ctx, "cache miss", "key", cacheKey)
	if err := a.sleeper.Sleep(ctx, cacheMissDelay); err != nil {
		return "", err
	}
	if err := a.cache.Set(ctx, cacheKey, cachedValue, a.ttl); err != nil {
		return "", err
	}
	return cachedValue, nil
}

func (a *App) countErrors(ctx context.Context, route string, err *error) {
	if *err != nil {
		a.errors.Add(ctx, 1, metric.WithAttributes(observability.AttrHTTPRoute.String(route)))
	}
}

// pickSleep maps a uniform draw in [0,1) onto the weighted latencies.
func pickSleep(r float64) time.Duration {
	var cum float64
	for i, w := range sleepWeights {
		cum += w
		if r < cum {
			return sleepTimes[i]
		}
	}
	return sleepTimes[len(sleepTimes)-1]
}
