package demoapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Mindburn-Labs/oteldemo/pkg/clock"
)

// draws returns a generator that yields vals in order, then repeats the last.
func draws(vals ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := vals[i]
		if i < len(vals)-1 {
			i++
		}
		return v
	}
}

type fixture struct {
	app      *App
	reader   *sdkmetric.ManualReader
	recorder *tracetest.SpanRecorder
	sleeper  *clock.Recorder
	cache    *MemoryCache
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		reader:   sdkmetric.NewManualReader(),
		recorder: tracetest.NewSpanRecorder(),
		sleeper:  &clock.Recorder{},
		cache:    NewMemoryCache(0),
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(f.reader))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.recorder))

	opts = append([]Option{WithSleeper(f.sleeper)}, opts...)
	app, err := New(mp.Meter("test"), tp.Tracer("test"), f.cache, opts...)
	require.NoError(t, err)
	f.app = app
	return f
}

func (f *fixture) sum(t *testing.T, name string) (int64, []attribute.Set) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, name)
			var total int64
			var sets []attribute.Set
			for _, dp := range data.DataPoints {
				total += dp.Value
				sets = append(sets, dp.Attributes)
			}
			return total, sets
		}
	}
	return 0, nil
}

func TestPickSleep(t *testing.T) {
	tests := []struct {
		r    float64
		want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{0.69, 100 * time.Millisecond},
		{0.75, 200 * time.Millisecond},
		{0.85, 300 * time.Millisecond},
		{0.92, 500 * time.Millisecond},
		{0.96, time.Second},
		{0.985, 2 * time.Second},
		{0.995, 5 * time.Second},
		{0.99999999, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pickSleep(tt.r), "r=%v", tt.r)
	}
}

func TestHelloWorld_Success(t *testing.T) {
	f := newFixture(t, WithRand(draws(0.75, 0.5)))

	body, err := f.app.HelloWorld(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", body)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, f.sleeper.Slept())

	spans := f.recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "random sleep", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Float64("operation.sleep_time", 0.2))

	total, _ := f.sum(t, "errors")
	assert.Zero(t, total)
}

func TestHelloWorld_ErrorDrawCountsError(t *testing.T) {
	f := newFixture(t, WithRand(draws(0.1, 0.05)))

	_, err := f.app.HelloWorld(context.Background())
	require.ErrorIs(t, err, ErrHelloWorld)
	assert.Equal(t, "Error!", err.Error())

	total, sets := f.sum(t, "errors")
	assert.Equal(t, int64(1), total)
	require.Len(t, sets, 1)
	route, ok := sets[0].Value("http.route")
	require.True(t, ok)
	assert.Equal(t, RouteHelloWorld, route.AsString())
}

func TestHelloWorld_CancelledSleep(t *testing.T) {
	f := newFixture(t, WithRand(draws(0.5)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.app.HelloWorld(ctx)
	require.ErrorIs(t, err, context.Canceled)

	spans := f.recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestCachedResult_MissThenHit(t *testing.T) {
	f := newFixture(t, WithCacheTTL(time.Minute))
	ctx := context.Background()

	v, err := f.app.CachedResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, "foo", v)
	assert.Equal(t, []time.Duration{2 * time.Second}, f.sleeper.Slept())

	v, err = f.app.CachedResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, "foo", v)
	assert.Len(t, f.sleeper.Slept(), 1, "a hit does not sleep")

	misses, _ := f.sum(t, "cache.miss")
	requests, _ := f.sum(t, "cache.request")
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(2), requests)
}

type failingCache struct{ *MemoryCache }

func (failingCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("cache down")
}

func TestCachedResult_CacheErrorCountsError(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	tp := sdktrace.NewTracerProvider()
	app, err := New(mp.Meter("test"), tp.Tracer("test"), &failingCache{NewMemoryCache(0)}, WithSleeper(&clock.Recorder{}))
	require.NoError(t, err)

	_, err = app.CachedResult(context.Background())
	require.Error(t, err)

	f := &fixture{reader: reader}
	total, sets := f.sum(t, "errors")
	assert.Equal(t, int64(1), total)
	route, _ := sets[0].Value("http.route")
	assert.Equal(t, RouteCachedResult, route.AsString())
}
