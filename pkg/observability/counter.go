package observability

import (
	"context"
	"math/rand/v2"

	"go.opentelemetry.io/otel/metric"
)

// ArbitraryCounterName is the counter incremented once per pipeline request.
const ArbitraryCounterName = "arbitrary_count_total"

// counterBound is the exclusive upper bound of each counter sample.
const counterBound = 10

// CounterEmitter adds a random sample in [0,10) to a monotonic counter once
// per request. Aggregation happens inside the metric SDK, so RecordRequest is
// safe for concurrent use.
type CounterEmitter struct {
	counter metric.Int64Counter
	sample  func() int64
}

// CounterOption customizes a CounterEmitter.
type CounterOption func(*CounterEmitter)

// WithSampler replaces the random source. f must be safe for concurrent use
// and return values in [0,10).
func WithSampler(f func() int64) CounterOption {
	return func(c *CounterEmitter) { c.sample = f }
}

// NewCounterEmitter registers the counter instrument on meter.
func NewCounterEmitter(meter metric.Meter, opts ...CounterOption) (*CounterEmitter, error) {
	counter, err := meter.Int64Counter(ArbitraryCounterName,
		metric.WithDescription("Arbitrary per-request count"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	c := &CounterEmitter{
		counter: counter,
		sample:  func() int64 { return rand.Int64N(counterBound) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RecordRequest adds one sample to the counter.
func (c *CounterEmitter) RecordRequest(ctx context.Context) {
	c.counter.Add(ctx, c.sample())
}
