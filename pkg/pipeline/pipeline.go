// Package pipeline runs the synthetic workload behind /otel-demo.
//
// Every request walks the same phases: take a sequence number, emit the
// arbitrary counter, apply the behaviors the cycle schedule assigns to that
// number, call the downstream target, and finish with nested work spans and a
// store query. Span parentage follows the context passed to Handle.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/oteldemo/pkg/clock"
	"github.com/Mindburn-Labs/oteldemo/pkg/cycle"
	"github.com/Mindburn-Labs/oteldemo/pkg/downstream"
	"github.com/Mindburn-Labs/oteldemo/pkg/observability"
)

// Span names opened by the pipeline.
const (
	SpanNestedActivity       = "Nested Activity"
	SpanNestedNestedActivity = "Nested Nested Activity"
)

// EventInjectedDelay marks the start of an injected delay on the request span.
const EventInjectedDelay = "injected delay"

// Simulated work inside the nested spans.
const (
	DefaultWorkDuration       = 2 * time.Millisecond
	DefaultNestedWorkDuration = 4 * time.Millisecond
)

// NetworkCaller issues the outbound call.
type NetworkCaller interface {
	Call(ctx context.Context) (downstream.CallResult, error)
}

// NameQuerier reads the demo names.
type NameQuerier interface {
	Names(ctx context.Context) ([]string, error)
}

// Pipeline handles demo requests. It is safe for concurrent use.
type Pipeline struct {
	seq      *cycle.Sequence
	schedule *cycle.Schedule
	counter  *observability.CounterEmitter
	caller   NetworkCaller
	store    NameQuerier
	tracer   trace.Tracer
	logger   *slog.Logger
	sleeper  clock.Sleeper
	int64n   func(n int64) int64
	target   string

	work       time.Duration
	nestedWork time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSchedule replaces the default cycle schedule.
func WithSchedule(s *cycle.Schedule) Option {
	return func(p *Pipeline) { p.schedule = s }
}

// WithSequence sets the sequence source, e.g. to resume numbering.
func WithSequence(s *cycle.Sequence) Option {
	return func(p *Pipeline) { p.seq = s }
}

// WithSleeper replaces the wall-clock sleeper.
func WithSleeper(s clock.Sleeper) Option {
	return func(p *Pipeline) { p.sleeper = s }
}

// WithDelaySampler replaces the random source used to pick injected delays.
// f must be safe for concurrent use and return a value in [0, n).
func WithDelaySampler(f func(n int64) int64) Option {
	return func(p *Pipeline) { p.int64n = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithWorkDurations sets the simulated waits of the two nested spans.
func WithWorkDurations(work, nested time.Duration) Option {
	return func(p *Pipeline) {
		p.work = work
		p.nestedWork = nested
	}
}

// New assembles a Pipeline from its collaborators.
func New(counter *observability.CounterEmitter, caller NetworkCaller, store NameQuerier, tracer trace.Tracer, opts ...Option) *Pipeline {
	p := &Pipeline{
		seq:        &cycle.Sequence{},
		schedule:   cycle.DefaultSchedule(),
		counter:    counter,
		caller:     caller,
		store:      store,
		tracer:     tracer,
		logger:     slog.Default().With("component", "pipeline"),
		sleeper:    clock.Real{},
		int64n:     rand.Int64N,
		target:     "downstream",
		work:       DefaultWorkDuration,
		nestedWork: DefaultNestedWorkDuration,
	}
	if t, ok := caller.(interface{ Target() string }); ok {
		p.target = t.Target()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sequence returns the sequence the pipeline draws from.
func (p *Pipeline) Sequence() *cycle.Sequence { return p.seq }

// Schedule returns the active cycle schedule.
func (p *Pipeline) Schedule() *cycle.Schedule { return p.schedule }

// Handle runs one request. The span in ctx is treated as the request's root
// span and receives the cycle attributes. A request that lands in a failure
// window returns *InjectedFailure after the downstream call and before any
// nested work.
func (p *Pipeline) Handle(ctx context.Context) error {
	seq := p.seq.Next()
	p.counter.RecordRequest(ctx)

	decision := p.schedule.Decide(seq)
	observability.SetSpanAttributes(ctx,
		observability.RequestOperation(seq, p.schedule.Position(seq), string(decision.Behavior()))...)

	if decision.Delay != nil {
		d := decision.Delay.Sample(p.int64n)
		p.logger.WarnContext(ctx, "Delaying request...", "sequence", seq, "delay", d)
		observability.AddSpanEvent(ctx, EventInjectedDelay, observability.AttrInjectedDelayMs.Int64(d.Milliseconds()))
		if err := p.sleeper.Sleep(ctx, d); err != nil {
			return fmt.Errorf("injected delay: %w", err)
		}
	}

	p.logger.InfoContext(ctx, "Making request...", "target", p.target)
	if _, err := p.caller.Call(ctx); err != nil {
		return err
	}

	if decision.Failure != "" {
		return &InjectedFailure{Message: decision.Failure, Sequence: seq}
	}

	return p.nested(ctx)
}

func (p *Pipeline) nested(ctx context.Context) (err error) {
	ctx, end := observability.StartChild(ctx, p.tracer, SpanNestedActivity)
	defer func() { end(err) }()

	p.logger.InfoContext(ctx, "Doing work...")
	if err = p.sleeper.Sleep(ctx, p.work); err != nil {
		return fmt.Errorf("nested work: %w", err)
	}

	if err = p.nestedNested(ctx); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Querying store...")
	if _, err = p.store.Names(ctx); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Done.")
	return nil
}

func (p *Pipeline) nestedNested(ctx context.Context) (err error) {
	ctx, end := observability.StartChild(ctx, p.tracer, SpanNestedNestedActivity)
	defer func() { end(err) }()

	p.logger.InfoContext(ctx, "Doing some more work...")
	if err = p.sleeper.Sleep(ctx, p.nestedWork); err != nil {
		return fmt.Errorf("nested nested work: %w", err)
	}
	p.logger.InfoContext(ctx, "Done...")
	return nil
}
