// Package clock provides context-aware waits that can be replaced in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Real sleeps on a timer.
type Real struct{}

// Sleep waits for d. It returns ctx.Err() if ctx ends first.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder is a Sleeper that returns immediately and remembers every
// requested duration.
type Recorder struct {
	mu    sync.Mutex
	slept []time.Duration

	// OnSleep, when set, runs before each recorded sleep returns.
	OnSleep func(ctx context.Context, d time.Duration)
}

// Sleep records d and returns ctx.Err().
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	hook := r.OnSleep
	r.mu.Unlock()

	if hook != nil {
		hook(ctx, d)
	}
	return ctx.Err()
}

// Slept returns the recorded durations in call order.
func (r *Recorder) Slept() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.slept))
	copy(out, r.slept)
	return out
}

// Total returns the sum of all recorded durations.
func (r *Recorder) Total() time.Duration {
	var total time.Duration
	for _, d := range r.Slept() {
		total += d
	}
	return total
}
