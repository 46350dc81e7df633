// Package cycle decides which synthetic behaviors a request receives.
//
// Requests are numbered by a Sequence. The number modulo the schedule period
// is the request's cycle position, and the half-open windows of a Schedule map
// positions to injected behaviors:
//
//	seq := sequence.Next()
//	d := cycle.DefaultSchedule().Decide(seq)
//	if d.Delay != nil { ... }
//	if d.Failure != "" { ... }
//
// Decide is a pure function of the sequence number, so every decision can be
// reproduced from the number alone.
package cycle

import (
	"fmt"
	"sort"
	"time"
)

// DefaultPeriod is the cycle length used by DefaultSchedule.
const DefaultPeriod uint64 = 1000

// PeriodicExceptionMessage is the message carried by the default failure window.
const PeriodicExceptionMessage = "Periodic Exception!"

// Kind identifies the behavior a Window injects.
type Kind string

const (
	KindDelay Kind = "delay"
	KindFail  Kind = "fail"
)

// Behavior labels a Decision for logs and span attributes.
type Behavior string

const (
	BehaviorNone    Behavior = "none"
	BehaviorDelay   Behavior = "delay"
	BehaviorFailure Behavior = "failure"
	BehaviorBoth    Behavior = "delay+failure"
)

// DelayRange is a half-open duration range [Min, Max).
// A range with Min == Max always yields Min.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Sample draws a duration uniformly from the range. int64n must return a
// value in [0, n) for n > 0.
func (r DelayRange) Sample(int64n func(n int64) int64) time.Duration {
	span := int64(r.Max - r.Min)
	if span <= 0 {
		return r.Min
	}
	return r.Min + time.Duration(int64n(span))
}

// Window maps the positions [Lo, Hi) to a behavior.
type Window struct {
	Lo      uint64
	Hi      uint64
	Kind    Kind
	Delay   DelayRange // KindDelay only
	Message string     // KindFail only
}

// Contains reports whether pos falls inside the window.
func (w Window) Contains(pos uint64) bool {
	return pos >= w.Lo && pos < w.Hi
}

func (w Window) String() string {
	return fmt.Sprintf("%s[%d,%d)", w.Kind, w.Lo, w.Hi)
}

// DelayWindow builds a delay window over [lo, hi).
func DelayWindow(lo, hi uint64, min, max time.Duration) Window {
	return Window{Lo: lo, Hi: hi, Kind: KindDelay, Delay: DelayRange{Min: min, Max: max}}
}

// FailWindow builds a failure window over [lo, hi).
func FailWindow(lo, hi uint64, message string) Window {
	return Window{Lo: lo, Hi: hi, Kind: KindFail, Message: message}
}

// DefaultWindows returns the standard cycle: a 500–1000ms delay for
// positions [0,100) and a failure for positions [475,500).
func DefaultWindows() []Window {
	return []Window{
		DelayWindow(0, 100, 500*time.Millisecond, 1000*time.Millisecond),
		FailWindow(475, 500, PeriodicExceptionMessage),
	}
}

// Decision is the set of behaviors injected into one request.
type Decision struct {
	Delay   *DelayRange
	Failure string
}

// Behavior summarizes the decision.
func (d Decision) Behavior() Behavior {
	switch {
	case d.Delay != nil && d.Failure != "":
		return BehaviorBoth
	case d.Delay != nil:
		return BehaviorDelay
	case d.Failure != "":
		return BehaviorFailure
	default:
		return BehaviorNone
	}
}

// Schedule is an immutable set of behavior windows over a fixed period.
type Schedule struct {
	period  uint64
	windows []Window
}

// NewSchedule validates windows against period and returns a Schedule.
// Windows must satisfy Lo < Hi <= period, and windows of the same kind may not
// overlap. A delay and a failure window may overlap, in which case both apply.
func NewSchedule(period uint64, windows ...Window) (*Schedule, error) {
	if period == 0 {
		return nil, fmt.Errorf("cycle: period must be positive")
	}

	ws := make([]Window, len(windows))
	copy(ws, windows)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Lo < ws[j].Lo })

	last := map[Kind]Window{}
	for _, w := range ws {
		if w.Lo >= w.Hi {
			return nil, fmt.Errorf("cycle: window %s is empty", w)
		}
		if w.Hi > period {
			return nil, fmt.Errorf("cycle: window %s exceeds period %d", w, period)
		}
		switch w.Kind {
		case KindDelay:
			if w.Delay.Min <= 0 || w.Delay.Max < w.Delay.Min {
				return nil, fmt.Errorf("cycle: window %s has invalid delay range [%s,%s)", w, w.Delay.Min, w.Delay.Max)
			}
		case KindFail:
			if w.Message == "" {
				return nil, fmt.Errorf("cycle: window %s needs a failure message", w)
			}
		default:
			return nil, fmt.Errorf("cycle: window %s has unknown kind %q", w, w.Kind)
		}
		if prev, ok := last[w.Kind]; ok && w.Lo < prev.Hi {
			return nil, fmt.Errorf("cycle: windows %s and %s overlap", prev, w)
		}
		last[w.Kind] = w
	}

	return &Schedule{period: period, windows: ws}, nil
}

// DefaultSchedule returns the standard 1000-position schedule.
func DefaultSchedule() *Schedule {
	s, err := NewSchedule(DefaultPeriod, DefaultWindows()...)
	if err != nil {
		panic(err)
	}
	return s
}

// Period returns the cycle length.
func (s *Schedule) Period() uint64 { return s.period }

// Windows returns a copy of the schedule's windows ordered by Lo.
func (s *Schedule) Windows() []Window {
	out := make([]Window, len(s.windows))
	copy(out, s.windows)
	return out
}

// Position maps a sequence number to its cycle position.
func (s *Schedule) Position(seq uint64) uint64 {
	return seq % s.period
}

// Decide returns the behaviors for the request numbered seq.
func (s *Schedule) Decide(seq uint64) Decision {
	pos := s.Position(seq)

	var d Decision
	for i := range s.windows {
		w := s.windows[i]
		if !w.Contains(pos) {
			continue
		}
		switch w.Kind {
		case KindDelay:
			r := w.Delay
			d.Delay = &r
		case KindFail:
			d.Failure = w.Message
		}
	}
	return d
}
