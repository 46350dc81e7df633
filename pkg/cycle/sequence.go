package cycle

import "sync/atomic"

// Sequence hands out strictly increasing request numbers. It is safe for
// concurrent use and never returns the same value twice. The zero value is
// ready to use; its first Next returns 1.
type Sequence struct {
	n atomic.Uint64
}

// NewSequence returns a Sequence whose next value is last+1.
func NewSequence(last uint64) *Sequence {
	s := &Sequence{}
	s.n.Store(last)
	return s
}

// Next increments the sequence and returns the new value.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the most recently issued value.
func (s *Sequence) Current() uint64 {
	return s.n.Load()
}
