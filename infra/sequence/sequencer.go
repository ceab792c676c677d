// Package sequence provides process-unique id generation for orders and
// trades.
package sequence

import "sync/atomic"

// Sequencer hands out strictly monotonic ids, safe for concurrent callers.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer that issues ids starting at start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
