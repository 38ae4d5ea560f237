// Package handoff provides a single-slot, latest-wins mailbox for passing
// frames from a capture goroutine to a display goroutine.
//
// Semantics:
//   - Single-slot buffer (one pending value at most)
//   - Overwrite policy (new value replaces the unconsumed one)
//   - Non-blocking on both sides (TryDrain never waits)
//   - Drop tracking (overwritten, consecutive drops)
//
// The displaced value is returned to the publisher so its buffers can be
// recycled for the next conversion.
package handoff

import (
	"sync"
	"time"
)

// Stats is a snapshot of slot activity.
type Stats struct {
	Published        uint64
	Drained          uint64
	Overwritten      uint64
	ConsecutiveDrops uint64
	Pending          bool
	LastDrainedAt    time.Time
}

// Slot holds at most one pending value. The zero value is ready to use.
type Slot[T any] struct {
	mu      sync.Mutex
	pending *T

	published        uint64
	drained          uint64
	overwritten      uint64
	consecutiveDrops uint64
	lastDrainedAt    time.Time
}

// Publish stores v as the pending value. If an unconsumed value was
// pending, it is returned so the caller can reuse it.
func (s *Slot[T]) Publish(v *T) (displaced *T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		displaced = s.pending
		s.overwritten++
		s.consecutiveDrops++
	}
	s.pending = v
	s.published++
	return displaced
}

// TryDrain takes the pending value, if any.
func (s *Slot[T]) TryDrain() (*T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return nil, false
	}

	v := s.pending
	s.pending = nil
	s.drained++
	s.consecutiveDrops = 0
	s.lastDrainedAt = time.Now()
	return v, true
}

// Reset discards the pending value and returns it.
func (s *Slot[T]) Reset() *T {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.pending
	s.pending = nil
	return v
}

// Stats returns a snapshot of the counters.
func (s *Slot[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Published:        s.published,
		Drained:          s.drained,
		Overwritten:      s.overwritten,
		ConsecutiveDrops: s.consecutiveDrops,
		Pending:          s.pending != nil,
		LastDrainedAt:    s.lastDrainedAt,
	}
}
