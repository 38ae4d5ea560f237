// Package eventbus fans notifications out to multiple subscribers without
// ever blocking the publisher.
//
// Each subscriber owns a queue drained by its own pump goroutine into the
// subscriber's channel. Events are classified on publish:
//   - Lossless events are queued in order (bounded by MaxQueue, oldest dropped)
//   - Coalesced events replace a queued event with the same key (latest wins)
//
// Per-subscriber ordering is preserved for everything that is delivered.
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrBusClosed          = errors.New("eventbus: bus is closed")
	ErrSubscriberExists   = errors.New("eventbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("eventbus: subscriber not found")
)

const (
	// MaxQueue bounds the per-subscriber backlog.
	MaxQueue = 1024

	chanBuffer = 16
)

// Classifier reports whether e may be coalesced, and under which key.
type Classifier[E any] func(e E) (key int, coalesce bool)

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Delivered uint64
	Coalesced uint64
	Dropped   uint64
}

type queued[E any] struct {
	ev       E
	key      int
	coalesce bool
}

type subscriber[E any] struct {
	id  string
	out chan E

	mu     sync.Mutex
	queue  []queued[E]
	notify chan struct{}
	done   chan struct{}

	delivered atomic.Uint64
	coalesced atomic.Uint64
	dropped   atomic.Uint64
}

// Bus distributes events of type E.
type Bus[E any] struct {
	classify Classifier[E]

	mu          sync.RWMutex
	subscribers map[string]*subscriber[E]
	closed      bool

	published atomic.Uint64
	wg        sync.WaitGroup
}

// New creates a bus. A nil classifier treats every event as lossless.
func New[E any](classify Classifier[E]) *Bus[E] {
	if classify == nil {
		classify = func(E) (int, bool) { return 0, false }
	}
	return &Bus[E]{
		classify:    classify,
		subscribers: make(map[string]*subscriber[E]),
	}
}

// Subscribe registers id and returns its event channel. The channel is
// closed on Unsubscribe or Close.
func (b *Bus[E]) Subscribe(id string) (<-chan E, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	sub := &subscriber[E]{
		id:     id,
		out:    make(chan E, chanBuffer),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.subscribers[id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.pump()
	}()

	return sub.out, nil
}

// Publish enqueues e for every subscriber. It never blocks on a slow reader.
func (b *Bus[E]) Publish(e E) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	key, coalesce := b.classify(e)
	for _, sub := range b.subscribers {
		sub.enqueue(queued[E]{ev: e, key: key, coalesce: coalesce})
	}
}

// Unsubscribe removes id and closes its channel.
func (b *Bus[E]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	close(sub.done)
	delete(b.subscribers, id)
	return nil
}

// Stats returns delivery statistics for id.
func (b *Bus[E]) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Delivered: sub.delivered.Load(),
		Coalesced: sub.coalesced.Load(),
		Dropped:   sub.dropped.Load(),
	}, nil
}

// Published returns the number of events accepted by Publish.
func (b *Bus[E]) Published() uint64 { return b.published.Load() }

// Close unsubscribes everyone and waits for the pumps to exit. Idempotent.
func (b *Bus[E]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.done)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (s *subscriber[E]) enqueue(q queued[E]) {
	s.mu.Lock()
	if q.coalesce {
		// The stale entry is removed and the new one queued at the tail, so
		// it cannot overtake events published before it.
		for i := range s.queue {
			if s.queue[i].coalesce && s.queue[i].key == q.key {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				s.coalesced.Add(1)
				break
			}
		}
	}
	if len(s.queue) >= MaxQueue {
		s.queue = s.queue[1:]
		s.dropped.Add(1)
	}
	s.queue = append(s.queue, q)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber[E]) pop() (queued[E], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return queued[E]{}, false
	}
	q := s.queue[0]
	s.queue = s.queue[1:]
	return q, true
}

// pump moves queued events into out until done is closed, then closes out.
func (s *subscriber[E]) pump() {
	defer close(s.out)

	for {
		q, ok := s.pop()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- q.ev:
			s.delivered.Add(1)
		case <-s.done:
			return
		}
	}
}
