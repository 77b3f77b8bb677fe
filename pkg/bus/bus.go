/*
Package bus broadcasts one job's metric stream to any number of subscribers.

Publishing never blocks: every subscriber owns a bounded ring buffer, and when a
slow subscriber's buffer is full its oldest undelivered item is dropped. Items are
delivered to each subscriber in publish order, and all subscribers observe the
same order. Closing the topic ends every subscription once it is drained.
*/
package bus

import (
	"context"
	"iter"
	"sync"
)

// DefaultBufferSize is the per-subscriber capacity used when none is given.
const DefaultBufferSize = 64

// Topic is a single-producer broadcast channel.
type Topic[T any] struct {
	mu     sync.Mutex
	size   int
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// New creates a topic whose subscribers buffer up to size items.
func New[T any](size int) *Topic[T] {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Topic[T]{size: size, subs: make(map[*Subscription[T]]struct{})}
}

// Publish delivers v to every subscriber and returns how many items were dropped to make room.
// Publishing to a closed topic is a no-op.
func (t *Topic[T]) Publish(v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}
	dropped := 0
	for s := range t.subs {
		if s.push(v) {
			dropped++
		}
	}
	return dropped
}

// Subscribe registers a new subscriber. Subscribing to a closed topic yields a closed subscription.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		buf:    make([]T, t.size),
		notify: make(chan struct{}, 1),
		topic:  t,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		s.close()
		return s
	}
	t.subs[s] = struct{}{}
	return s
}

// Close ends the topic. Subscribers may still drain what they buffered.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for s := range t.subs {
		s.close()
	}
	clear(t.subs)
}

// Closed reports whether Close was called.
func (t *Topic[T]) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Subscribers returns the number of live subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *Topic[T]) remove(s *Subscription[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, s)
}

// Subscription is one consumer's view of a topic.
type Subscription[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	n       int
	dropped uint64
	closed  bool
	notify  chan struct{}
	topic   *Topic[T]
}

// push appends v, overwriting the oldest item when full. Reports whether an item was dropped.
func (s *Subscription[T]) push(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	dropped := false
	if s.n == len(s.buf) {
		s.head = (s.head + 1) % len(s.buf)
		s.n--
		s.dropped++
		dropped = true
	}
	s.buf[(s.head+s.n)%len(s.buf)] = v
	s.n++
	s.signal()
	return dropped
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.signal()
}

func (s *Subscription[T]) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an item is available, the subscription is closed and drained, or ctx is done.
// ok is false once no more items will arrive.
func (s *Subscription[T]) Next(ctx context.Context) (v T, ok bool, err error) {
	for {
		s.mu.Lock()
		if s.n > 0 {
			v = s.buf[s.head]
			var zero T
			s.buf[s.head] = zero
			s.head = (s.head + 1) % len(s.buf)
			s.n--
			s.mu.Unlock()
			return v, true, nil
		}
		if s.closed {
			s.mu.Unlock()
			return v, false, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return v, false, ctx.Err()
		}
	}
}

// All yields items lazily until the subscription ends or ctx is done.
func (s *Subscription[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok, err := s.Next(ctx)
			if err != nil || !ok {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Dropped returns how many items this subscriber lost to overflow.
func (s *Subscription[T]) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscriber from its topic and discards anything buffered.
func (s *Subscription[T]) Close() {
	s.topic.remove(s)
	s.mu.Lock()
	s.closed = true
	s.n = 0
	s.mu.Unlock()
	s.signal()
}
