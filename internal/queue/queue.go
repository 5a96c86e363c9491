// Package queue provides the bounded blocking queue that moves provider
// events from the background producer into the foreground consumer. It is
// the only structure in the core that is shared between execution contexts.
package queue

import "sync/atomic"

// Queue is a fixed-capacity multi-producer/multi-consumer FIFO queue.
//
// Push blocks while the queue is full; Pop blocks while it is empty;
// TryPop never blocks. Overflow is impossible by construction. Items from a
// single producer are observed in push order; the interleaving across
// concurrent producers is whatever the runtime serializes.
//
// There is no cancellation on Push: a blocked producer is released only by a
// consumer popping. Shutdown is a cooperative protocol, the producer stops
// pushing (provider Stop guarantees this), the consumer drains remaining
// items and then calls Close to release any blocked Pop.
type Queue[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a Queue with the given capacity. Panics if capacity <= 0.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic("queue: capacity must be > 0")
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Push inserts an item, blocking while the queue is full.
// Push after Close panics.
func (q *Queue[T]) Push(v T) {
	q.ch <- v
	q.metrics.addPushed(1)
}

// TryPush attempts to insert without blocking.
// Returns false if the queue is full.
func (q *Queue[T]) TryPush(v T) bool {
	select {
	case q.ch <- v:
		q.metrics.addPushed(1)
		return true
	default:
		return false
	}
}

// Pop removes and returns the head item, blocking while the queue is empty.
// The ok result is false once the queue is closed and drained.
func (q *Queue[T]) Pop() (v T, ok bool) {
	v, ok = <-q.ch
	if ok {
		q.metrics.addPopped(1)
	}
	return
}

// TryPop attempts a non-blocking pop.
// Returns (zero, false) when no item is ready.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	select {
	case v, ok = <-q.ch:
		if ok {
			q.metrics.addPopped(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Close marks the queue as finished. Blocked and subsequent Pops drain the
// remaining items and then report ok == false. After Close, Push panics;
// the provider contract rules this out by forbidding pushes after Stop.
func (q *Queue[T]) Close() {
	close(q.ch)
}

// Metrics returns a snapshot of the queue counters.
// All reads are atomic and thread-safe.
func (q *Queue[T]) Metrics() Metrics {
	return Metrics{
		Pushed: atomic.LoadInt64(&q.metrics.Pushed),
		Popped: atomic.LoadInt64(&q.metrics.Popped),
	}
}

// Metrics provides lock-free counters for a Queue.
type Metrics struct {
	Pushed int64
	Popped int64
}

func (m *Metrics) addPushed(n int) {
	atomic.AddInt64(&m.Pushed, int64(n))
}

func (m *Metrics) addPopped(n int) {
	atomic.AddInt64(&m.Popped, int64(n))
}
