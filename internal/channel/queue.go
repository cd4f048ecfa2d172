package channel

import (
	"sync"
	"sync/atomic"
)

// Stats counts messages moved through a queue since creation.
type Stats struct {
	Sent    int64
	Dropped int64
}

// Queue is a bounded FIFO handoff between a single producer and a single
// consumer. When the buffer is full the oldest message is dropped to make
// room, so the producer never blocks and the consumer always sees the most
// recent window of the stream in delivery order.
type Queue[T any] struct {
	ch      chan T
	sent    atomic.Int64
	dropped atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
}

func NewQueue[T any](size int) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	return &Queue[T]{ch: make(chan T, size)}
}

// Send enqueues msg, evicting the oldest buffered message when full. The
// return value reports whether an eviction happened.
func (q *Queue[T]) Send(msg T) bool {
	if q.closed.Load() {
		return false
	}

	select {
	case q.ch <- msg:
		q.sent.Add(1)
		return false
	default:
	}

	// Single producer: nobody else can fill the slot we free up.
	select {
	case <-q.ch:
		q.dropped.Add(1)
	default:
	}

	select {
	case q.ch <- msg:
		q.sent.Add(1)
	default:
		q.dropped.Add(1)
	}
	return true
}

// C is the consumer side of the queue.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Close ends the queue; the consumer drains remaining messages and observes
// channel close. Only the producer side may call Close, after its final Send.
// Safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.ch)
	})
}

func (q *Queue[T]) Stats() Stats {
	return Stats{
		Sent:    q.sent.Load(),
		Dropped: q.dropped.Load(),
	}
}
