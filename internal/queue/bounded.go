// Package queue provides a bounded FIFO for handing work to a single
// background consumer.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrFull   = errors.New("queue: full")
	ErrClosed = errors.New("queue: closed")
)

const defaultCapacity = 1024

// Bounded is a fixed-capacity FIFO. Offer never blocks. Items offered
// before Close are still handed out by Take until the queue is empty.
type Bounded[T any] struct {
	items     chan T
	done      chan struct{}
	closeOnce sync.Once

	offered  atomic.Uint64
	taken    atomic.Uint64
	rejected atomic.Uint64
}

// NewBounded returns a queue holding at most capacity items. A capacity
// below one selects the default of 1024.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = defaultCapacity
	}
	return &Bounded[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
	}
}

// Offer enqueues item, or returns ErrFull or ErrClosed without waiting.
func (q *Bounded[T]) Offer(item T) error {
	select {
	case <-q.done:
		q.rejected.Add(1)
		return ErrClosed
	default:
	}
	select {
	case q.items <- item:
		q.offered.Add(1)
		return nil
	default:
		q.rejected.Add(1)
		return ErrFull
	}
}

// Take waits for the next item. It returns ErrClosed once the queue is
// closed and empty, or ctx.Err() if ctx ends first.
func (q *Bounded[T]) Take(ctx context.Context) (T, error) {
	var zero T
	select {
	case it := <-q.items:
		q.taken.Add(1)
		return it, nil
	case <-q.done:
		select {
		case it := <-q.items:
			q.taken.Add(1)
			return it, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops new offers and wakes a waiting Take. Calling it again is safe.
func (q *Bounded[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *Bounded[T]) Len() int { return len(q.items) }
func (q *Bounded[T]) Cap() int { return cap(q.items) }

// Stats counts queue traffic.
type Stats struct {
	Offered  uint64
	Taken    uint64
	Rejected uint64
	Depth    int
}

func (q *Bounded[T]) Stats() Stats {
	return Stats{
		Offered:  q.offered.Load(),
		Taken:    q.taken.Load(),
		Rejected: q.rejected.Load(),
		Depth:    q.Len(),
	}
}
