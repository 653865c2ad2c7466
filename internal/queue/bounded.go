// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package queue holds the two hand-off primitives shared between pipeline
// stages: a drop-oldest bounded FIFO and a last-write-wins slot.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Bounded is a fixed-capacity FIFO. Pushing onto a full queue evicts the
// oldest entry instead of blocking the producer.
//
// All methods are safe for concurrent use.
type Bounded[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int // index of oldest entry
	count int

	// notify carries at most one pending wake-up for blocked Pop callers.
	notify chan struct{}

	dropped atomic.Uint64
}

// NewBounded returns a queue holding at most capacity items.
// A capacity below 1 is treated as 1.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends v. It reports true when an older entry was evicted to make room.
func (q *Bounded[T]) Push(v T) (evicted bool) {
	q.mu.Lock()
	capacity := len(q.buf)
	if q.count == capacity {
		// overwrite the oldest slot and advance head
		q.buf[q.head] = v
		q.head = (q.head + 1) % capacity
		evicted = true
	} else {
		q.buf[(q.head+q.count)%capacity] = v
		q.count++
	}
	q.mu.Unlock()

	if evicted {
		q.dropped.Add(1)
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

// TryPop removes and returns the oldest entry without waiting.
func (q *Bounded[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Bounded[T]) popLocked() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return v, true
}

// Pop waits up to timeout for an entry. It returns false on timeout or when
// ctx is done.
func (q *Bounded[T]) Pop(ctx context.Context, timeout time.Duration) (T, bool) {
	if v, ok := q.TryPop(); ok {
		return v, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-timer.C:
			return q.TryPop()
		case <-q.notify:
			if v, ok := q.TryPop(); ok {
				return v, true
			}
		}
	}
}

// Drain removes and returns every queued entry, oldest first.
func (q *Bounded[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	out := make([]T, 0, q.count)
	for {
		v, ok := q.popLocked()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Len returns the number of queued entries.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the configured capacity.
func (q *Bounded[T]) Cap() int {
	return len(q.buf)
}

// Dropped returns how many entries have been evicted since creation.
func (q *Bounded[T]) Dropped() uint64 {
	return q.dropped.Load()
}
