// Package ring implements a fixed-capacity, lock-free single-producer/
// single-consumer queue.
//
// A Ring[T] is safe for exactly one goroutine calling TryPush and exactly
// one (possibly different) goroutine calling TryPop concurrently. It is
// not safe for two producers or two consumers to operate concurrently:
// there is no synchronization between writers, or between readers, only
// between the one writer and the one reader.
//
// # Design
//
// The buffer is a plain slice of capacity C (rounded up internally so one
// slot is always reserved as an "empty vs. full" sentinel: the queue is
// full when (head+1) mod C == tail). head is written only by the
// producer and read by both; tail is written only by the consumer and
// read by both. Both are atomic.Uint64 counters taken modulo C on access,
// which gives the producer's slot write a happens-before relationship
// with the consumer's slot read purely through Go's memory model
// guarantees for atomic loads/stores — no mutex is needed on the hot
// path.
package ring

import "sync/atomic"

// Ring is a fixed-capacity SPSC queue of T.
type Ring[T any] struct {
	buf  []T
	cap  uint64 // power of two
	mask uint64
	head atomic.Uint64 // next slot the producer will write
	tail atomic.Uint64 // next slot the consumer will read
}

// New constructs a Ring with room for at least capacity items. The actual
// capacity is rounded up to the next power of two (a minimum of 2, since
// one slot is always reserved).
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	c := nextPowerOfTwo(uint64(capacity) + 1)
	return &Ring[T]{
		buf:  make([]T, c),
		cap:  c,
		mask: c - 1,
	}
}

func nextPowerOfTwo(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// TryPush attempts to enqueue value without blocking. It returns false if
// the ring is currently full; the caller (the pipeline's reader) is
// responsible for backing off and retrying.
func (r *Ring[T]) TryPush(value T) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if (head+1)&r.mask == tail&r.mask {
		return false // full: one slot is always kept empty
	}

	r.buf[head&r.mask] = value
	r.head.Store(head + 1)
	return true
}

// TryPop attempts to dequeue one value without blocking. ok is false if
// the ring is currently empty.
func (r *Ring[T]) TryPop() (value T, ok bool) {
	tail := r.tail.Load()
	head := r.head.Load()

	if tail == head {
		var zero T
		return zero, false // empty
	}

	value = r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return value, true
}

// Len returns a snapshot of the number of items currently queued. Since
// head and tail can move concurrently with this read, the result is
// advisory (used for diagnostics/stats), not a synchronization point.
func (r *Ring[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	return int(head - tail)
}

// Cap returns the usable capacity (one less than the allocated buffer,
// since one slot is always reserved).
func (r *Ring[T]) Cap() int {
	return int(r.cap - 1)
}
