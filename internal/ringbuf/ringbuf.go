// Package ringbuf provides a fixed-capacity, newest-first ring buffer.
// Pushing onto a full ring overwrites the oldest slot in O(1); nothing is
// ever deleted explicitly. It is not safe for concurrent use: each ring is
// owned by a single estimator driven by a single caller.
package ringbuf

// Ring holds up to Cap() values. Index 0 is the most recent push.
type Ring[T any] struct {
	buf   []T
	front int // slot of the newest value
	count int // populated slots, capped at len(buf)

	// Overwrite counter (for metrics)
	evicted uint64
}

// New creates a ring with exactly capacity slots. capacity must be positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// PushFront rotates the front index backward and stores v there. On a full
// ring this overwrites the oldest value.
func (r *Ring[T]) PushFront(v T) {
	n := len(r.buf)
	r.front = (r.front + n - 1) % n
	if r.count < n {
		r.count++
	} else {
		r.evicted++
	}
	r.buf[r.front] = v
}

// Front returns a pointer to the newest value so callers can update it in place.
// Returns nil on an empty ring.
func (r *Ring[T]) Front() *T {
	if r.count == 0 {
		return nil
	}
	return &r.buf[r.front]
}

// At returns the i-th newest value: 0 is the front, Len()-1 the oldest.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.count {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.front+i)%len(r.buf)]
}

// Len returns the number of populated slots.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Full reports whether every slot is populated.
func (r *Ring[T]) Full() bool { return r.count == len(r.buf) }

// Evicted returns the total number of values overwritten by PushFront.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }

// Snapshot copies the populated values oldest-first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.At(r.count - 1 - i)
	}
	return out
}
