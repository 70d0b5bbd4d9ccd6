// Package buffer provides the fixed-capacity pre-trigger sample window.
package buffer

import "github.com/twinspect/twinspect/internal/sample"

// Ring is a fixed-capacity circular buffer holding the most recent samples.
// It is owned exclusively by the detector goroutine and is not safe for
// concurrent use.
type Ring struct {
	buf   []sample.Sample
	head  int // index of the next write
	count int
}

// NewRing creates a ring holding at most capacity samples. Capacity is
// fixed for the lifetime of the ring.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]sample.Sample, capacity)}
}

// Push appends a sample, overwriting the oldest entry when full.
func (r *Ring) Push(s sample.Sample) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Len returns the number of samples currently held.
func (r *Ring) Len() int { return r.count }

// Cap returns the fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Snapshot returns an independent copy of the held samples in chronological
// order, oldest first. During warm-up the slice is shorter than the
// capacity. Later pushes do not affect a returned snapshot.
func (r *Ring) Snapshot() []sample.Sample {
	out := make([]sample.Sample, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Reset discards all held samples. Called when a closed event has consumed
// the window, so the next event does not duplicate pre-trigger context.
func (r *Ring) Reset() {
	r.head = 0
	r.count = 0
}
