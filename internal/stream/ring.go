// Package stream carries decoded events from the driver's event loop to
// slower consumers (terminal, pipes) without ever blocking the loop.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Ring is a bounded channel with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded and OnDrop, if set, is called with it. Consumers read from C()
// like any channel, or use Drain.
//
//	r := stream.NewRing[protocol.Event](256)
//	r.Push(ev)            // never blocks
//	for ev := range r.C() {
//	    render(ev)
//	}
type Ring[T any] struct {
	ch     chan T
	mu     sync.Mutex // serializes producers so drop-then-send is atomic
	closed bool
	stats  Stats

	// OnDrop is called from Push with each overwritten element.
	OnDrop func(T)
}

// Stats counts traffic through a Ring. Fields are read atomically by Stats().
type Stats struct {
	Pushed      int64
	Overwritten int64
	Delivered   int64
}

// NewRing creates a Ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("stream: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Reads through C are not counted as Delivered.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Push inserts v, discarding the oldest element if the buffer is full.
// It reports whether something was discarded. Push after Close is a no-op.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	dropped := false
	for {
		select {
		case r.ch <- v:
			atomic.AddInt64(&r.stats.Pushed, 1)
			return dropped
		default:
		}
		select {
		case old := <-r.ch:
			atomic.AddInt64(&r.stats.Overwritten, 1)
			dropped = true
			if r.OnDrop != nil {
				r.OnDrop(old)
			}
		default:
		}
	}
}

// Drain calls fn for every element until the Ring is closed and empty or
// ctx is done.
func (r *Ring[T]) Drain(ctx context.Context, fn func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-r.ch:
			if !ok {
				return
			}
			atomic.AddInt64(&r.stats.Delivered, 1)
			fn(v)
		}
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close stops accepting elements. Buffered elements can still be drained.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}

// Stats returns a snapshot of the counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Pushed:      atomic.LoadInt64(&r.stats.Pushed),
		Overwritten: atomic.LoadInt64(&r.stats.Overwritten),
		Delivered:   atomic.LoadInt64(&r.stats.Delivered),
	}
}
