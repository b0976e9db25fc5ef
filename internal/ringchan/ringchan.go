// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import (
	"context"
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// It wraps an underlying buffered channel and ensures producers never block:
// if the buffer is full, the oldest element is discarded. Sends after Close
// are dropped instead of panicking, so producers running on foreign
// goroutines (transport callbacks) can outlive the consumer.
//
// # Example
//
//	rc := ringchan.New[[]byte](3)
//
//	// Writer: always succeeds, drops oldest if full.
//	for i := 0; i < 10; i++ {
//	    rc.Send([]byte{byte(i)})
//	}
//
//	// Reader: blocks until an item arrives, the channel closes, or ctx ends.
//	rc.Close()
//	for {
//	    v, ok := rc.Receive(ctx)
//	    if !ok {
//	        break
//	    }
//	    fmt.Println("got:", v)
//	}
//
// In the example above, only the *last 3* values will be printed because
// earlier ones were overwritten.
type RingChannel[T any] struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan T
	metrics Metrics // lock-free metrics tracking
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// Send inserts an item, discarding the oldest if the buffer is full.
// Reports false only when the channel is closed and the item was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	if rc.closed {
		rc.metrics.addError()
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.metrics.addWritten(1)
			return true
		default:
		}

		// Full: evict one and retry. A concurrent reader may have drained
		// the slot already, in which case the retry simply succeeds.
		select {
		case <-rc.ch:
			rc.metrics.addOverwritten(1)
		default:
		}
	}
}

// Receive blocks until a value is available, the channel is closed, or ctx is done.
// The ok result is false in the latter two cases.
func (rc *RingChannel[T]) Receive(ctx context.Context) (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.addProcessed(1)
		}
		return v, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. It is safe to call more than once.
// Buffered items remain readable.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// MarkError records a consumer-side failure (e.g. an item that could not be processed).
func (rc *RingChannel[T]) MarkError() {
	rc.metrics.addError()
}

// GetMetrics returns a snapshot of current metrics values.
// All reads are atomic and thread-safe.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&rc.metrics.Errors),
	}
}

// Metrics provides lock-free metrics tracking for RingChannel.
type Metrics struct {
	Processed   int64 `json:"processed"`
	Written     int64 `json:"written"`
	Overwritten int64 `json:"overwritten"`
	Errors      int64 `json:"errors"`
}

func (m *Metrics) addProcessed(n int) {
	atomic.AddInt64(&m.Processed, int64(n))
}

func (m *Metrics) addWritten(n int) {
	atomic.AddInt64(&m.Written, int64(n))
}

func (m *Metrics) addOverwritten(n int) {
	atomic.AddInt64(&m.Overwritten, int64(n))
}

func (m *Metrics) addError() {
	atomic.AddInt64(&m.Errors, 1)
}
