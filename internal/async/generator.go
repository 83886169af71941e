package async

import (
	"context"
	"sync/atomic"
)

// genState mirrors the four-state producer/consumer handshake of
// spec.md §4.6: Value-Not-Ready/Consumer-Awaiting,
// Value-Not-Ready/Consumer-Suspended, Value-Ready/Producer-Awaiting,
// Value-Ready/Producer-Suspended, plus Cancelled. Go's channels make the
// handshake implicit in a send/receive pair; genState exists only so
// Cancel and the producer's cooperative check can agree on terminal
// state without a data race.
type genState int32

const (
	genRunning genState = iota
	genCancelled
)

// AsyncGenerator is a yield-producing coroutine (spec.md §4.6
// "AsyncGenerator<T>"). Each call to Yield from the producer's goroutine
// blocks until the consumer calls Next, implementing the VRPA/VNRCA
// handshake as a rendezvous over an unbuffered channel.
type AsyncGenerator[T any] struct {
	values chan T
	done   chan struct{}
	cancel chan struct{}
	state  atomic.Int32
}

// Producer is the function signature a caller of NewAsyncGenerator
// supplies: it runs in its own goroutine and calls yield to hand values
// back to the consumer, checking Cancelled() at each suspend point as
// spec.md §5 requires ("producers check this at each suspend point and
// return early").
type Producer[T any] func(ctx context.Context, yield func(T) bool)

// NewAsyncGenerator starts producer in its own goroutine and returns the
// consumer-facing handle.
func NewAsyncGenerator[T any](ctx context.Context, producer Producer[T]) *AsyncGenerator[T] {
	g := &AsyncGenerator[T]{
		values: make(chan T),
		done:   make(chan struct{}),
		cancel: make(chan struct{}),
	}
	go func() {
		defer close(g.done)
		producer(ctx, func(v T) bool {
			if genState(g.state.Load()) == genCancelled {
				return false
			}
			select {
			case g.values <- v:
				return genState(g.state.Load()) != genCancelled
			case <-g.cancel:
				return false
			case <-ctx.Done():
				return false
			}
		})
	}()
	return g
}

// Next blocks until the producer yields a value, the producer finishes,
// or ctx is cancelled. ok is false once the generator is exhausted or
// cancelled.
func (g *AsyncGenerator[T]) Next(ctx context.Context) (value T, ok bool) {
	select {
	case v, open := <-g.values:
		if !open {
			return value, false
		}
		return v, true
	case <-g.done:
		return value, false
	case <-ctx.Done():
		return value, false
	}
}

// RequestCancellation transitions the generator into CANCELLED; the
// producer observes this at its next suspend point and returns early,
// releasing any held resources synchronously before it exits (spec.md
// §5).
func (g *AsyncGenerator[T]) RequestCancellation() {
	if genState(g.state.Swap(int32(genCancelled))) != genCancelled {
		close(g.cancel)
	}
}

// Cancelled reports whether RequestCancellation has been called. The
// producer function is expected to check this itself for resources
// Yield's return value does not cover (e.g. before starting new work).
func (g *AsyncGenerator[T]) Cancelled() bool {
	return genState(g.state.Load()) == genCancelled
}

// Done returns a channel closed once the producer goroutine has
// returned, for callers that want to select on generator completion
// without calling Next again.
func (g *AsyncGenerator[T]) Done() <-chan struct{} {
	return g.done
}
