// Package connfactory implements the RecoverableError collaborator of
// spec.md §7: a connection factory that retries a dial operation with
// circuit-breaker governed backoff, surfacing each failure as an event
// rather than swallowing it. This is the out-of-core collaborator the
// spec describes as handling "transient I/O, retries."
package connfactory

import (
	"context"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"ichor/internal/event"
	"ichor/internal/ichorerr"
	"ichor/internal/service"
)

// Dialer produces a connection of type T, e.g. *nats.Conn or *websocket.Conn.
type Dialer[T any] func(ctx context.Context) (T, error)

// Config governs the circuit breaker wrapping a Factory's dial attempts.
type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultConfig returns production-ready defaults matching the values
// used throughout this codebase's circuit breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// Pusher is the subset of a runtime instance's queue a Factory needs to
// surface RecoverableError events for observability.
type Pusher interface {
	Push(typ event.Type, origin service.ID, priority event.Priority, payload any) event.ID
}

// Factory wraps a Dialer[T] with a gobreaker circuit breaker: repeated
// dial failures open the circuit, and every failure (whether the
// circuit is open or the dial itself failed) is pushed as a
// RecoverableError event rather than silently retried forever.
type Factory[T any] struct {
	dial    Dialer[T]
	breaker *gobreaker.CircuitBreaker[T]
	push    Pusher
	owner   service.ID
}

// NewFactory constructs a Factory governed by cfg, attributing pushed
// RecoverableError events to owner.
func NewFactory[T any](dial Dialer[T], cfg Config, push Pusher, owner service.ID) *Factory[T] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Factory[T]{
		dial:    dial,
		breaker: gobreaker.NewCircuitBreaker[T](settings),
		push:    push,
		owner:   owner,
	}
}

// Dial attempts a connection through the circuit breaker. On failure it
// pushes a RecoverableError event (spec.md §7) and returns the wrapped
// error to the caller, which decides whether/when to retry.
func (f *Factory[T]) Dial(ctx context.Context) (T, error) {
	conn, err := f.breaker.Execute(func() (T, error) {
		return f.dial(ctx)
	})
	if err != nil {
		recErr := &ichorerr.RecoverableError{Source: f.breaker.Name(), Err: err}
		if f.push != nil {
			f.push.Push(event.TypeRecoverableError.AsType(), f.owner, event.PriorityEvent, recErr)
		}
		return conn, recErr
	}
	return conn, nil
}

// State reports the breaker's current state, for diagnostics.
func (f *Factory[T]) State() string {
	return f.breaker.State().String()
}

// RetryLoop calls Dial repeatedly with a fixed backoff between attempts
// until it succeeds or ctx is done, returning the first successful
// connection. Intended for a service's Start to obtain its collaborator
// connection without blocking the dispatch loop thread: callers should
// run RetryLoop from inside an async.Task, not from Start directly.
func (f *Factory[T]) RetryLoop(ctx context.Context, backoff time.Duration) (T, error) {
	var zero T
	for {
		conn, err := f.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("connfactory retry loop cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
}
