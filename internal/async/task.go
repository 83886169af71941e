// Package async implements the coroutine bridge of spec.md §4.6
// (component H) in idiomatic Go: Task[T] is a goroutine-backed future
// bound to the queue passed to NewTask, and AsyncGenerator[T] is a
// goroutine-backed producer with no queue binding. A Task's resumption
// is modeled as posting a Continuable event back onto the owning queue,
// which the dispatch loop pops and resumes from its own goroutine.
package async

import (
	"context"

	"ichor/internal/event"
	"ichor/internal/ichorerr"
	"ichor/internal/service"
)

// Pusher is the subset of queue.Queue a Task needs to post its
// continuation back onto the owning loop.
type Pusher interface {
	PushEvent(evt event.Event)
}

// Task is a value-producing coroutine (spec.md §4.6 "Task<T>"). It
// records the (serviceId, priority) of the service under which it was
// created, and Await always posts the continuation to the Pusher given to
// NewTask. Which goroutine or queue calls Await is not checked.
type Task[T any] struct {
	owner    Pusher
	service  service.ID
	priority event.Priority

	done   chan struct{}
	result T
	err    error
}

// NewTask starts fn in its own goroutine, bound to owner/serviceID/
// priority. fn runs concurrently with the dispatch loop; its result is
// delivered by Await on the loop goroutine via a posted Continuable, or
// read directly with TryResult once fn has finished.
func NewTask[T any](owner Pusher, serviceID service.ID, priority event.Priority, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := &Task[T]{owner: owner, service: serviceID, priority: priority, done: make(chan struct{})}
	go func() {
		result, err := fn(context.Background())
		t.result = result
		t.err = err
		close(t.done)
	}()
	return t
}

// continuation adapts a channel-close signal into the dispatch loop's
// Continuation interface (package dispatch), so a suspended Await can
// resume from the owning loop's goroutine once fn has finished.
type continuation struct {
	resume func(ctx context.Context)
}

func (c *continuation) Resume(ctx context.Context) { c.resume(ctx) }

// Await suspends the calling handler until the task completes, then
// invokes onDone from the dispatch loop's own goroutine with the
// result. It does this by spawning a watcher goroutine that waits on
// t.done and, once closed, posts a Continuable carrying the resumption
// back onto owner. The watcher itself never touches Service/loop state;
// only the posted continuation, run by the loop, does.
func (t *Task[T]) Await(onDone func(ctx context.Context, result T, err error)) {
	go func() {
		<-t.done
		t.owner.PushEvent(event.New(
			0,
			event.TypeContinuable.AsType(),
			t.service,
			t.priority,
			&continuation{resume: func(ctx context.Context) { onDone(ctx, t.result, t.err) }},
		))
	}()
}

// TryResult returns the task's result without blocking, if it has
// already completed.
func (t *Task[T]) TryResult() (T, error, bool) {
	select {
	case <-t.done:
		return t.result, t.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// ErrQuitting re-exports ichorerr.ErrQuitting (spec.md §7,
// WaitError::QUITTING). Task does not produce it: Await always waits for
// fn to finish and passes fn's own error to onDone, even while the owning
// queue is quitting.
var ErrQuitting = ichorerr.ErrQuitting
