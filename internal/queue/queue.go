// Package queue implements the priority event queue of spec.md §4.4
// (component F): a binary heap keyed by (priority, insertion sequence),
// thread-affine push/pop with a wake condition variable, and a bounded
// spinlock window before the consuming (Pop) goroutine parks.
package queue

import (
	"container/heap"
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ichor/internal/config"
	"ichor/internal/event"
	"ichor/internal/service"
)

// item is one heap entry: the event plus the insertion sequence used to
// break priority ties in FIFO order (spec.md §3 "ties in (priority, id)
// preserve FIFO").
type item struct {
	evt event.Event
	seq uint64
}

// heapSlice is a container/heap.Interface over []*item ordered by
// (priority, seq) ascending, since spec.md defines priority as
// "smaller = sooner."
type heapSlice []*item

func (h heapSlice) Len() int { return len(h) }
func (h heapSlice) Less(i, j int) bool {
	if h[i].evt.Priority != h[j].evt.Priority {
		return h[i].evt.Priority < h[j].evt.Priority
	}
	return h[i].seq < h[j].seq
}
func (h heapSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *heapSlice) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the thread-affine priority event queue. Exactly one goroutine
// (the dispatch loop) is expected to call Pop; Push may be called from
// any goroutine.
type Queue struct {
	cfg config.QueueConfig
	log zerolog.Logger

	mu         sync.Mutex
	h          heapSlice
	nextSeq    uint64
	nextID     atomic.Uint64
	processing bool
	quitting   atomic.Bool

	wake chan struct{} // buffered(1); a send is the condvar-signal equivalent

	sigCh   chan os.Signal
	sigSeen atomic.Bool

	// spin paces the busy-poll iterations of the spinlock window so a
	// long SpinlockWindow can't turn into an unbounded hot loop on an
	// idle queue.
	spin *rate.Limiter
}

// New constructs an empty Queue governed by cfg.
func New(cfg config.QueueConfig, log zerolog.Logger) *Queue {
	q := &Queue{
		cfg:  cfg,
		log:  log.With().Str("component", "queue").Logger(),
		wake: make(chan struct{}, 1),
		spin: rate.NewLimiter(rate.Every(100*time.Microsecond), 1),
	}
	heap.Init(&q.h)
	return q
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Push places a new event built from the given fields and signals the
// wake channel, returning the assigned event id (spec.md §4.4 "push
// places the event and signals the wake condition"). Push never blocks.
func (q *Queue) Push(typ event.Type, origin service.ID, priority event.Priority, payload any) event.ID {
	id := event.ID(q.nextID.Add(1))
	evt := event.New(id, typ, origin, priority, payload)

	q.mu.Lock()
	heap.Push(&q.h, &item{evt: evt, seq: q.nextSeq})
	q.nextSeq++
	q.mu.Unlock()
	q.signal()
	return id
}

// PushEvent is the raw variant used when the caller already holds a
// fully formed event.Event (e.g. a Continuable carrying a coroutine
// handle).
func (q *Queue) PushEvent(evt event.Event) {
	q.mu.Lock()
	evt.ID = event.ID(q.nextID.Add(1))
	heap.Push(&q.h, &item{evt: evt, seq: q.nextSeq})
	q.nextSeq++
	q.mu.Unlock()
	q.signal()
}

// Pop blocks, using the spinlock-window-then-sleep discipline of
// spec.md §4.4, until an event is available, a wake signal arrives,
// MaxSleep elapses, or ctx is done. It returns ok=false when it wakes
// without an event, so the caller can re-check quit/SIGINT state. It
// marks a returned event as "processing" so Empty/Size observe it as
// non-idle until MarkIdle is called.
func (q *Queue) Pop(ctx context.Context) (event.Event, bool) {
	if it, ok := q.tryPop(); ok {
		return it, true
	}

	deadline := time.Now().Add(q.cfg.SpinlockWindow)
	for time.Now().Before(deadline) {
		if it, ok := q.tryPop(); ok {
			return it, true
		}
		if err := q.spin.Wait(ctx); err != nil {
			return event.Event{}, false
		}
	}

	select {
	case <-q.wake:
	case <-time.After(q.cfg.MaxSleep):
	case <-ctx.Done():
		return event.Event{}, false
	}
	return q.tryPop()
}

func (q *Queue) tryPop() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return event.Event{}, false
	}
	it := heap.Pop(&q.h).(*item)
	q.processing = true
	return it.evt, true
}

// MarkIdle clears the processing flag once the dispatch loop has
// finished handling the event Pop returned.
func (q *Queue) MarkIdle() {
	q.mu.Lock()
	q.processing = false
	q.mu.Unlock()
}

// Empty reports whether the queue is idle: no pending events and no
// event currently being processed (spec.md §3 "processing flag is
// observable to empty()/size() callers").
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len() == 0 && !q.processing
}

// Size returns the pending event count plus one if an event is
// currently being processed.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.h.Len()
	if q.processing {
		n++
	}
	return n
}

// Quitting reports whether Quit has been called.
func (q *Queue) Quitting() bool { return q.quitting.Load() }

// Quit marks the queue as quitting (spec.md §4.4). The dispatch loop
// observes this to begin its drain cascade; it does not itself stop
// accepting pushes, since in-flight StopService/RemoveService events
// must still be enqueued during the drain.
func (q *Queue) Quit() {
	q.quitting.Store(true)
	q.signal()
}

// InstallSigIntHandler arms an os/signal channel that sets a
// process-observable "SIGINT seen" flag, consulted by the dispatch loop
// per spec.md §4.5 step 1. It is only installed when captureSigInt is
// configured true.
func (q *Queue) InstallSigIntHandler() {
	if !q.cfg.CaptureSigInt {
		return
	}
	q.sigCh = make(chan os.Signal, 1)
	signal.Notify(q.sigCh, os.Interrupt)
	go func() {
		<-q.sigCh
		q.sigSeen.Store(true)
		q.signal()
	}()
}

// SigIntSeen reports whether SIGINT has been observed and not yet
// consumed by ConsumeSigInt.
func (q *Queue) SigIntSeen() bool { return q.sigSeen.Load() }

// ConsumeSigInt clears the seen flag once the dispatch loop has enqueued
// the resulting Quit event (spec.md §4.5 step 1, "no Quit event has yet
// been emitted").
func (q *Queue) ConsumeSigInt() { q.sigSeen.Store(false) }

// StopSigIntHandler releases the os/signal registration; used during an
// orderly queue teardown so a later Queue instance in the same process
// does not race this one's channel.
func (q *Queue) StopSigIntHandler() {
	if q.sigCh != nil {
		signal.Stop(q.sigCh)
	}
}
