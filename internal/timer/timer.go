// Package timer implements the timer subsystem of spec.md §4.7
// (component I): per-requester TimerFactory instances manufactured by a
// single TimerFactoryFactory registered as a resolver tracker, and the
// Timer state machine itself (STOPPED/STARTING/RUNNING/STOPPING).
package timer

import (
	"sync"
	"time"

	"ichor/internal/event"
	"ichor/internal/service"
)

// State is a Timer's position in the STOPPED/STARTING/RUNNING/STOPPING
// state machine.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

// Pusher is the subset of the owning queue a Timer needs to post its
// periodic RunFunction event.
type Pusher interface {
	Push(typ event.Type, origin service.ID, priority event.Priority, payload any) event.ID
}

// Callback is either the synchronous or async-generator-producing
// function a Timer fires. Nothing enforces that only one of Sync/Async
// is set; fire uses Sync when it is non-nil and Async otherwise. A
// Timer has no setter for its callback (spec.md §4.7 "changing the
// callback is not [allowed]").
type Callback struct {
	Sync  func()
	Async func() // wraps an async generator/task; present for symmetry with the spec's two callback shapes
}

// Timer is one ticking timer owned by a TimerFactory.
type Timer struct {
	mu sync.Mutex

	push     Pusher
	owner    service.ID
	priority event.Priority
	interval time.Duration
	fireOnce bool
	cb       Callback
	minInterval time.Duration

	state     State
	stopCh    chan struct{}
	quitCbs   []func()
	ticksSeen int
}

// newTimer constructs a Timer in the STOPPED state; it does not start
// ticking until Start is called.
func newTimer(push Pusher, owner service.ID, priority event.Priority, interval time.Duration, fireOnce bool, cb Callback, minInterval time.Duration) *Timer {
	if interval < minInterval {
		interval = minInterval
	}
	return &Timer{
		push:        push,
		owner:       owner,
		priority:    priority,
		interval:    interval,
		fireOnce:    fireOnce,
		cb:          cb,
		minInterval: minInterval,
	}
}

// State returns the timer's current state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start transitions STOPPED -> RUNNING and begins the ticking goroutine
// (the "portable strategy" of spec.md §4.7; a single goroutine per
// timer sleeping for the interval is the idiomatic Go analogue of a
// per-timer helper thread).
func (t *Timer) Start() bool {
	t.mu.Lock()
	if t.state != Stopped {
		t.mu.Unlock()
		return false
	}
	t.state = Starting
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh
	t.state = Running
	t.mu.Unlock()

	go t.run(stopCh)
	return true
}

func (t *Timer) run(stopCh chan struct{}) {
	t.mu.Lock()
	current := t.interval
	t.mu.Unlock()
	ticker := time.NewTicker(current)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			if t.state != Running {
				t.mu.Unlock()
				return
			}
			t.ticksSeen++
			once := t.fireOnce
			next := t.interval
			t.mu.Unlock()

			if next != current {
				current = next
				ticker.Reset(current)
			}

			t.fire()

			if once {
				t.mu.Lock()
				t.state = Stopping
				t.mu.Unlock()
				t.finish()
				return
			}
		case <-stopCh:
			t.finish()
			return
		}
	}
}

// fire pushes the timer's RunFunction event at its stored priority and
// owner, or invokes the callback directly when no queue is bound (used
// by tests and by the async-generator callback form).
func (t *Timer) fire() {
	t.mu.Lock()
	cb := t.cb
	push := t.push
	owner := t.owner
	priority := t.priority
	t.mu.Unlock()

	if push == nil {
		if cb.Sync != nil {
			cb.Sync()
		} else if cb.Async != nil {
			cb.Async()
		}
		return
	}

	payload := cb.Sync
	if payload == nil {
		payload = cb.Async
	}
	push.Push(event.TypeRunFunction.AsType(), owner, priority, func() { payload() })
}

// SetInterval changes the tick period; a RUNNING timer picks up the new
// period after its next tick. Allowed at any state except while STOPPING (spec.md §4.7 "changing interval ... while
// RUNNING is allowed").
func (t *Timer) SetInterval(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Stopping {
		return false
	}
	if d < t.minInterval {
		d = t.minInterval
	}
	t.interval = d
	return true
}

// SetPriority changes the priority newly pushed RunFunction events carry.
func (t *Timer) SetPriority(p event.Priority) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Stopping {
		return false
	}
	t.priority = p
	return true
}

// Stop records cb, transitions to STOPPING, and signals the ticking
// goroutine to terminate at its next cancellation point. Repeated Stop
// of an already-STOPPED timer returns false without changing state
// (spec.md §8 property 5).
func (t *Timer) Stop(cb func()) bool {
	t.mu.Lock()
	if t.state == Stopped {
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
		return false
	}
	if cb != nil {
		t.quitCbs = append(t.quitCbs, cb)
	}
	alreadyStopping := t.state == Stopping
	t.state = Stopping
	stopCh := t.stopCh
	t.mu.Unlock()

	if !alreadyStopping && stopCh != nil {
		close(stopCh)
	}
	return true
}

// finish dispatches the recorded quit callbacks on the owning queue
// (spec.md §4.7 "quit callbacks are dispatched on the owning queue") and
// transitions to STOPPED.
func (t *Timer) finish() {
	t.mu.Lock()
	cbs := t.quitCbs
	t.quitCbs = nil
	push := t.push
	owner := t.owner
	priority := t.priority
	t.state = Stopped
	t.mu.Unlock()

	for _, cb := range cbs {
		cb := cb
		if push != nil {
			push.Push(event.TypeRunFunction.AsType(), owner, priority, func() { cb() })
		} else {
			cb()
		}
	}
}

// Interval returns the timer's currently configured tick period.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}
