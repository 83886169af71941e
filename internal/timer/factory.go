package timer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ichor/internal/config"
	"ichor/internal/event"
	"ichor/internal/service"
)

// Interface is the type a service declares a dependency on to receive a
// per-requester TimerFactory (spec.md §4.7). It is the dependency-facing
// contract; TimerFactory is the concrete type injected for it.
type Interface interface {
	NewTimer(interval time.Duration, priority event.Priority, fireOnce bool, cb Callback) *Timer
}

// TimerFactory owns the vector of Timer objects created by one
// requester. It is manufactured fresh, per requester, by
// TimerFactoryFactory the first time that requester declares a
// dependency on Interface.
type TimerFactory struct {
	mu     sync.Mutex
	push   Pusher
	owner  service.ID
	minInt time.Duration
	timers []*Timer
}

// NewTimer constructs and returns a new Timer owned by this factory,
// filtered so only the owning requester's RunFunction events carry its
// service id (spec.md §4.7 "filtered so that only that requester may
// inject it").
func (f *TimerFactory) NewTimer(interval time.Duration, priority event.Priority, fireOnce bool, cb Callback) *Timer {
	t := newTimer(f.push, f.owner, priority, interval, fireOnce, cb, f.minInt)
	f.mu.Lock()
	f.timers = append(f.timers, t)
	f.mu.Unlock()
	return t
}

// Stop awaits "all timers quit" (spec.md §4.7 "the factory's stop()
// awaits all timers quit"): it requests every owned timer to stop and
// blocks until each has reported STOPPED, or ctx is done.
func (f *TimerFactory) Stop(ctx context.Context) {
	f.mu.Lock()
	timers := append([]*Timer(nil), f.timers...)
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range timers {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.Stop(nil)
			for t.State() != Stopped {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
			}
		}()
	}

	waitCh := make(chan struct{})
	go func() { wg.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-ctx.Done():
	}
}

// FactoryFactory is the single process-startup tracker of spec.md §4.7:
// it registers itself against resolver.Resolver as the tracker for
// Interface and manufactures one TimerFactory per requester on demand.
type FactoryFactory struct {
	mu        sync.Mutex
	push      Pusher
	cfg       config.TimerConfig
	log       zerolog.Logger
	factories map[service.ID]*TimerFactory
	selfID    service.ID
}

// NewFactoryFactory constructs the tracker. selfID is the service id the
// factory factory itself is registered under (spec.md §4.7's tracker is
// itself a service so its own Stop can be sequenced by the dispatch
// loop's ordinary StopService path).
func NewFactoryFactory(push Pusher, cfg config.TimerConfig, selfID service.ID, log zerolog.Logger) *FactoryFactory {
	return &FactoryFactory{
		push:      push,
		cfg:       cfg,
		log:       log.With().Str("component", "timer_factory_factory").Logger(),
		factories: make(map[service.ID]*TimerFactory),
		selfID:    selfID,
	}
}

// OnDependencyRequest implements resolver.Tracker: it manufactures (or
// returns the existing) TimerFactory for requester and returns it
// directly as the view to inject, since only this tracker knows how to
// scope a factory to one requester (spec.md §4.7 "filtered so that only
// that requester may inject it").
func (ff *FactoryFactory) OnDependencyRequest(_ service.InterfaceKey, requester service.ID, _ *event.Properties) (any, bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, exists := ff.factories[requester]
	if !exists {
		f = &TimerFactory{push: ff.push, owner: requester, minInt: ff.cfg.MinInterval}
		ff.factories[requester] = f
	}
	return f, true
}

// OnDependencyUndoRequest tears down the per-requester factory once the
// requester no longer depends on Interface.
func (ff *FactoryFactory) OnDependencyUndoRequest(_ service.InterfaceKey, requester service.ID) {
	ff.mu.Lock()
	f, ok := ff.factories[requester]
	delete(ff.factories, requester)
	ff.mu.Unlock()
	if ok {
		f.Stop(context.Background())
	}
}

// FactoryFor returns the TimerFactory manufactured for requester, if
// any. The resolver does not call it: it receives the factory as the
// view returned by OnDependencyRequest.
func (ff *FactoryFactory) FactoryFor(requester service.ID) (*TimerFactory, bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, ok := ff.factories[requester]
	return f, ok
}

// Stop stops every manufactured factory before returning, matching
// spec.md §4.7 "the TimerFactoryFactory's stop() first stops each owned
// factory before allowing the runtime to progress."
func (ff *FactoryFactory) Stop(ctx context.Context) {
	ff.mu.Lock()
	factories := make([]*TimerFactory, 0, len(ff.factories))
	for _, f := range ff.factories {
		factories = append(factories, f)
	}
	ff.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range factories {
		f := f
		g.Go(func() error {
			f.Stop(gctx)
			return nil
		})
	}
	_ = g.Wait()
}
