// Package dispatch implements the dispatch loop of spec.md §4.5
// (component G): it pops events from the queue, handles framework events
// inline against the resolver and the lifecycle managers it owns, and
// routes user events through the interceptor/handler registration chain.
package dispatch

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"ichor/internal/event"
	"ichor/internal/ichorerr"
	"ichor/internal/queue"
	"ichor/internal/resolver"
	"ichor/internal/service"
)

// HandlerFunc processes one user event. Returning false from a handler
// tells the loop to skip the remaining handlers registered for this
// event type ("prevent others", spec.md §7).
type HandlerFunc func(ctx context.Context, evt event.Event) bool

// InterceptorFunc runs before (or after, with handled=true/false) the
// handler chain. Returning false from a pre-interceptor vetoes dispatch
// entirely for that event.
type InterceptorFunc func(evt event.Event, handled bool) bool

// Filter narrows a registration to a subset of origins.
type Filter func(origin service.ID) bool

type handlerReg struct {
	typ     event.Type
	fn      HandlerFunc
	filter  Filter
	removed bool
}

type interceptorReg struct {
	fn      InterceptorFunc
	post    bool
	removed bool
}

// Continuation is a single re-entry point posted by the coroutine
// bridge (package async): resuming it may itself suspend again, in
// which case the bridge re-enqueues another Continuable.
type Continuation interface {
	Resume(ctx context.Context)
}

// Loop is the single-threaded dispatch loop owning one Queue, one
// resolver.Resolver, and the registration tables that back the external
// Registration API (spec.md §6).
type Loop struct {
	q   *queue.Queue
	res *resolver.Resolver
	log zerolog.Logger

	handlers     []*handlerReg
	interceptors []*interceptorReg

	quitRequested bool
	quitStartedAt time.Time
	quitTimeout   time.Duration
	stoppingOrder []service.ID // services awaiting StopService completion during a Quit drain
}

// New builds a Loop bound to q and res. Run must be called from the
// goroutine that will own this Loop for its entire lifetime; it pins
// that goroutine to its OS thread for the duration (spec.md §4.4
// "exactly one OS thread drives a queue").
func New(q *queue.Queue, res *resolver.Resolver, quitTimeout time.Duration, log zerolog.Logger) *Loop {
	return &Loop{
		q:           q,
		res:         res,
		quitTimeout: quitTimeout,
		log:         log.With().Str("component", "dispatch").Logger(),
	}
}

// RegisterHandler adds fn to the chain invoked for events of type typ,
// in registration order, optionally narrowed by filter. It returns a
// registration token usable with RemoveHandler.
func (l *Loop) RegisterHandler(typ event.Type, fn HandlerFunc, filter Filter) *handlerReg {
	reg := &handlerReg{typ: typ, fn: fn, filter: filter}
	l.handlers = append(l.handlers, reg)
	return reg
}

// RemoveHandler marks reg inert. It is called directly from the loop's
// own goroutine; other goroutines can get the same effect by pushing a
// RemoveHandler event carrying reg, which handleFramework applies.
func (l *Loop) RemoveHandler(reg *handlerReg) { reg.removed = true }

// RegisterInterceptor adds fn as a pre-interceptor (post=false) or
// post-interceptor (post=true).
func (l *Loop) RegisterInterceptor(fn InterceptorFunc, post bool) *interceptorReg {
	reg := &interceptorReg{fn: fn, post: post}
	l.interceptors = append(l.interceptors, reg)
	return reg
}

// RemoveInterceptor marks reg inert.
func (l *Loop) RemoveInterceptor(reg *interceptorReg) { reg.removed = true }

// Run drives the loop until ctx is cancelled or the quit drain completes
// (spec.md §4.5). It returns the first UnrecoverableError encountered,
// if any, or nil on an orderly quit/ctx-cancel exit.
func (l *Loop) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.q.InstallSigIntHandler()
	defer l.q.StopSigIntHandler()

	for {
		// Step 1: SIGINT observed, or quit() called directly, and no Quit
		// event has been emitted yet (spec.md §4.4 "quit(): marks the queue
		// quitting; the loop finishes after a bounded drain").
		if (l.q.SigIntSeen() || l.q.Quitting()) && !l.quitRequested {
			l.q.ConsumeSigInt()
			l.beginQuit()
		}

		if l.quitRequested && l.drainComplete() {
			return nil
		}
		if l.quitRequested && time.Since(l.quitStartedAt) > l.quitTimeout {
			l.log.Warn().Msg("quit drain deadline exceeded, forcing exit")
			return nil
		}

		// Step 2/3: wait for and pop the next event.
		evt, ok := l.q.Pop(ctx)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		if ft, isFramework := event.IsFramework(evt.Type); isFramework {
			if err := l.handleFramework(ctx, ft, evt); err != nil {
				l.q.MarkIdle()
				return err
			}
		} else {
			l.handleUser(ctx, evt)
		}
		l.q.MarkIdle()
	}
}

// beginQuit enqueues the framework Quit event, matching step 1's
// "enqueue one at INTERNAL_EVENT_PRIORITY, record the timestamp."
func (l *Loop) beginQuit() {
	l.quitRequested = true
	l.quitStartedAt = time.Now()
	l.q.Push(event.TypeQuit.AsType(), service.FrameworkOrigin, event.PriorityEvent, nil)
}

// drainComplete reports whether the quit cascade has finished: every
// service this loop tracks has reached INSTALLED/UNINSTALLED and no
// RemoveService work remains outstanding.
func (l *Loop) drainComplete() bool {
	return len(l.stoppingOrder) == 0 && l.q.Empty()
}

// handleUser implements spec.md §4.5 step 5/6: pre-interceptors, the
// filtered handler chain in registration order, post-interceptors, and
// re-enqueue of a suspended continuation if the handler returned one via
// the Continuable sentinel path (see async.Task.Await, which pushes
// TypeContinuable itself; handleUser here only runs ordinary handlers).
func (l *Loop) handleUser(ctx context.Context, evt event.Event) {
	for _, ic := range l.interceptors {
		if ic.removed || ic.post {
			continue
		}
		if !ic.fn(evt, false) {
			return // vetoed
		}
	}

	handled := false
	for _, h := range l.handlers {
		if h.removed || h.typ != evt.Type {
			continue
		}
		if h.filter != nil && !h.filter(evt.Origin) {
			continue
		}
		if !h.fn(ctx, evt) {
			handled = true
			break // "prevent others" short-circuit
		}
		handled = true
	}

	for _, ic := range l.interceptors {
		if ic.removed || !ic.post {
			continue
		}
		ic.fn(evt, handled)
	}
}

// handleFramework implements spec.md §4.5 step 4: the fixed table of
// framework event types, each handled inline via the corresponding
// component (the resolver for dependency events, the lifecycle managers
// for start/stop/remove, the loop itself for Quit/RemoveHandler/
// RemoveInterceptor/RunFunction/Continuable).
func (l *Loop) handleFramework(ctx context.Context, ft event.FrameworkType, evt event.Event) error {
	switch ft {
	case event.TypeDependencyOnline:
		id, _ := evt.Payload.(service.ID)
		return l.res.DependencyOnline(id)

	case event.TypeDependencyOffline:
		id, _ := evt.Payload.(service.ID)
		return l.res.DependencyOffline(id)

	case event.TypeStartService:
		id, _ := evt.Payload.(service.ID)
		return l.startService(ctx, id)

	case event.TypeStopService:
		id, _ := evt.Payload.(service.ID)
		return l.stopService(ctx, id)

	case event.TypeRemoveService:
		id, _ := evt.Payload.(service.ID)
		l.res.Unregister(id)
		l.removeFromStopping(id)
		return nil

	case event.TypeQuit:
		return l.onQuit(ctx)

	case event.TypeRemoveHandler:
		if reg, ok := evt.Payload.(*handlerReg); ok {
			reg.removed = true
		}
		return nil

	case event.TypeRemoveInterceptor:
		if reg, ok := evt.Payload.(*interceptorReg); ok {
			reg.removed = true
		}
		return nil

	case event.TypeRemoveTracker:
		if iface, ok := evt.Payload.(service.InterfaceKey); ok {
			l.res.RemoveTracker(iface)
		}
		return nil

	case event.TypeRunFunction:
		if fn, ok := evt.Payload.(func(context.Context)); ok {
			fn(ctx)
		} else if fn, ok := evt.Payload.(func()); ok {
			fn()
		}
		return nil

	case event.TypeContinuable, event.TypeContinuableStart:
		if c, ok := evt.Payload.(Continuation); ok {
			c.Resume(ctx)
		}
		return nil

	case event.TypeUnrecoverableError:
		if err, ok := evt.Payload.(error); ok {
			return err
		}
		return &ichorerr.UnrecoverableError{Reason: "unrecoverable error event with no payload"}

	case event.TypeRecoverableError:
		if err, ok := evt.Payload.(error); ok {
			l.log.Warn().Err(err).Msg("recoverable error observed")
		}
		return nil

	case event.TypeDependencyRequest, event.TypeDependencyUndoRequest:
		// Tracker registration/removal is handled synchronously inside
		// resolver.RegisterManager/Unregister; these event types exist
		// for external trackers that want to observe the traffic.
		return nil

	case event.TypeDoWork:
		if fn, ok := evt.Payload.(func(context.Context)); ok {
			fn(ctx)
		}
		return nil
	}
	return nil
}

func (l *Loop) removeFromStopping(id service.ID) {
	for i, sid := range l.stoppingOrder {
		if sid == id {
			l.stoppingOrder = append(l.stoppingOrder[:i], l.stoppingOrder[i+1:]...)
			return
		}
	}
}

// startService invokes Service.Start and drives STARTING -> INJECTING or
// back to INSTALLED (spec.md §4.2). Start is run synchronously here;
// services that need to suspend do so through package async's Task
// wrapper, which posts its own Continuable back through this same loop.
func (l *Loop) startService(ctx context.Context, id service.ID) error {
	mgr, ok := l.res.Manager(id)
	if !ok {
		return &ichorerr.UnrecoverableError{Reason: "StartService for unknown service"}
	}
	if !mgr.BeginStart() {
		return nil // not startable right now; a later DependencyOnline will retry
	}
	if err := mgr.Service().Start(ctx); err != nil {
		mgr.StartFailed()
		l.log.Warn().Err(err).Str("service", mgr.Service().ServiceName()).Msg("service start failed")
		return nil
	}
	mgr.StartSucceeded()
	// A required dependency is always satisfied (and already delivered via
	// InsertSelfInto) before BeginStart can succeed, so there is no second
	// DependencyOnline call waiting to arrive while the service sits in
	// INJECTING: this is the only place that can drive INJECTING -> ACTIVE
	// for the common case of a service whose required deps were already
	// providers at start time, as well as the zero-required-deps case.
	if mgr.AllRequiredDelivered() && mgr.SetInjected() {
		l.q.Push(event.TypeDependencyOnline.AsType(), service.FrameworkOrigin, event.PriorityDependency, id)
	}
	return nil
}

// stopService drives ACTIVE -> UNINJECTING -> STOPPING -> INSTALLED,
// calling Service.Stop only once BeginStop succeeds.
func (l *Loop) stopService(ctx context.Context, id service.ID) error {
	mgr, ok := l.res.Manager(id)
	if !ok {
		return &ichorerr.UnrecoverableError{Reason: "StopService for unknown service"}
	}
	mgr.SetUninjected()
	if !mgr.BeginStop() {
		return nil
	}
	mgr.Service().Stop(ctx)
	mgr.StopComplete()
	if l.quitRequested {
		l.q.Push(event.TypeRemoveService.AsType(), service.FrameworkOrigin, event.PriorityDependency, id)
	}
	return nil
}

// onQuit implements the Quit cascade of spec.md §4.5: enqueue
// StopService for every ACTIVE or UNINJECTING service (stopService then pushes that
// service's RemoveService once Stop returns) and RemoveService right away
// for every service already INSTALLED.
func (l *Loop) onQuit(_ context.Context) error {
	var pending []service.ID
	for _, id := range l.res.AllServiceIDs() {
		mgr, ok := l.res.Manager(id)
		if !ok {
			continue
		}
		// Starting/Injecting/Stopping are transient within this
		// single-threaded loop: Service.Start/Stop run synchronously inside
		// startService/stopService, so onQuit never observes a service
		// mid-transition. Only enroll states that still need an event to
		// reach INSTALLED/UNINSTALLED, so drainComplete converges without
		// depending on quitTimeout for a service this loop has nothing left
		// to push for.
		switch mgr.State() {
		case service.Active, service.Uninjecting:
			pending = append(pending, id)
			l.q.Push(event.TypeStopService.AsType(), service.FrameworkOrigin, event.PriorityDependency, id)
		case service.Installed:
			pending = append(pending, id)
			l.q.Push(event.TypeRemoveService.AsType(), service.FrameworkOrigin, event.PriorityDependency, id)
		}
	}
	l.stoppingOrder = pending
	return nil
}
