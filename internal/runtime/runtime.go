// Package runtime assembles the Queue, Resolver, and dispatch Loop of
// the lower-level packages into one runtime instance (spec.md §2 "A
// runtime instance is the pair (Queue, DependencyManager)"). An Instance
// implements suture.Service; the supervisor tree that hosts and restarts
// instances lives in internal/supervisor.
package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ichor/internal/config"
	"ichor/internal/dispatch"
	"ichor/internal/event"
	"ichor/internal/lifecycle"
	"ichor/internal/queue"
	"ichor/internal/resolver"
	"ichor/internal/service"
	"ichor/internal/timer"
)

// Instance is one (Queue, Resolver, Loop) triple pinned to a single OS
// thread for its lifetime.
type Instance struct {
	name   string
	q      *queue.Queue
	res    *resolver.Resolver
	loop   *dispatch.Loop
	log    zerolog.Logger
	nextID uint64
}

// New constructs an Instance. name identifies it in logs and in the
// supervisor tree's service listing.
func New(name string, cfg *config.Config, log zerolog.Logger) *Instance {
	log = log.With().Str("instance", name).Logger()
	q := queue.New(cfg.Queue, log)
	res := resolver.New(q, log)
	loop := dispatch.New(q, res, cfg.Queue.QuitTimeout, log)
	return &Instance{name: name, q: q, res: res, loop: loop, log: log}
}

// Queue returns the instance's event queue, for collaborators that need
// to push events into it directly.
func (in *Instance) Queue() *queue.Queue { return in.q }

// Resolver returns the instance's dependency resolver, for collaborators
// that register trackers (e.g. timer.FactoryFactory).
func (in *Instance) Resolver() *resolver.Resolver { return in.res }

// Loop returns the instance's dispatch loop, for collaborators that
// register handlers/interceptors.
func (in *Instance) Loop() *dispatch.Loop { return in.loop }

// nextServiceID assigns a monotonic id that is unique within this
// instance only; every instance numbers its services from 1, so ids
// repeat across instances. id 0 is reserved for FrameworkOrigin
// (spec.md §3).
func (in *Instance) nextServiceID() service.ID {
	in.nextID++
	return service.ID(in.nextID)
}

// CreateService implements spec.md §6's Service API
// (createServiceManager<T, Ifaces...>): it wraps svc in a fresh
// lifecycle.Manager, assigns it a ServiceID, registers it with the
// resolver, and, if every required dependency is already satisfied
// (CanStart), enqueues StartService. The returned *lifecycle.Manager has
// no removal method; dropping it does not issue RemoveService, which only
// the dispatch loop's Quit cascade pushes.
func (in *Instance) CreateService(ctor func(id service.ID, gid uuid.UUID) service.Service, deps []service.DependencyDescriptor) *lifecycle.Manager {
	id := in.nextServiceID()
	gid := uuid.New()
	svc := ctor(id, gid)
	mgr := lifecycle.New(svc, deps, in.log)
	in.res.RegisterManager(mgr)
	if mgr.CanStart() {
		in.q.Push(event.TypeStartService.AsType(), service.FrameworkOrigin, event.PriorityDependency, id)
	}
	return mgr
}

// RegisterTimerFactoryFactory wires a timer.FactoryFactory as the
// resolver's tracker for the TimerFactory interface (spec.md §4.7), and
// registers the factory factory itself as a zero-dependency service so
// its Stop participates in the ordinary Quit cascade.
func (in *Instance) RegisterTimerFactoryFactory(iface service.InterfaceKey, cfg config.TimerConfig) *timer.FactoryFactory {
	id := in.nextServiceID()
	ff := timer.NewFactoryFactory(in.q, cfg, id, in.log)
	svc := &timerFactoryFactoryService{id: id, gid: uuid.New(), ff: ff}
	mgr := lifecycle.New(svc, nil, in.log)
	in.res.RegisterManager(mgr)
	in.res.RegisterTracker(iface, id, ff)
	in.q.Push(event.TypeStartService.AsType(), service.FrameworkOrigin, event.PriorityDependency, id)
	return ff
}

// timerFactoryFactoryService adapts timer.FactoryFactory to the Service
// contract so it participates in the ordinary lifecycle/Quit cascade.
type timerFactoryFactoryService struct {
	id  service.ID
	gid uuid.UUID
	ff  *timer.FactoryFactory
}

func (s *timerFactoryFactoryService) ServiceID() service.ID        { return s.id }
func (s *timerFactoryFactoryService) ServiceGID() uuid.UUID        { return s.gid }
func (s *timerFactoryFactoryService) ServiceName() string          { return "timer.FactoryFactory" }
func (s *timerFactoryFactoryService) Priority() event.Priority      { return event.PriorityTimer }
func (s *timerFactoryFactoryService) Properties() *event.Properties { return event.NewProperties() }
func (s *timerFactoryFactoryService) Start(_ context.Context) error { return nil }
func (s *timerFactoryFactoryService) Stop(ctx context.Context)      { s.ff.Stop(ctx) }

// Serve runs the instance's dispatch loop until ctx is cancelled or the
// instance completes an orderly quit. It implements suture.Service so an
// Instance can be hosted directly by internal/supervisor.
func (in *Instance) Serve(ctx context.Context) error {
	in.log.Info().Msg("runtime instance starting")
	err := in.loop.Run(ctx)
	in.log.Info().Err(err).Msg("runtime instance stopped")
	return err
}

// String identifies the instance in suture's event log.
func (in *Instance) String() string { return "runtime.Instance(" + in.name + ")" }

// Shutdown requests an orderly quit and blocks until the queue is empty
// or timeout elapses. It does not wait for Serve to return.
func (in *Instance) Shutdown(timeout time.Duration) {
	in.q.Quit()
	deadline := time.Now().Add(timeout)
	for !in.q.Empty() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}
