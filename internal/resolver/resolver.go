// Package resolver implements the dependency resolver of spec.md §4.3
// (component E): the tie between lifecycle managers (D) and the event
// queue/dispatch loop (F/G). It maintains the provider and requester
// indexes and turns online/offline interface announcements into start
// and stop cascades, expressed as framework events pushed back onto the
// owning queue.
package resolver

import (
	"github.com/rs/zerolog"

	"ichor/internal/event"
	"ichor/internal/ichorerr"
	"ichor/internal/lifecycle"
	"ichor/internal/service"
)

// Pusher is the subset of the queue the resolver needs: enqueue a
// framework event. Taking an interface instead of *queue.Queue lets
// tests hand the resolver a fake that records pushes.
type Pusher interface {
	Push(typ event.Type, origin service.ID, priority event.Priority, payload any) event.ID
}

// Tracker lets an external service manufacture or deny providers on
// demand for a given interface (spec.md §4.3 "DependencyRequest" /
// §4.7's TimerFactoryFactory). Registered keyed by interface via
// RegisterTracker.
type Tracker interface {
	// OnDependencyRequest is invoked the first time any requester
	// declares a dependency on iface for which a tracker is registered.
	// It returns the view to inject directly (e.g. a per-requester
	// *timer.TimerFactory), or ok=false to deny. The tracker, not a
	// generic InterfaceProvider, is trusted to know how to manufacture a
	// view scoped to this specific requester.
	OnDependencyRequest(iface service.InterfaceKey, requester service.ID, props *event.Properties) (view any, ok bool)
	// OnDependencyUndoRequest is invoked when requester no longer
	// depends on iface, letting the tracker tear down a per-requester
	// provider it manufactured.
	OnDependencyUndoRequest(iface service.InterfaceKey, requester service.ID)
}

// Resolver owns the provider/requester indexes and the lifecycle
// managers they reference. It does not own the event queue; it is
// handed a Pusher so framework-event cascades land back on the queue
// that owns it.
type Resolver struct {
	push Pusher
	log  zerolog.Logger

	managers map[service.ID]*lifecycle.Manager

	// providersByInterface tracks ACTIVE services advertising each
	// interface (spec.md §4.3).
	providersByInterface map[service.InterfaceKey][]service.ID
	// requestersByInterface tracks services with a declared dependency
	// on each interface, in any state.
	requestersByInterface map[service.InterfaceKey][]service.ID

	trackers      map[service.InterfaceKey]Tracker
	trackerOwners map[service.InterfaceKey]service.ID
}

// New returns a Resolver that pushes cascade events through push.
func New(push Pusher, log zerolog.Logger) *Resolver {
	return &Resolver{
		push:                  push,
		log:                   log.With().Str("component", "resolver").Logger(),
		managers:              make(map[service.ID]*lifecycle.Manager),
		providersByInterface:  make(map[service.InterfaceKey][]service.ID),
		requestersByInterface: make(map[service.InterfaceKey][]service.ID),
		trackers:              make(map[service.InterfaceKey]Tracker),
		trackerOwners:         make(map[service.InterfaceKey]service.ID),
	}
}

// RegisterManager enrolls a freshly constructed lifecycle.Manager and
// indexes its declared dependencies as requesters. It does not start the
// service; that happens once CanStart is already true, driven by the
// dispatch loop handling a subsequent DependencyOnline or by an
// immediate check performed by the caller.
func (r *Resolver) RegisterManager(mgr *lifecycle.Manager) {
	id := mgr.Service().ServiceID()
	r.managers[id] = mgr
	for _, d := range mgr.Dependencies() {
		r.requestersByInterface[d.Interface] = append(r.requestersByInterface[d.Interface], id)
		if tr, ok := r.trackers[d.Interface]; ok {
			if view, ok := tr.OnDependencyRequest(d.Interface, id, mgr.Service().Properties()); ok {
				owner := r.trackerOwners[d.Interface]
				behaviour := mgr.DependencyOnline(owner, d.Interface, view)
				r.applyBehaviour(id, behaviour)
			}
		}
	}
}

// Manager returns the lifecycle.Manager registered for id, if any.
func (r *Resolver) Manager(id service.ID) (*lifecycle.Manager, bool) {
	m, ok := r.managers[id]
	return m, ok
}

// AllServiceIDs returns every currently registered service id, in no
// particular order. Used by the dispatch loop to fan the Quit cascade
// out to every live service.
func (r *Resolver) AllServiceIDs() []service.ID {
	ids := make([]service.ID, 0, len(r.managers))
	for id := range r.managers {
		ids = append(ids, id)
	}
	return ids
}

// RegisterTracker installs tr as the tracker for iface (spec.md §4.3,
// §6 registerDependencyTracker). owner identifies the tracker's own
// service id, recorded as the provider of record for bookkeeping in
// DependencyOnline/DependencyOffline. Only one tracker may own an
// interface; a second registration replaces the first, matching
// "registered keyed by interface."
func (r *Resolver) RegisterTracker(iface service.InterfaceKey, owner service.ID, tr Tracker) {
	r.trackers[iface] = tr
	r.trackerOwners[iface] = owner
}

// RemoveTracker uninstalls the tracker for iface.
func (r *Resolver) RemoveTracker(iface service.InterfaceKey) {
	delete(r.trackers, iface)
}

// Unregister drops mgr from the indexes entirely, used once a service
// reaches UNINSTALLED (RemoveService has completed).
func (r *Resolver) Unregister(id service.ID) {
	delete(r.managers, id)
	for iface, ids := range r.providersByInterface {
		r.providersByInterface[iface] = removeID(ids, id)
	}
	for iface, ids := range r.requestersByInterface {
		r.requestersByInterface[iface] = removeID(ids, id)
	}
}

func removeID(ids []service.ID, target service.ID) []service.ID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// DependencyOnline implements spec.md §4.3's origin-side cascade: it
// scans every registered requester of one of origin's interfaces,
// performs the double-dispatch injection, and enqueues StartService for
// any consumer that becomes startable.
func (r *Resolver) DependencyOnline(originID service.ID) error {
	originMgr, ok := r.managers[originID]
	if !ok {
		return &ichorerr.UnrecoverableError{Reason: "DependencyOnline for unknown service"}
	}
	ifaces := originMgr.Interfaces()
	for _, iface := range ifaces {
		r.providersByInterface[iface] = appendUnique(r.providersByInterface[iface], originID)
		for _, consumerID := range r.requestersByInterface[iface] {
			if consumerID == originID {
				continue
			}
			consumerMgr, ok := r.managers[consumerID]
			if !ok {
				continue
			}
			r.deliverOnline(originMgr, consumerMgr)
		}
	}
	return nil
}

// deliverOnline performs the provider-to-consumer double-dispatch
// injection and drives the consumer's state machine, enqueuing
// StartService or invoking SetInjected as the resulting StartBehaviour
// demands.
func (r *Resolver) deliverOnline(providerMgr, consumerMgr *lifecycle.Manager) {
	providerID := providerMgr.Service().ServiceID()
	consumerID := consumerMgr.Service().ServiceID()
	for _, iface := range providerMgr.Interfaces() {
		if !requesterWants(consumerMgr, iface) {
			continue
		}
		var delivered any
		ok := providerMgr.InsertSelfInto(iface, func(view any) { delivered = view })
		if !ok {
			continue
		}
		behaviour := consumerMgr.DependencyOnline(providerID, iface, delivered)
		r.applyBehaviour(consumerID, behaviour)
	}
}

// applyBehaviour reacts to the StartBehaviour a lifecycle.Manager
// reported from DependencyOnline, enqueuing StartService or advancing
// straight to ACTIVE as appropriate. Shared by the ordinary
// provider-to-consumer path and the tracker-manufactured-view path.
func (r *Resolver) applyBehaviour(consumerID service.ID, behaviour lifecycle.StartBehaviour) {
	switch behaviour {
	case lifecycle.BecameStartable:
		r.push.Push(event.TypeStartService.AsType(), service.FrameworkOrigin, event.PriorityDependency, consumerID)
	case lifecycle.ReadyToInject:
		if mgr, ok := r.managers[consumerID]; ok {
			mgr.SetInjected()
		}
		r.push.Push(event.TypeDependencyOnline.AsType(), service.FrameworkOrigin, event.PriorityDependency, consumerID)
	}
}

func requesterWants(mgr *lifecycle.Manager, iface service.InterfaceKey) bool {
	for _, d := range mgr.Dependencies() {
		if d.Interface == iface {
			return true
		}
	}
	return false
}

func appendUnique(ids []service.ID, id service.ID) []service.ID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// DependencyOffline implements the symmetric teardown cascade: every
// consumer that required one of origin's interfaces is offered
// RemoveSelfFrom semantics and, if it loses its last required provider,
// is enqueued for StopService.
func (r *Resolver) DependencyOffline(originID service.ID) error {
	originMgr, ok := r.managers[originID]
	if !ok {
		return &ichorerr.UnrecoverableError{Reason: "DependencyOffline for unknown service"}
	}
	ifaces := originMgr.Interfaces()
	for _, iface := range ifaces {
		r.providersByInterface[iface] = removeID(r.providersByInterface[iface], originID)
		for _, consumerID := range r.requestersByInterface[iface] {
			if consumerID == originID {
				continue
			}
			consumerMgr, ok := r.managers[consumerID]
			if !ok {
				continue
			}
			behaviour := consumerMgr.DependencyOffline(originID, iface)
			if behaviour == lifecycle.BecameUnstartable {
				r.push.Push(event.TypeStopService.AsType(), service.FrameworkOrigin, event.PriorityDependency, consumerID)
			}
		}
		if tr, ok := r.trackers[iface]; ok && len(r.requestersByInterface[iface]) == 0 {
			tr.OnDependencyUndoRequest(iface, originID)
		}
	}
	return nil
}
