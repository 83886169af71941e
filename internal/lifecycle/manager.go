// Package lifecycle implements the per-service wrapper of spec.md §4.2
// (component D): the state machine, the dependency slots, and the
// double-dispatch injection contract. A Manager is owned exclusively by
// the dependency manager in package resolver; it never reaches across
// to another Manager directly.
package lifecycle

import (
	"sync"

	"github.com/rs/zerolog"

	"ichor/internal/service"
)

// StartBehaviour tells the caller (package resolver) what cascade, if
// any, a dependency change should trigger.
type StartBehaviour int

const (
	// NoChange means the dependency change did not cross a threshold.
	NoChange StartBehaviour = iota
	// BecameStartable means every REQUIRED dependency is now satisfied
	// while the service is INSTALLED; the resolver should enqueue
	// StartService.
	BecameStartable
	// BecameUnstartable means a REQUIRED dependency lost its last
	// provider while the service was STARTING, INJECTING or ACTIVE; the
	// resolver should enqueue StopService.
	BecameUnstartable
	// ReadyToInject means every REQUIRED dependency has now delivered
	// its onAdd callback while the service is INJECTING; the resolver
	// should call SetInjected.
	ReadyToInject
)

type dependency struct {
	descriptor service.DependencyDescriptor
	providers  []service.ID // registration order; ALLOW_MULTIPLE removal is reverse of this
}

// Manager is the lifecycle wrapper around one Service instance.
type Manager struct {
	mu    sync.Mutex
	svc   service.Service
	state service.State
	deps  []*dependency
	log   zerolog.Logger
}

// New wraps svc with a fresh Manager in the INSTALLED state, with deps
// as its declared DependencyDescriptors (one entry per distinct
// interface requested).
func New(svc service.Service, deps []service.DependencyDescriptor, log zerolog.Logger) *Manager {
	wrapped := make([]*dependency, len(deps))
	for i, d := range deps {
		wrapped[i] = &dependency{descriptor: d}
	}
	return &Manager{
		svc:   svc,
		state: service.Installed,
		deps:  wrapped,
		log:   log.With().Uint64("service_id", uint64(svc.ServiceID())).Str("service_name", svc.ServiceName()).Logger(),
	}
}

// Service returns the wrapped service.
func (m *Manager) Service() service.Service {
	return m.svc
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() service.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanStart reports whether every REQUIRED dependency is currently
// satisfied.
func (m *Manager) CanStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canStartLocked()
}

func (m *Manager) canStartLocked() bool {
	for _, d := range m.deps {
		if !d.descriptor.Satisfied() {
			return false
		}
	}
	return true
}

// BeginStart transitions INSTALLED -> STARTING. It only succeeds when
// the service is INSTALLED and every REQUIRED dependency is satisfied
// (spec.md §4.2 "start is invoked only from INSTALLED").
func (m *Manager) BeginStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != service.Installed || !m.canStartLocked() {
		return false
	}
	m.state = service.Starting
	return true
}

// StartFailed transitions STARTING -> INSTALLED following a failed
// Service.Start.
func (m *Manager) StartFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == service.Starting {
		m.state = service.Installed
	}
}

// StartSucceeded transitions STARTING -> INJECTING after a successful
// Service.Start.
func (m *Manager) StartSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == service.Starting {
		m.state = service.Injecting
	}
}

// SetInjected transitions INJECTING -> ACTIVE. Idempotent: calling it
// again once already ACTIVE returns false without changing state
// (spec.md §8 property 5).
func (m *Manager) SetInjected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != service.Injecting {
		return false
	}
	m.state = service.Active
	return true
}

// SetUninjected transitions ACTIVE -> UNINJECTING. Idempotent.
func (m *Manager) SetUninjected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != service.Active {
		return false
	}
	m.state = service.Uninjecting
	return true
}

// BeginStop transitions UNINJECTING -> STOPPING; Service.Stop is only
// ever invoked once this returns true (spec.md §4.2).
func (m *Manager) BeginStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != service.Uninjecting {
		return false
	}
	m.state = service.Stopping
	return true
}

// StopComplete transitions STOPPING -> INSTALLED after Service.Stop
// returns.
func (m *Manager) StopComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == service.Stopping {
		m.state = service.Installed
	}
}

// Uninstall transitions INSTALLED -> UNINSTALLED, the terminal state
// after which the Manager is discarded.
func (m *Manager) Uninstall() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != service.Installed {
		return false
	}
	m.state = service.Uninstalled
	return true
}

// dependencyFor returns the dependency slot matching iface, or nil.
func (m *Manager) dependencyFor(iface service.InterfaceKey) *dependency {
	for _, d := range m.deps {
		if d.descriptor.Interface == iface {
			return d
		}
	}
	return nil
}

// DependencyOnline is called by the resolver, once per matching
// provider, after it has already performed the double-dispatch
// InsertSelfInto call and obtained view. It updates the satisfied count,
// invokes the service's OnAdd callback if implemented, and reports
// whether this crossed a state-machine threshold.
func (m *Manager) DependencyOnline(providerID service.ID, iface service.InterfaceKey, view any) StartBehaviour {
	m.mu.Lock()
	dep := m.dependencyFor(iface)
	if dep == nil {
		m.mu.Unlock()
		return NoChange
	}
	for _, existing := range dep.providers {
		if existing == providerID {
			m.mu.Unlock()
			return NoChange // already injected; insertion is exactly-once per provider.
		}
	}
	wasSatisfied := dep.descriptor.Satisfied()
	dep.providers = append(dep.providers, providerID)
	dep.descriptor.SatisfiedCount++
	becameSatisfied := !wasSatisfied && dep.descriptor.Satisfied()
	state := m.state
	m.mu.Unlock()

	if cb, ok := m.svc.(service.DependencyCallbacks); ok {
		cb.OnAdd(iface, providerID, view)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch state {
	case service.Installed:
		if becameSatisfied && m.canStartLocked() {
			return BecameStartable
		}
	case service.Injecting:
		if m.allRequiredDelivered() {
			return ReadyToInject
		}
	}
	return NoChange
}

// allRequiredDelivered reports whether every REQUIRED dependency has at
// least one provider recorded. Must be called with m.mu held.
func (m *Manager) allRequiredDelivered() bool {
	for _, d := range m.deps {
		if d.descriptor.Flags.Has(service.Required) && len(d.providers) == 0 {
			return false
		}
	}
	return true
}

// AllRequiredDelivered is the exported form of allRequiredDelivered, used
// by the dispatch loop to decide whether a service that just finished
// Service.Start can move straight from INJECTING to ACTIVE: a required
// dependency is always satisfied (and thus already delivered via
// InsertSelfInto) before BeginStart can succeed in the first place, so
// the loop cannot rely on a second DependencyOnline call arriving while
// the service sits in INJECTING.
func (m *Manager) AllRequiredDelivered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allRequiredDelivered()
}

// DependencyOffline is the symmetric teardown path: the resolver calls
// this once it has performed RemoveSelfFrom on the departing provider's
// manager. Removal order for ALLOW_MULTIPLE dependencies is the reverse
// of injection order (spec.md §4.3); since the resolver always removes
// the specific departing provider (not "the most recent"), that ordering
// guarantee is naturally satisfied by the provider slice itself.
func (m *Manager) DependencyOffline(providerID service.ID, iface service.InterfaceKey) StartBehaviour {
	m.mu.Lock()
	dep := m.dependencyFor(iface)
	if dep == nil {
		m.mu.Unlock()
		return NoChange
	}
	idx := -1
	for i, p := range dep.providers {
		if p == providerID {
			idx = i
			break
		}
	}
	if idx == -1 {
		m.mu.Unlock()
		return NoChange
	}
	dep.providers = append(dep.providers[:idx], dep.providers[idx+1:]...)
	dep.descriptor.SatisfiedCount--
	nowUnsatisfied := !dep.descriptor.Satisfied()
	state := m.state
	m.mu.Unlock()

	if cb, ok := m.svc.(service.DependencyCallbacks); ok {
		cb.OnRemove(iface, providerID)
	}

	if nowUnsatisfied && (state == service.Starting || state == service.Injecting || state == service.Active) {
		return BecameUnstartable
	}
	return NoChange
}

// InsertSelfInto performs the provider-side half of the double-dispatch
// injection contract (spec.md §9): it asks the wrapped service for its
// view of iface and, if it has one, invokes inject with it. Returns
// false if the service does not provide iface.
func (m *Manager) InsertSelfInto(iface service.InterfaceKey, inject func(view any)) bool {
	provider, ok := m.svc.(service.InterfaceProvider)
	if !ok {
		return false
	}
	view, ok := provider.ProvideView(iface)
	if !ok {
		return false
	}
	inject(view)
	return true
}

// Interfaces returns the interfaces the wrapped service advertises, or
// nil if it advertises none.
func (m *Manager) Interfaces() []service.InterfaceKey {
	if provider, ok := m.svc.(service.InterfaceProvider); ok {
		return provider.Interfaces()
	}
	return nil
}

// Dependencies returns a snapshot of the manager's dependency
// descriptors, used by diagnostics and tests.
func (m *Manager) Dependencies() []service.DependencyDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]service.DependencyDescriptor, len(m.deps))
	for i, d := range m.deps {
		out[i] = d.descriptor
	}
	return out
}

// Logger returns the manager's service-scoped logger.
func (m *Manager) Logger() zerolog.Logger { return m.log }
