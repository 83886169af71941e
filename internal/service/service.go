// Package service defines the user-facing Service contract (spec.md §3,
// §4.1, component C): identity, state, properties, and the async
// start/stop lifecycle. The lifecycle manager in package lifecycle owns
// and drives everything a Service does not control directly.
package service

import (
	"context"
	"hash/fnv"
	"reflect"

	"github.com/google/uuid"

	"ichor/internal/event"
)

// ID is a process-wide unique, monotonically assigned service identity.
// It is declared as event.ServiceID so events and services share one id
// space without an import cycle.
type ID = event.ServiceID

// FrameworkOrigin is the reserved id for framework-originated activity.
const FrameworkOrigin = event.FrameworkOrigin

// InterfaceKey is the stable hash of an interface type under which a
// service advertises itself to the resolver (spec.md §3, §9).
type InterfaceKey uint64

// InterfaceKeyOf returns the stable InterfaceKey for interface type I.
func InterfaceKeyOf[I any]() InterfaceKey {
	var zero I
	name := reflect.TypeOf(&zero).Elem().String()
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return InterfaceKey(h.Sum64())
}

// DependencyFlag is a bitset of the flags a DependencyDescriptor carries.
type DependencyFlag uint8

const (
	// Required means the owning service cannot be ACTIVE unless at
	// least one provider of the dependency's interface is injected.
	Required DependencyFlag = 1 << iota
	// AllowMultiple permits more than one concurrently injected
	// provider for the same interface.
	AllowMultiple
)

// Has reports whether f is set within the receiver.
func (flags DependencyFlag) Has(f DependencyFlag) bool { return flags&f != 0 }

// DependencyDescriptor is the tuple (interfaceKey, flags, satisfiedCount)
// of spec.md §3. SatisfiedCount is maintained by package lifecycle, not
// by the declaring service.
type DependencyDescriptor struct {
	Interface      InterfaceKey
	Flags          DependencyFlag
	SatisfiedCount int
}

// Satisfied reports whether this descriptor's REQUIRED constraint (if
// any) is currently met. A non-required descriptor is always satisfied.
func (d DependencyDescriptor) Satisfied() bool {
	if !d.Flags.Has(Required) {
		return true
	}
	return d.SatisfiedCount >= 1
}

// DependencyRegister is handed to a service constructor so it can
// declare its dependencies before the lifecycle manager takes ownership
// (spec.md §6 "Dependency declaration").
type DependencyRegister interface {
	RegisterDependency(iface InterfaceKey, flags DependencyFlag, props *event.Properties)
}

// Service is the public contract of spec.md §4.1.
type Service interface {
	ServiceID() ID
	ServiceGID() uuid.UUID
	ServiceName() string
	Priority() event.Priority
	Properties() *event.Properties

	// Start must not block the calling goroutine beyond normal
	// suspension points: the dispatch loop calls it synchronously on its
	// own goroutine, so a service with long-running start work hands it
	// to an async.Task itself. A non-nil error returns the service to
	// INSTALLED (spec.md §4.1).
	Start(ctx context.Context) error

	// Stop performs asynchronous teardown; it is only ever invoked from
	// the UNINJECTING->STOPPING transition.
	Stop(ctx context.Context)
}

// DependencyCallbacks is an optional interface a Service may implement
// to observe injection/removal of its declared dependencies. The spec
// describes "one pair per declared dependency"; this rewrite expresses
// that as a single pair keyed by InterfaceKey, which is the idiomatic Go
// equivalent of per-type generated callback pairs (see DESIGN.md).
type DependencyCallbacks interface {
	OnAdd(iface InterfaceKey, peer ID, view any)
	OnRemove(iface InterfaceKey, peer ID)
}

// InterfaceProvider is implemented by a Service that advertises one or
// more interfaces. ProvideView performs the double-dispatch conversion
// described in spec.md §9 "Pointer aliasing on multi-interface
// services": the provider, not the consumer, knows how to produce the
// correctly typed view for a given interface key.
type InterfaceProvider interface {
	Interfaces() []InterfaceKey
	ProvideView(iface InterfaceKey) (view any, ok bool)
}
