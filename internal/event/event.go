// Package event defines Ichor's typed event and the ordered, dynamically
// typed Properties map attached to every service (spec.md §3, components
// A and B).
package event

import (
	"hash/fnv"
	"reflect"
)

// ID uniquely identifies an event within one queue. IDs are strictly
// increasing per queue, so (Priority, ID) ordering also gives FIFO
// ordering among events at the same priority.
type ID uint64

// Type is a stable hash of an event's Go type, used so handlers can be
// registered by type without runtime reflection on the hot path.
type Type uint64

// TypeOf returns the stable Type key for T. Two calls for the same T
// within a process always return the same value.
func TypeOf[T any]() Type {
	var zero T
	name := reflect.TypeOf(&zero).Elem().String()
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return Type(h.Sum64())
}

// Priority is an event's position in the dispatch order: smaller runs
// sooner. The framework reserves the low end of the range for its own
// cascades; user events default to PriorityEvent.
type Priority uint32

// Framework-internal priority band, smallest-to-largest per spec.md §3.
const (
	PriorityDependency Priority = 100 + iota
	PriorityLifecycle
	PriorityCoroutine
	PriorityTimer
)

// PriorityEvent is the default priority for user-originated events.
const PriorityEvent Priority = 10_000

// Event is the tuple (id, type, originServiceId, priority, payload) of
// spec.md §3. ServiceID is declared as uint64 here (the ServiceID type
// below) to avoid an import cycle with package service; the service
// package re-exports event.ServiceID as its own ID type via an alias.
type Event struct {
	ID       ID
	Type     Type
	Origin   ServiceID
	Priority Priority
	Payload  any
}

// ServiceID identifies the service that originated an event. Id 0 is
// reserved for "framework origin" (spec.md §3).
type ServiceID uint64

// FrameworkOrigin is the reserved origin id for framework-pushed events.
const FrameworkOrigin ServiceID = 0

// New builds an event with an explicit id; used by package queue, which
// owns id assignment, and by tests constructing events directly.
func New(id ID, typ Type, origin ServiceID, priority Priority, payload any) Event {
	return Event{ID: id, Type: typ, Origin: origin, Priority: priority, Payload: payload}
}
