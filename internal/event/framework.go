package event

// Framework event types (spec.md §4.5 step 4). These are handled inline
// by the dispatch loop rather than routed through user handler chains.
// Declared as a fixed enumeration, not TypeOf hashes, since the dispatch
// loop's framework-event switch must be exhaustive and stable across
// builds.
type FrameworkType uint64

const (
	TypeDependencyOnline FrameworkType = iota + 1
	TypeDependencyOffline
	TypeDependencyRequest
	TypeDependencyUndoRequest
	TypeStartService
	TypeStopService
	TypeRemoveService
	TypeQuit
	TypeRemoveHandler
	TypeRemoveTracker
	TypeRemoveInterceptor
	TypeRunFunction
	TypeContinuable
	TypeContinuableStart
	TypeUnrecoverableError
	TypeRecoverableError
	TypeDoWork
)

// AsType widens a FrameworkType into the generic Type space used by
// Event.Type, so framework and user event types share one comparable
// value.
func (f FrameworkType) AsType() Type { return Type(f) }

// IsFramework reports whether t corresponds to one of the framework
// event types above. Framework types are assigned the low end of the
// uint64 space; TypeOf's fnv64a hashes collide with this range with
// negligible probability, and in the one-in-2^64 case the dispatch loop
// simply treats the event as framework, which is a safe default.
func IsFramework(t Type) (FrameworkType, bool) {
	if t == 0 || uint64(t) > uint64(TypeDoWork) {
		return 0, false
	}
	return FrameworkType(t), true
}
