
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production-ready defaults.
// These values match suture's built-in defaults per pkg.go.dev documentation.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SupervisorTree manages the hierarchical supervisor structure hosting
// Ichor runtime instances and their boundary collaborators.
//
// The tree is organized into three layers:
//   - instances: runtime.Instance event loops, one per OS-thread-pinned
//     queue (spec.md §2 "a process may run many instances").
//   - broadcast: the optional cross-instance fan-out channel.
//   - collaborators: HTTP/WS boundary services that plug into instances
//     through the ordinary dependency/event interfaces.
//
// This structure provides failure isolation: a crash in one runtime
// instance's collaborators does not take down another instance's event
// loop, and a broadcast transport outage does not stop instances that
// don't depend on cross-process fan-out.
type SupervisorTree struct {
	root          *suture.Supervisor
	instances     *suture.Supervisor
	broadcast     *suture.Supervisor
	collaborators *suture.Supervisor
	logger        *slog.Logger
	config        TreeConfig
}

// NewSupervisorTree creates a new supervisor tree with the given configuration.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	// Apply defaults for zero values
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// Create event hook using sutureslog.
	// IMPORTANT: The correct API is (&Handler{Logger: logger}).MustHook()
	// NOT sutureslog.EventHook(logger) which does not exist.
	// MustHook has a pointer receiver, so we need to take the address.
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	// Child supervisors use the same failure parameters.
	// They will inherit the EventHook when added to the root.
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("ichor", rootSpec)
	instances := suture.New("instance-layer", childSpec)
	broadcast := suture.New("broadcast-layer", childSpec)
	collaborators := suture.New("collaborator-layer", childSpec)

	// Build tree hierarchy
	root.Add(instances)
	root.Add(broadcast)
	root.Add(collaborators)

	return &SupervisorTree{
		root:          root,
		instances:     instances,
		broadcast:     broadcast,
		collaborators: collaborators,
		logger:        logger,
		config:        config,
	}, nil
}

// Root returns the root supervisor for direct access if needed.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// AddInstance adds a runtime.Instance to the instance layer supervisor.
func (t *SupervisorTree) AddInstance(svc suture.Service) suture.ServiceToken {
	return t.instances.Add(svc)
}

// AddBroadcastService adds the cross-instance fan-out transport to the
// broadcast layer supervisor.
func (t *SupervisorTree) AddBroadcastService(svc suture.Service) suture.ServiceToken {
	return t.broadcast.Add(svc)
}

// AddCollaboratorService adds a boundary collaborator (HTTP, WS) to the
// collaborator layer supervisor.
func (t *SupervisorTree) AddCollaboratorService(svc suture.Service) suture.ServiceToken {
	return t.collaborators.Add(svc)
}

// RemoveCollaboratorService removes a previously added collaborator.
func (t *SupervisorTree) RemoveCollaboratorService(token suture.ServiceToken) error {
	return t.collaborators.Remove(token)
}

// Serve starts the supervisor tree and blocks until the context is canceled.
// This is the main entry point for running the supervised application.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the supervisor tree in a background goroutine.
// Returns a channel that receives the error (or nil) when the supervisor stops.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport returns information about services that failed to stop
// within the configured shutdown timeout. Useful for debugging shutdown issues.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// Remove removes a service from the tree by its token.
// The service will be stopped and removed.
func (t *SupervisorTree) Remove(token suture.ServiceToken) error {
	return t.root.Remove(token)
}

// RemoveAndWait removes a service and waits for it to fully stop.
// Use this when you need to ensure a service has completely terminated
// before proceeding (e.g., during configuration reload).
func (t *SupervisorTree) RemoveAndWait(token suture.ServiceToken, timeout time.Duration) error {
	return t.root.RemoveAndWait(token, timeout)
}
