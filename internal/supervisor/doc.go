/*
Package supervisor provides process supervision for Ichor using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of every long-running runtime instance and boundary
collaborator in the process. It provides Erlang/OTP-style supervision
with automatic restart, failure isolation, and graceful shutdown.

# Overview

The supervisor tree organizes services into three layers for failure
isolation:

	RootSupervisor ("ichor")
	├── InstanceSupervisor ("instance-layer")
	│   └── runtime.Instance (one per OS-thread-pinned queue)
	├── BroadcastSupervisor ("broadcast-layer")
	│   └── broadcast transport (watermill gochannel or NATS JetStream)
	└── CollaboratorSupervisor ("collaborator-layer")
	    ├── httpservice.Service
	    └── wsservice.Hub

This hierarchy ensures that:
  - A crash in a boundary collaborator doesn't take down a runtime
    instance's event loop.
  - A broadcast transport outage doesn't affect instances with no
    cross-process dependents.
  - Each layer can restart independently.

# Key Features

Automatic Restart:
  - Crashed services are automatically restarted
  - A fixed FailureBackoff delay prevents restart storms
  - Configurable failure thresholds and decay rates

Failure Isolation:
  - Services are organized into logical groups
  - Child supervisor failures don't propagate upward
  - Each layer has independent failure counting

Graceful Shutdown:
  - Context cancellation triggers orderly shutdown
  - Configurable shutdown timeout per service
  - UnstoppedServiceReport for debugging hangs

Structured Logging:
  - Integration with slog for structured events
  - Logs service starts, stops, failures, and restarts
  - Event hooks via sutureslog adapter

# Usage Example

Basic setup in main.go:

	import (
	    "log/slog"
	    "ichor/internal/supervisor"
	)

	func main() {
	    logger := slog.Default()
	    config := supervisor.DefaultTreeConfig()

	    tree, err := supervisor.NewSupervisorTree(logger, config)
	    if err != nil {
	        log.Fatal(err)
	    }

	    tree.AddInstance(inst)
	    tree.AddCollaboratorService(httpSvc)

	    ctx := context.Background()
	    if err := tree.Serve(ctx); err != nil {
	        log.Printf("Supervisor stopped: %v", err)
	    }
	}

Background operation:

	errChan := tree.ServeBackground(ctx)
	// Do other setup...
	if err := <-errChan; err != nil {
	    log.Printf("Supervisor error: %v", err)
	}

# Configuration

The TreeConfig controls restart behavior:

	config := supervisor.TreeConfig{
	    FailureThreshold: 5.0,          // Failures before backoff
	    FailureDecay:     30.0,         // Seconds for failures to decay
	    FailureBackoff:   15 * time.Second, // Backoff duration
	    ShutdownTimeout:  10 * time.Second, // Per-service shutdown timeout
	}

Default values match suture's production-ready defaults.

# Failure Handling

The supervisor uses a failure counter with exponential decay:

1. Each service failure increments the counter
2. Counter decays exponentially over time (FailureDecay seconds)
3. When counter exceeds FailureThreshold, supervisor enters backoff
4. During backoff, restarts are delayed by FailureBackoff duration

# Service Interface

All services must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

runtime.Instance implements this directly: Serve runs its dispatch loop
and returns once the loop's Quit cascade drains or ctx is cancelled.

# Debugging Shutdown Issues

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    log.Printf("Service didn't stop: %v", svc)
	}

# Thread Safety

The SupervisorTree is safe for concurrent use: services can be added
from any goroutine and multiple services can crash simultaneously.

# See Also

  - internal/runtime: the Instance type hosted by this tree
  - internal/collab: the boundary collaborators hosted by this tree
  - github.com/thejerf/suture/v4: underlying library
*/
package supervisor
