// Package config holds the runtime-wide tunables for an Ichor instance:
// queue drain timing, dispatch sleep bounds, the instance supervisor's
// restart policy, and logging/metrics knobs. It mirrors the layered
// koanf loading pattern used throughout the rest of this codebase
// (defaults -> optional file -> environment), but the schema itself is
// small: Ichor has no application domain of its own, only the core
// event-loop and the collaborators wired in internal/collab.
package config

import "time"

// QueueConfig controls the event queue and dispatch loop (spec.md §4.4-4.5).
type QueueConfig struct {
	// SpinlockWindow is how long the dispatch loop busy-polls for new work
	// before parking on the wake condition variable. Default: 10ms.
	SpinlockWindow time.Duration `koanf:"spinlock_window"`

	// MaxSleep bounds how long a single wait on the condition variable may
	// block before re-checking for SIGINT / quit state. Default: 500ms.
	MaxSleep time.Duration `koanf:"max_sleep"`

	// QuitTimeout is the bounded drain deadline after the first Quit event;
	// remaining events are discarded once it elapses. Default: 10s.
	QuitTimeout time.Duration `koanf:"quit_timeout"`

	// CaptureSigInt installs the SIGINT handler described in spec.md §4.4.
	CaptureSigInt bool `koanf:"capture_sigint"`
}

// TimerConfig controls the timer subsystem (spec.md §4.7).
type TimerConfig struct {
	// MinInterval is the smallest interval a Timer will accept, to guard
	// against accidental busy-loops from a misconfigured collaborator.
	MinInterval time.Duration `koanf:"min_interval"`
}

// SupervisorConfig mirrors the teacher's TreeConfig: the restart policy
// applied to every layer of the process-wide supervisor tree
// (internal/supervisor), including the instance layer that hosts runtime
// instances.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig controls the zerolog-based logging package.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// BroadcastConfig controls the optional cross-instance fan-out channel
// (spec.md §6, "Cross-instance channel").
type BroadcastConfig struct {
	// Transport selects the watermill pubsub backend: "memory" (gochannel,
	// default, in-process fan-out) or "nats" (JetStream, cross-process).
	Transport string `koanf:"transport"`
	NATSURL   string `koanf:"nats_url"`
}

// Config is the top-level Ichor runtime configuration.
type Config struct {
	Queue       QueueConfig       `koanf:"queue"`
	Timer       TimerConfig       `koanf:"timer"`
	Supervisor  SupervisorConfig  `koanf:"supervisor"`
	Logging     LoggingConfig     `koanf:"logging"`
	Broadcast   BroadcastConfig   `koanf:"broadcast"`
	MetricsAddr string            `koanf:"metrics_addr"`
}

// Validate checks the configuration for internal consistency, matching
// the teacher's Validate()-after-unmarshal pattern.
func (c *Config) Validate() error {
	if c.Queue.SpinlockWindow < 0 {
		return errInvalidConfig("queue.spinlock_window must be >= 0")
	}
	if c.Queue.MaxSleep <= 0 {
		return errInvalidConfig("queue.max_sleep must be > 0")
	}
	if c.Queue.QuitTimeout <= 0 {
		return errInvalidConfig("queue.quit_timeout must be > 0")
	}
	if c.Supervisor.FailureThreshold <= 0 {
		return errInvalidConfig("supervisor.failure_threshold must be > 0")
	}
	if c.Supervisor.FailureDecay <= 0 {
		return errInvalidConfig("supervisor.failure_decay must be > 0")
	}
	switch c.Broadcast.Transport {
	case "", "memory", "nats":
	default:
		return errInvalidConfig("broadcast.transport must be memory or nats")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errInvalidConfig(msg string) error { return configError(msg) }
