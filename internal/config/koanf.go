package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where a config file is searched for,
// in order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"ichor.yaml",
	"ichor.yml",
	"/etc/ichor/ichor.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "ICHOR_CONFIG_PATH"

// defaultConfig returns sensible defaults, applied before file and
// environment overrides.
func defaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			SpinlockWindow: 10 * time.Millisecond,
			MaxSleep:       500 * time.Millisecond,
			QuitTimeout:    10 * time.Second,
			CaptureSigInt:  true,
		},
		Timer: TimerConfig{
			MinInterval: time.Millisecond,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Broadcast: BroadcastConfig{
			Transport: "memory",
			NATSURL:   "nats://127.0.0.1:4222",
		},
		MetricsAddr: ":9477",
	}
}

// Load loads configuration with koanf's layered precedence:
//  1. Defaults: built-in values from defaultConfig().
//  2. Config file: optional YAML file (ICHOR_CONFIG_PATH or DefaultConfigPaths).
//  3. Environment variables: highest priority.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("ICHOR_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps legacy-style flat environment variable names to their
// koanf dotted path, following the teacher's explicit-table approach
// (automatic underscore-to-dot splitting is ambiguous once both the
// section and the field name contain underscores).
var envMappings = map[string]string{
	"spinlock_window":  "queue.spinlock_window",
	"max_sleep":        "queue.max_sleep",
	"quit_timeout":     "queue.quit_timeout",
	"capture_sigint":   "queue.capture_sigint",
	"timer_min_interval": "timer.min_interval",
	"failure_threshold": "supervisor.failure_threshold",
	"failure_decay":     "supervisor.failure_decay",
	"failure_backoff":   "supervisor.failure_backoff",
	"shutdown_timeout":  "supervisor.shutdown_timeout",
	"log_level":         "logging.level",
	"log_format":        "logging.format",
	"log_caller":        "logging.caller",
	"broadcast_transport": "broadcast.transport",
	"broadcast_nats_url":  "broadcast.nats_url",
	"metrics_addr":      "metrics_addr",
}

// envTransformFunc maps ICHOR_-prefixed environment variables to koanf
// dotted paths, e.g. ICHOR_MAX_SLEEP -> queue.max_sleep.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "ICHOR_"))
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload, mirroring the
// teacher's pattern. The caller owns mutex protection around Load().
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
