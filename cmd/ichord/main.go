// Package main is the entry point for ichord, the reference process
// that hosts an Ichor runtime instance behind a supervisor tree.
//
// # Application Architecture
//
// The process initializes components in the following order:
//
//  1. Configuration: layered koanf loading (defaults, optional file, env).
//  2. Logging: zerolog, bridged to slog for sutureslog compatibility.
//  3. Supervisor tree: instances / broadcast / collaborators layers.
//  4. Runtime instance: Queue + Resolver + dispatch Loop pinned to one
//     OS thread, plus a TimerFactoryFactory and a queue-depth sampler
//     service that consumes it.
//  5. Broadcast channel (optional): cross-instance fan-out over
//     watermill, in-process by default or NATS JetStream when
//     configured.
//  6. Boundary collaborators: an HTTP server (health check, metrics,
//     and a WebSocket upgrade endpoint) and the WebSocket hub itself.
//  7. Signal handling: SIGINT/SIGTERM request an orderly quit cascade
//     and the process waits for the supervisor tree to drain.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ichor/internal/broadcast"
	"ichor/internal/collab/httpservice"
	"ichor/internal/collab/metricssampler"
	"ichor/internal/collab/wsservice"
	"ichor/internal/config"
	"ichor/internal/logging"
	"ichor/internal/service"
	"ichor/internal/timer"

	"ichor/internal/runtime"
	"ichor/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("starting ichord")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	in := runtime.New("primary", cfg, logging.Logger())
	tree.AddInstance(in)

	timerIface := service.InterfaceKeyOf[timer.Interface]()
	in.RegisterTimerFactoryFactory(timerIface, cfg.Timer)
	logging.Info().Msg("registered timer factory factory on primary instance")

	in.CreateService(func(id service.ID, gid uuid.UUID) service.Service {
		return metricssampler.New(id, gid, "primary", 15*time.Second, metricssampler.Gauges{
			QueueDepth:     in.Queue().Size,
			ServicesActive: activeServiceCounter(in),
		})
	}, []service.DependencyDescriptor{{Interface: timerIface, Flags: service.Required}})

	var ch *broadcast.Channel
	if cfg.Broadcast.Transport != "" {
		ch, err = broadcast.New(cfg.Broadcast, logging.Logger())
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to initialize broadcast channel")
		}
		tree.AddBroadcastService(broadcast.NewService(ch, in.Queue(), "broadcast-"+cfg.Broadcast.Transport))
		logging.Info().Str("transport", cfg.Broadcast.Transport).Msg("broadcast channel attached")
	}

	wsHub := wsservice.NewHub(in.Queue(), "ws-hub")
	tree.AddCollaboratorService(wsHub)

	router := httpservice.NewRouter(nil)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsservice.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		wsHub.Register(&wsservice.Client{Conn: conn})
	})

	httpServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddCollaboratorService(httpservice.NewService(httpServer, cfg.Supervisor.ShutdownTimeout, "http"))
	logging.Info().Str("addr", httpServer.Addr).Msg("http collaborator added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor tree to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}

	if ch != nil {
		if err := ch.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing broadcast channel")
		}
	}

	logging.Info().Msg("ichord stopped gracefully")
}

// activeServiceCounter returns a closure counting services currently in
// service.Active state across in's resolver, for metricssampler.Gauges.
func activeServiceCounter(in *runtime.Instance) func() int {
	return func() int {
		count := 0
		for _, id := range in.Resolver().AllServiceIDs() {
			mgr, ok := in.Resolver().Manager(id)
			if ok && mgr.State() == service.Active {
				count++
			}
		}
		return count
	}
}
