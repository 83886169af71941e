// Package httpservice adapts a chi-based HTTP server into a
// suture.Service, the HTTP boundary collaborator of spec.md §6. It is
// hosted by the supervisor tree; it does not register with a runtime
// instance's resolver and pushes no events.
package httpservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server matches *http.Server's lifecycle methods, letting Service work
// against a fake in tests without depending on net/http directly.
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Service wraps an HTTP server as a supervised collaborator. It
// translates http.Server's blocking ListenAndServe into suture's
// context-aware Serve contract: start in a goroutine, wait for context
// cancellation or a server error, then call Shutdown with the
// configured timeout.
type Service struct {
	server          Server
	shutdownTimeout time.Duration
	name            string
}

// NewService wraps server as a supervised collaborator named name.
func NewService(server Server, shutdownTimeout time.Duration, name string) *Service {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	if name == "" {
		name = "http-server"
	}
	return &Service{server: server, shutdownTimeout: shutdownTimeout, name: name}
}

// NewRouter builds the chi router conventionally used as the handler for
// a Server: request-id and recover middleware plus permissive CORS
// suitable for a same-origin collaborator talking to a runtime instance.
func NewRouter(allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	return r
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture's event log.
func (s *Service) String() string { return s.name }
