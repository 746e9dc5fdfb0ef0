// Package server provides the HTTP surface of the outline engine,
// built on Echo v4: container management, the command endpoint, tree
// reads, and the websocket event stream.
package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/showdeck/outline-engine/internal/config"
	"github.com/showdeck/outline-engine/internal/engine"
	"github.com/showdeck/outline-engine/internal/events"
	"github.com/showdeck/outline-engine/internal/logging"
	"github.com/showdeck/outline-engine/internal/repository"
)

// Server wraps the Echo instance and application dependencies.
type Server struct {
	echo       *echo.Echo
	cfg        *config.Config
	store      repository.Store
	dispatcher *engine.Dispatcher
	bus        *events.Bus
	log        zerolog.Logger
}

// New creates a configured Echo server with all routes registered.
// registry may be nil to skip the /metrics endpoint.
func New(cfg *config.Config, store repository.Store, dispatcher *engine.Dispatcher, bus *events.Bus, registry *prometheus.Registry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true // We log the listen address ourselves.

	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		log:        logging.WithComponent("server"),
	}

	s.registerRoutes()
	if registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler exposes the underlying HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins listening for HTTP requests. It blocks until the context
// is cancelled, then performs a graceful shutdown allowing in-flight
// requests to complete.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("listening")
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info().Msg("shutting down HTTP server")
		return s.echo.Shutdown(context.Background())
	}
}
