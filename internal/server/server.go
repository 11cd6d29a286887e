// Package server is the composition root: it builds every component from
// the configuration, wires them to routes and owns their shutdown.
//
// DEPENDENCY GRAPH:
//
//	config ─┬─ DocumentStore (sqlite | redis)
//	        ├─ Executor (piston | docker) → Dispatcher
//	        ├─ Session Registry
//	        └─ Hub(store, registry, dispatcher) ─┬─ gateway (/ws)
//	                                             └─ RoomService → RoomHandler (/api)
//
// Nothing below this package constructs its own dependencies, so every
// component can be tested with fakes.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peerbajaj/collab/internal/auth"
	"github.com/peerbajaj/collab/internal/collab"
	"github.com/peerbajaj/collab/internal/config"
	"github.com/peerbajaj/collab/internal/executor"
	"github.com/peerbajaj/collab/internal/executor/docker"
	"github.com/peerbajaj/collab/internal/executor/piston"
	"github.com/peerbajaj/collab/internal/gateway"
	"github.com/peerbajaj/collab/internal/handler"
	"github.com/peerbajaj/collab/internal/metrics"
	"github.com/peerbajaj/collab/internal/middleware"
	"github.com/peerbajaj/collab/internal/repository"
	redisRepo "github.com/peerbajaj/collab/internal/repository/redis"
	sqliteRepo "github.com/peerbajaj/collab/internal/repository/sqlite"
	"github.com/peerbajaj/collab/internal/service"
	"github.com/peerbajaj/collab/internal/session"
)

// store is what the server needs from a Document Store backend.
type store interface {
	repository.DocumentStore
	handler.Pinger
	io.Closer
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store connection, the executor (which may hold
// Docker containers) and the hub (which holds unsaved edits). Shutdown
// releases them in dependency order: hub first so its final writes reach
// a still-open store.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	store    store
	executor io.Closer
	hub      *collab.Hub
	registry *prometheus.Registry
}

// New builds every component described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		store:    st,
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(s.registry)

	exec := s.openExecutor(cfg)
	dispatcher := executor.NewDispatcher(exec, cfg.ExecTimeout, logger, m)

	s.hub = collab.NewHub(collab.Options{
		Store:    st,
		Registry: session.NewRegistry(),
		Runner:   dispatcher,
		Logger:   logger,
		Metrics:  m,
		Debounce: cfg.PersistDebounce,
	})

	var tokens *auth.TokenService
	if cfg.JWTSecret != "" {
		tokens, err = auth.NewTokenService(cfg.JWTSecret)
		if err != nil {
			s.closeResources(ctx)
			return nil, fmt.Errorf("creating token service: %w", err)
		}
	} else {
		logger.Warn("JWT_SECRET not set: profile tokens are ignored and display names come from clients")
	}

	s.setupRoutes(tokens, dispatcher, m)
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		st, err := redisRepo.New(ctx, redisRepo.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("opening redis store: %w", err)
		}
		logger.Info("document store ready", slog.String("backend", "redis"), slog.String("addr", cfg.RedisAddr))
		return st, nil

	default:
		if cfg.DBPath != ":memory:" {
			// os.MkdirAll is `mkdir -p`: a fresh checkout has no data/ yet.
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		st, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		logger.Info("document store ready", slog.String("backend", "sqlite"), slog.String("path", cfg.DBPath))
		return st, nil
	}
}

// openExecutor returns nil when the Docker backend is selected but the
// daemon is unavailable. The server still starts; every compile then
// answers with an error message instead of output.
func (s *Server) openExecutor(cfg *config.Config) executor.Executor {
	if cfg.ExecutorBackend == config.ExecutorDocker {
		dcfg := docker.DefaultConfig()
		dcfg.Timeout = cfg.ExecTimeout
		d, err := docker.New(dcfg, s.logger)
		if err != nil {
			s.logger.Warn("docker executor unavailable, compile requests will fail",
				slog.String("error", err.Error()),
			)
			return nil
		}
		s.executor = d
		s.logger.Info("executor ready", slog.String("backend", "docker"), slog.Any("languages", d.Languages()))
		return d
	}

	s.logger.Info("executor ready", slog.String("backend", "piston"), slog.String("url", cfg.PistonURL))
	return piston.New(cfg.PistonURL, s.logger)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /ws                               → WebSocket gateway
//	GET  /api/rooms/{roomId}               → room document (live or stored)
//	GET  /api/rooms/{roomId}/participants  → live participants
//	GET  /api/languages                    → supported languages
//	POST /api/execute                      → one-shot execution
//	GET  /healthz, /readyz                 → probes
//	GET  /metrics                          → Prometheus exposition
//
// MIDDLEWARE ORDER MATTERS:
// RequestID runs first so the access log and every later layer can see
// the id. Recoverer sits inside Logger so a panic is logged as a 500.
func (s *Server) setupRoutes(tokens *auth.TokenService, runner handler.Runner, m *metrics.Metrics) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	health := handler.NewHealthHandler(s.hub.RoomCount, s.hub.Registry().Count)
	ready := handler.NewReadyHandler(s.store, s.logger)
	s.router.Get("/healthz", health.HandleHealth)
	s.router.Get("/readyz", ready.HandleReady)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	ws := gateway.New(gateway.Options{
		Hub:            s.hub,
		Logger:         s.logger,
		Metrics:        m,
		RateLimit:      s.config.WSRateLimit,
		RateBurst:      s.config.WSRateBurst,
		AllowedOrigins: s.config.AllowedOrigins,
	})
	s.router.With(auth.OptionalAuth(tokens)).Get("/ws", ws.ServeHTTP)

	rooms := handler.NewRoomHandler(
		service.NewRoomService(s.hub, s.hub.Registry(), s.store, s.logger),
		s.logger,
	)
	execute := handler.NewExecuteHandler(runner, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/rooms/{roomId}", rooms.HandleGet)
		r.Get("/rooms/{roomId}/participants", rooms.HandleParticipants)
		r.Get("/languages", rooms.HandleLanguages)
		r.Post("/execute", execute.HandleExecute)
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP requests and wait for in-flight ones
//  2. Close the hub: every room with unsaved edits is written now
//  3. Release the executor and the store
//
// Everything shares one SHUTDOWN_TIMEOUT budget.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		s.closeResources(context.Background())
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

// Close flushes every room and releases the executor and the store.
// Start calls it on shutdown; tests call it directly.
func (s *Server) Close(ctx context.Context) error {
	return s.closeResources(ctx)
}

func (s *Server) closeResources(ctx context.Context) error {
	var errs []error
	if s.hub != nil {
		if err := s.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing rooms: %w", err))
		}
	}
	if s.executor != nil {
		if err := s.executor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing executor: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}
