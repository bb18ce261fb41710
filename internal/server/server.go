package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"feedkeeper/internal/core"
	"feedkeeper/internal/features/follows"
)

type Server struct {
	config   *core.Config
	logger   *core.Logger
	db       *core.Database
	registry *core.Registry
	router   chi.Router
	server   *http.Server
	started  time.Time
}

// New wires the registered features to a router. Nothing runs until Start.
func New(config *core.Config, logger *core.Logger, db *core.Database) (*Server, error) {
	registry := core.NewRegistry(logger)

	// Register features
	if err := registry.Register(follows.NewFeature(logger, db, follows.NewConfig(config))); err != nil {
		return nil, fmt.Errorf("failed to register follows feature: %w", err)
	}

	srv := &Server{
		config:   config,
		logger:   logger,
		db:       db,
		registry: registry,
	}
	srv.setupRouter()
	return srv, nil
}

func (s *Server) setupRouter() {
	// Create router
	mux := chi.NewRouter()

	// Add middleware
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RequestID)
	mux.Use(requestIDToContext)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)

	// Health check
	mux.Get("/health", s.HealthCheckHandler)

	// Process and feature metrics
	mux.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	s.router = mux
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Init initializes every enabled feature and mounts its routes
func (s *Server) Init(ctx context.Context) error {
	if err := s.registry.InitAll(ctx); err != nil {
		return err
	}
	s.registry.MountAll(s.router)
	s.started = time.Now()
	return nil
}

// Start initializes the features and serves HTTP until Shutdown
func (s *Server) Start(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		s.logger.Error("Failed to initialize features", "error", err)
		return err
	}

	// Start HTTP server
	s.logger.Info("Starting server", "host", s.config.Server.Host, "port", s.config.Server.Port)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	// Shutdown all features
	if err := s.registry.ShutdownAll(ctx); err != nil {
		s.logger.Error("Failed to shutdown features", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// HealthCheckHandler reports liveness, database reachability and features
func (s *Server) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingWithTimeout(2 * time.Second); err != nil {
		s.logger.WithContext(r.Context()).Error("Health check database ping failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"features": s.registry.GetFeatureStatus(),
	})
}

// requestIDToContext exposes chi's request id to core.Logger.WithContext
func requestIDToContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), core.RequestIDKey, id))
		}
		next.ServeHTTP(w, r)
	})
}
