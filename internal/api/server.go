package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Solar/internal/analytics"
	"Solar/internal/config"
	"Solar/internal/metrics"
	"Solar/internal/middleware"
	"Solar/internal/runner"
	"Solar/internal/store"
	v1 "Solar/pkg/api/v1"
)

type Server struct {
	config     *config.Config
	manager    *runner.Manager
	store      *store.Store
	tracker    *analytics.Tracker
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a new API server. st, tracker, met and registry may be nil.
func New(
	cfg *config.Config,
	mgr *runner.Manager,
	st *store.Store,
	tracker *analytics.Tracker,
	met *metrics.Metrics,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	return &Server{
		config:   cfg,
		manager:  mgr,
		store:    st,
		tracker:  tracker,
		metrics:  met,
		registry: registry,
		logger:   logger.With("component", "api-server"),
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewLogging(s.logger))
	if s.metrics != nil {
		r.Use(middleware.Instrument(s.metrics))
	}

	r.Get(s.config.Observability.HealthCheckPath, s.handleHealth)
	r.Get(s.config.Observability.ReadinessPath, s.handleReadiness)

	if s.config.Observability.EnableMetrics && s.registry != nil {
		r.Handle(s.config.Observability.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	var events v1.EventReader
	if s.store != nil && s.store.Enabled() {
		events = s.store
	}
	handler := v1.NewHandler(s.manager, s.tracker, events, s.config.Application.ShutdownTimeout)

	r.Route("/api/v1", func(r chi.Router) {
		if s.config.Server.RateLimitRPS > 0 {
			r.Use(middleware.NewRateLimiter(s.config.Server.RateLimitRPS, s.config.Server.RateLimitBurst).Handler)
		}
		r.Use(s.authMiddleware)
		handler.Routes(r)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("starting API server", "address", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleReadiness reports ready once the manager is running and every running
// runner is healthy.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Running() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "runner manager not running",
		})
		return
	}

	if unhealthy := s.manager.HealthSweep(); len(unhealthy) > 0 {
		s.logger.Warn("readiness check failed", "unhealthy", unhealthy)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "not ready",
			"unhealthy": unhealthy,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.config.Server.EnableAuth {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.Header.Get("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}

		if apiKey != s.config.Server.APIKey {
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
	}
}
