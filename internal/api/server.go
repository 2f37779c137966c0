package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/courtkeeper/courtkeeper/internal/rules"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. repo, cache and bus may be nil.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, resultTTL time.Duration, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, resultTTL, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	if cfg.RateLimitPerSecond > 0 {
		router.Use(NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst).Limit)
	}
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Evaluation
	router.Post("/bookings/evaluate", handler.EvaluateBooking)
	router.Post("/bookings/override", handler.OverrideBooking)
	router.Post("/cancellations/evaluate", handler.EvaluateCancellation)
	router.Get("/evaluations/{id}", handler.GetEvaluation)

	// Rule management
	router.Get("/rules/codes", handler.ListRuleCodes)
	router.Get("/facilities/{id}/rules", handler.ListFacilityRules)
	router.Post("/facilities/{id}/rules", handler.CreateFacilityRule)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
