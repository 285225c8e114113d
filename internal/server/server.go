// Package server provides CarScout's internal HTTP surface (spec §6):
// a health/readiness endpoint, the inbound entry point scrapers post
// RawListings to, and a live operational event stream. Grounded on
// trader-go/internal/server's chi + cors wiring.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/ingest"
	"github.com/aristath/sentinel/internal/orchestrator"
	"github.com/aristath/sentinel/internal/pipeline"
	"github.com/aristath/sentinel/internal/storage"
)

// Config holds everything the server needs to wire its routes.
type Config struct {
	Port    int
	Log     zerolog.Logger
	Gateway *storage.Gateway
	Ingest  *ingest.Ingestor
	Orch    *orchestrator.Orchestrator
	Bus     *pipeline.Bus
	DevMode bool
	StartedAt time.Time
}

// Server is CarScout's internal HTTP server.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	gw      *storage.Gateway
	ingest  *ingest.Ingestor
	orch    *orchestrator.Orchestrator
	bus     *pipeline.Bus
	started time.Time
}

// New constructs the server and wires its routes.
func New(cfg Config) *Server {
	started := cfg.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}

	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		gw:      cfg.Gateway,
		ingest:  cfg.Ingest,
		orch:    cfg.Orch,
		bus:     cfg.Bus,
		started: started,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the event stream holds the connection open
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/listings", s.handleIngestListing)
		r.Get("/events", s.handleEventStream)
	})
}

// Start starts the HTTP server, blocking until it exits.
func (s *Server) Start() error {
	s.log.Info().Int("port", portFromAddr(s.server.Addr)).Msg("starting internal HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down internal HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func portFromAddr(addr string) int {
	var port int
	_, _ = fmt.Sscanf(addr, ":%d", &port)
	return port
}
