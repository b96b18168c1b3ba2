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

	"github.com/mwalther/belegmatch/internal/database"
	"github.com/mwalther/belegmatch/internal/events"
	"github.com/mwalther/belegmatch/internal/modules/reconcile"
	"github.com/mwalther/belegmatch/internal/modules/rules"
	"github.com/mwalther/belegmatch/internal/modules/settlement"
	"github.com/mwalther/belegmatch/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Port       int
	Log        zerolog.Logger
	DB         *database.DB
	Reconciler *reconcile.Service
	Rules      *rules.Repository
	Postings   *settlement.Repository
	ImportJob  *scheduler.SettlementImportJob
	Events     *events.Manager
	DevMode    bool
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	db         *database.DB
	reconciler *reconcile.Service
	rules      *rules.Repository
	postings   *settlement.Repository
	importJob  *scheduler.SettlementImportJob
	events     *events.Manager
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		db:         cfg.DB,
		reconciler: cfg.Reconciler,
		rules:      cfg.Rules,
		postings:   cfg.Postings,
		importJob:  cfg.ImportJob,
		events:     cfg.Events,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.Get("/health", s.handleHealth)

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
		})

		r.Route("/reconcile", func(r chi.Router) {
			r.Post("/run", s.handleReconcileRun)
			r.Get("/stats", s.handleReconcileStats)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/feedback", s.handleFeedback)
			r.Get("/history/{transactionID}", s.handleRuleHistory)
		})

		r.Route("/settlement", func(r chi.Router) {
			r.Post("/import", s.handleSettlementImport)
			r.Get("/postings", s.handleListPostings)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
