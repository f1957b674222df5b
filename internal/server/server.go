// Package server provides the HTTP API for Deckwarden: change-event intake,
// scheduled task management, analysis results, maintenance reporting, and the
// SSE event stream.
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

	"github.com/mleone/deckwarden/internal/analysis/portfolio"
	"github.com/mleone/deckwarden/internal/analysis/suggestions"
	"github.com/mleone/deckwarden/internal/database"
	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/events"
	"github.com/mleone/deckwarden/internal/jobs"
	"github.com/mleone/deckwarden/internal/results"
	"github.com/mleone/deckwarden/internal/tasks"
	"github.com/mleone/deckwarden/internal/triggers"
)

// MaintenanceRunner triggers the daily maintenance pass on demand.
// Implemented by reliability.Housekeeper.
type MaintenanceRunner interface {
	RunDailyBackup(ctx context.Context) error
}

// Deps holds everything the HTTP layer needs. All fields are required unless
// noted.
type Deps struct {
	Log       zerolog.Logger
	Bus       *events.Bus
	Databases map[string]*database.DB

	Tasks       *tasks.Repository
	Results     *results.Repository
	Decks       *decks.Repository
	Triggers    *triggers.Service
	Suggestions *suggestions.Engine
	Portfolio   *portfolio.Optimizer
	Reporter    *jobs.Reporter
	Maintenance MaintenanceRunner // optional; nil disables POST /api/system/backup

	Port    int
	DevMode bool
}

// Server is the HTTP server.
type Server struct {
	deps        Deps
	log         zerolog.Logger
	router      *chi.Mux
	httpServer  *http.Server
	startupTime time.Time
}

// New creates a new server with routing and middleware configured.
func New(deps Deps) *Server {
	s := &Server{
		deps:        deps,
		log:         deps.Log.With().Str("component", "server").Logger(),
		router:      chi.NewRouter(),
		startupTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !s.deps.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all API routes. The SSE stream is registered first,
// outside the timeout middleware, because it holds its connection open.
func (s *Server) setupRoutes() {
	streamHandler := NewEventsStreamHandler(s.deps.Bus, s.log)
	s.router.Get("/api/events/stream", streamHandler.ServeHTTP)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/api", func(r chi.Router) {
			r.Post("/events", s.handleSubmitEvent)

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", s.handleCreateTask)
				r.Get("/", s.handleListTasks)
				r.Get("/{id}", s.handleGetTask)
				r.Put("/{id}", s.handleUpdateTask)
				r.Put("/{id}/active", s.handleSetTaskActive)
				r.Delete("/{id}", s.handleDeleteTask)
			})

			r.Get("/decks/{id}/suggestions", s.handleDeckSuggestions)
			r.Post("/suggestions/{id}/feedback", s.handleSuggestionFeedback)
			r.Get("/users/{id}/portfolio", s.handleUserPortfolio)
			r.Get("/maintenance/report", s.handleMaintenanceReport)

			r.Route("/system", func(r chi.Router) {
				r.Get("/health", s.handleSystemHealth)
				r.Post("/backup", s.handleTriggerBackup)
			})
		})
	})
}

// Start begins listening for HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs each request with timing and status.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}
