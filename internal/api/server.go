// Package api exposes the event ingest and query surface over HTTP. The OS
// observer posts mechanical events here; the UI surface posts choices and
// session-end signals back.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/intentgate/internal/scheduler"
	"github.com/goodtune/intentgate/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Server represents the API HTTP server.
type Server struct {
	service  *scheduler.Service
	store    storage.Store
	server   *http.Server
	router   *mux.Router
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(addr string, service *scheduler.Service, store storage.Store, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		service: service,
		store:   store,
		router:  router,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/events", s.handleEvent).Methods("POST")
	v1.HandleFunc("/choices", s.handleChoice).Methods("POST")
	v1.HandleFunc("/session/end", s.handleSessionEnd).Methods("POST")
	v1.HandleFunc("/state", s.handleState).Methods("GET")
	v1.HandleFunc("/decisions", s.handleDecisions).Methods("GET")
}

// SetListener sets a pre-bound listener (socket activation).
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("API server listening on activated socket")
			err = s.server.Serve(s.listener)
		} else {
			s.logger.Info().Str("addr", s.server.Addr).Msg("API server listening")
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server failed")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the underlying router (for tests).
func (s *Server) Handler() http.Handler {
	return s.router
}

// LoggingMiddleware creates middleware for logging HTTP requests.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("API request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
