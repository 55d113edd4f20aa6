// Package api exposes interviews over HTTP.
//
// The REST routes create and drive interviews; the media route upgrades to a
// websocket that carries the candidate's microphone audio in and narration,
// control messages and interview events out.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/intervox/internal/app"
	"github.com/MrWong99/intervox/internal/health"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/store"
)

// maxPhotoBytes bounds a live photo upload.
const maxPhotoBytes = 5 << 20

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option { return func(s *Server) { s.health = h } }

// WithMetrics records HTTP request metrics and spans.
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metricsHandler = h } }

// WithAllowedOrigins sets extra host patterns accepted on the media websocket.
func WithAllowedOrigins(patterns []string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server routes HTTP requests to interviews.
type Server struct {
	router         *chi.Mux
	interviews     *app.Manager
	results        store.Store
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	origins        []string
}

// New builds the router.
func New(interviews *app.Manager, results store.Store, opts ...Option) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		interviews: interviews,
		results:    results,
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	if s.metrics != nil {
		s.router.Use(observe.Middleware(s.metrics))
	}

	if s.health != nil {
		s.health.Mount(s.router)
	}
	if s.metricsHandler != nil {
		s.router.Handle("/metrics", s.metricsHandler)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/interviews", s.handleCreate)
		r.Route("/interviews/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Get("/media", s.handleMedia)
			r.Post("/photo", s.handlePhoto)
			r.Post("/start", s.handleStart)
			r.Post("/answers", s.handleAnswer)
			r.Put("/draft", s.handleDraft)
			r.Post("/violations", s.handleViolation)
			r.Post("/end", s.handleEnd)
		})
		r.Get("/results/{id}", s.handleResult)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
