// Package server exposes the recommendation engine over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/raphaelgruber/movie-recommender/internal/metrics"
	"github.com/raphaelgruber/movie-recommender/internal/service"
)

// Defaults applied when Options leave a field unset.
const (
	DefaultRateLimit      = 120
	DefaultRequestTimeout = 60 * time.Second
)

// Options configures the HTTP server.
type Options struct {
	// RateLimit is the number of recommend requests allowed per IP and minute.
	RateLimit int
	// RequestTimeout bounds every recommend call.
	RequestTimeout time.Duration

	Collector  *metrics.Collector
	Prometheus *metrics.Prometheus
	Logger     *slog.Logger
}

// Server wires the recommender to a chi router.
type Server struct {
	rec      *service.Recommender
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates a server for rec.
func New(rec *service.Recommender, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		rec:      rec,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Router builds the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(LoggingMiddleware(s.logger, s.opts.Prometheus))
	r.Use(chimiddleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
		r.Post("/recommend", s.handleRecommend)
		r.Post("/recommend/similar", s.handleSimilar)
	})

	r.Get("/titles", s.handleTitles)
	r.Get("/models", s.handleModels)
	r.Post("/reload", s.handleReload)
	r.Get("/cache", s.handleCacheKeys)
	r.Post("/cache/clear", s.handleCacheClear)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/embeddings", s.handleStartEmbeddingJob)
		r.Get("/{id}", s.handleGetJob)
	})

	r.Get("/stats", s.handleStats)
	r.Method(http.MethodGet, "/metrics", s.opts.Prometheus.Handler())

	return r
}
