package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/voxsub/subgen/internal/config"
	"github.com/voxsub/subgen/internal/jobstore"
	"github.com/voxsub/subgen/internal/metrics"
	"github.com/voxsub/subgen/internal/pipeline"
	"github.com/voxsub/subgen/internal/storage"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions carries the wired components the HTTP layer fronts.
type ServerOptions struct {
	Config    *config.Config
	Jobs      *jobstore.Store
	Pool      Enqueuer
	Store     storage.Store
	Bus       *pipeline.Bus
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Health and metrics endpoints skip auth so probes and scrapers
	// work without credentials.
	health := NewHealthHandler(opts.Jobs, opts.Store, opts.Pool, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	jobs := NewJobsHandler(opts.Jobs, opts.Pool, opts.Store, cfg.MaxUploadBytes, opts.Log)
	events := NewEventsHandler(opts.Bus)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		jobs.Routes(r)
		events.Routes(r)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// Handler returns the fully assembled router, middleware included.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
