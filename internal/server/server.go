package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/realtime"
	"github.com/lexiqai/scribe-gateway/internal/stt"
)

// Server is the HTTP front of the gateway
type Server struct {
	cfg      *config.Config
	manager  *realtime.Manager
	handlers *Handlers
	http     *http.Server
}

// New wires routes for the streaming manager, the one-shot endpoints, and
// the health/metrics surface. checks feed the /ready endpoint.
func New(cfg *config.Config, manager *realtime.Manager, transcriber stt.Transcriber, summarizer Summarizer, checks map[string]observability.HealthCheckFunc) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		handlers: &Handlers{
			transcriber: transcriber,
			summarizer:  summarizer,
			store:       manager.Store(),
			tempDir:     cfg.TempDir,
			maxUpload:   cfg.MaxUploadBytes,
		},
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           s.routes(checks),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(checks map[string]observability.HealthCheckFunc) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws/transcribe", s.manager.HandleStream)
	r.Post("/transcribe", s.handlers.Transcribe)
	r.Post("/summary", s.handlers.Summary)
	r.Get("/api/sessions", s.handlers.Sessions)

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(checks))
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks until the server stops. A graceful Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	logger := observability.GetLogger()
	logger.Info().
		Str("port", s.cfg.Port).
		Str("endpoint", s.cfg.StreamEndpoint()).
		Msg("Server listening")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes live streams first, since hijacked connections are not
// tracked by http.Server, then drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.manager.Shutdown(ctx); err != nil {
		logger := observability.GetLogger()
		logger.Warn().Err(err).Msg("Streaming sessions did not stop in time")
	}
	return s.http.Shutdown(ctx)
}
