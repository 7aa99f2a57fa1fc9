// Package server assembles the control-surface HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/partnerops/draftforge/internal/errors"
	"github.com/partnerops/draftforge/internal/server/handlers"
	"github.com/partnerops/draftforge/internal/server/middleware"
)

// Server serves the job-management API and operational endpoints.
type Server struct {
	host   string
	port   int
	logger *zap.Logger
	jobs   *handlers.JobsHandler

	httpServer *http.Server
}

func New(host string, port int) *Server {
	return &Server{
		host:   host,
		port:   port,
		logger: zap.NewNop(),
	}
}

// WithLogger sets the request logger.
func (s *Server) WithLogger(logger *zap.Logger) *Server {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithJobs mounts the jobs API.
func (s *Server) WithJobs(h *handlers.JobsHandler) *Server {
	s.jobs = h
	return s
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging(s.logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteEnvelope(w, http.StatusNotFound, apperrors.HTTPError{
			Code:      apperrors.CodeNotFound,
			Message:   fmt.Sprintf("no route for %s %s", req.Method, req.URL.Path),
			RequestID: middleware.GetRequestID(req.Context()),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteEnvelope(w, http.StatusMethodNotAllowed, apperrors.HTTPError{
			Code:      apperrors.CodeMethodNotAllowed,
			Message:   fmt.Sprintf("method %s not allowed for %s", req.Method, req.URL.Path),
			RequestID: middleware.GetRequestID(req.Context()),
		})
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.jobs != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.jobs.Create)
			r.Get("/", s.jobs.List)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.jobs.Get)
				r.Post("/start", s.jobs.Start)
				r.Post("/stop", s.jobs.Stop)
				r.Get("/logs", s.jobs.Logs)
			})
		})
	}

	return r
}

// Start serves until the context is cancelled, then drains.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.logger.Info("Server listening", zap.String("addr", s.httpServer.Addr))

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
