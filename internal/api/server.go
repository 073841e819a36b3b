// Package api serves the asynchronous pull request analysis HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/pranalysis/internal/jobqueue"
	"github.com/pranalysis/internal/pipeline"
)

// Analyses serves cached reports without running an analysis.
// *pipeline.Orchestrator implements it.
type Analyses interface {
	Lookup(ctx context.Context, repoURL string, prNumber int) (*pipeline.Outcome, bool, error)
}

// TaskQueue schedules background analyses. *jobqueue.JobQueue implements it.
type TaskQueue interface {
	Enqueue(ctx context.Context, repoURL string, prNumber int, skipCacheLookup bool) (string, error)
}

// TaskStore reads task progress. *jobqueue.Store implements it.
type TaskStore interface {
	GetTask(ctx context.Context, taskID string) (*jobqueue.Task, error)
}

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	port     int
	analyses Analyses
	queue    TaskQueue
	tasks    TaskStore
	logger   zerolog.Logger
}

// NewServer creates a new API server
func NewServer(port int, analyses Analyses, queue TaskQueue, tasks TaskStore, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	server := &Server{
		echo:     e,
		port:     port,
		analyses: analyses,
		queue:    queue,
		tasks:    tasks,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(server.requestLogger())
	e.Use(middleware.Recover())

	server.setupRoutes()
	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.health)
	s.echo.POST("/analyze-pr", s.analyzePR)
	s.echo.GET("/status/:task_id", s.getStatus)
	s.echo.GET("/result/:task_id", s.getResult)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				event = s.logger.Error().Err(v.Error)
			}
			event.
				Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("Request")
			return nil
		},
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.port).Msg("Starting API server")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info().Msg("Shutting down API server")
	return s.echo.Shutdown(shutdownCtx)
}
