package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pranalysis/internal/apperr"
	"github.com/pranalysis/internal/jobqueue"
	"github.com/pranalysis/pkg/models"
)

// AnalyzePRRequest is the body of POST /analyze-pr
type AnalyzePRRequest struct {
	RepoURL  string `json:"repo_url"`
	PRNumber int    `json:"pr_number"`
	NoCache  bool   `json:"no_cache,omitempty"`
}

// TaskCreationResponse is returned when an analysis was queued
type TaskCreationResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// CachedResultResponse is returned when a report for the current head
// revision is already cached
type CachedResultResponse struct {
	Cached  bool                   `json:"cached"`
	Message string                 `json:"message"`
	Result  *models.AnalysisReport `json:"result"`
}

// TaskStatusResponse describes a task's progress
type TaskStatusResponse struct {
	TaskID string         `json:"task_id"`
	Status string         `json:"status"`
	Stage  string         `json:"stage,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// TaskResultResponse carries a finished task's report
type TaskResultResponse struct {
	TaskID  string                 `json:"task_id"`
	Status  string                 `json:"status"`
	Results *models.AnalysisReport `json:"results"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) analyzePR(c echo.Context) error {
	var req AnalyzePRRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "Invalid request body"})
	}
	req.RepoURL = strings.TrimSpace(req.RepoURL)
	if req.RepoURL == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "repo_url is required"})
	}
	if req.PRNumber <= 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "pr_number must be a positive integer"})
	}

	ctx := c.Request().Context()
	logger := s.logger.With().Str("repo_url", req.RepoURL).Int("pr_number", req.PRNumber).Logger()

	if !req.NoCache {
		outcome, found, err := s.analyses.Lookup(ctx, req.RepoURL, req.PRNumber)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to look up PR")
			return c.JSON(statusFor(err), ErrorResponse{Detail: err.Error()})
		}
		if found {
			logger.Info().Str("revision", outcome.HeadRevision).Msg("Found cached analysis result")
			return c.JSON(http.StatusOK, CachedResultResponse{
				Cached:  true,
				Message: fmt.Sprintf("Cached result found for %s:%d:%s", req.RepoURL, req.PRNumber, outcome.HeadRevision),
				Result:  outcome.Report,
			})
		}
	}

	taskID, err := s.queue.Enqueue(ctx, req.RepoURL, req.PRNumber, req.NoCache)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to queue analysis")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "Failed to start analysis"})
	}

	return c.JSON(http.StatusAccepted, TaskCreationResponse{
		Status:  "TASK_STARTED",
		Message: "Analysis has been started in the background.",
		TaskID:  taskID,
	})
}

func (s *Server) getStatus(c echo.Context) error {
	taskID := c.Param("task_id")
	task, err := s.tasks.GetTask(c.Request().Context(), taskID)
	if errors.Is(err, jobqueue.ErrTaskNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Detail: "Task ID not found."})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to load task")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "Failed to load task"})
	}

	return c.JSON(http.StatusOK, TaskStatusResponse{
		TaskID: task.ID,
		Status: task.Status,
		Stage:  task.Stage,
		Meta:   task.Meta,
	})
}

func (s *Server) getResult(c echo.Context) error {
	taskID := c.Param("task_id")
	task, err := s.tasks.GetTask(c.Request().Context(), taskID)
	if errors.Is(err, jobqueue.ErrTaskNotFound) || (err == nil && !task.Done()) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Detail: "Task is not yet complete or does not exist."})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to load task")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "Failed to load task"})
	}

	if task.Status == jobqueue.StatusFailure {
		msg := task.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "Task failed: " + msg})
	}

	return c.JSON(http.StatusOK, TaskResultResponse{
		TaskID:  task.ID,
		Status:  task.Status,
		Results: task.Result,
	})
}

// statusFor maps a lookup failure onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
