package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pranalysis/internal/apperr"
	"github.com/pranalysis/internal/jobqueue"
	"github.com/pranalysis/internal/pipeline"
	"github.com/pranalysis/pkg/models"
)

type mockAnalyses struct {
	mock.Mock
}

func (m *mockAnalyses) Lookup(ctx context.Context, repoURL string, prNumber int) (*pipeline.Outcome, bool, error) {
	args := m.Called(ctx, repoURL, prNumber)
	outcome, _ := args.Get(0).(*pipeline.Outcome)
	return outcome, args.Bool(1), args.Error(2)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, repoURL string, prNumber int, skipCacheLookup bool) (string, error) {
	args := m.Called(ctx, repoURL, prNumber, skipCacheLookup)
	return args.String(0), args.Error(1)
}

type memTasks map[string]*jobqueue.Task

func (m memTasks) GetTask(ctx context.Context, taskID string) (*jobqueue.Task, error) {
	if taskID == "broken" {
		return nil, errors.New("connection reset")
	}
	task, ok := m[taskID]
	if !ok {
		return nil, jobqueue.ErrTaskNotFound
	}
	return task, nil
}

const repoURL = "https://github.com/acme/widgets"

func sampleReport() *models.AnalysisReport {
	report := &models.AnalysisReport{Files: []models.FileAnalysis{{
		Name:   "main.go",
		Issues: []models.Issue{{Type: "bug", Line: 10, Description: "nil deref", Suggestion: "check err"}},
	}}}
	report.Normalize()
	return report
}

func newTestServer(analyses Analyses, queue TaskQueue, tasks TaskStore) *Server {
	return NewServer(0, analyses, queue, tasks, zerolog.Nop())
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&mockAnalyses{}, &mockQueue{}, memTasks{}), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAnalyzePRCachedResult(t *testing.T) {
	analyses := &mockAnalyses{}
	queue := &mockQueue{}
	report := sampleReport()
	analyses.On("Lookup", mock.Anything, repoURL, 7).
		Return(&pipeline.Outcome{Report: report, HeadRevision: "abc123", Cached: true}, true, nil)

	rec := do(t, newTestServer(analyses, queue, memTasks{}), http.MethodPost, "/analyze-pr",
		fmt.Sprintf(`{"repo_url": %q, "pr_number": 7}`, repoURL))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CachedResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, "Cached result found for https://github.com/acme/widgets:7:abc123", resp.Message)
	assert.Equal(t, report, resp.Result)
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyzePREnqueuesOnMiss(t *testing.T) {
	analyses := &mockAnalyses{}
	queue := &mockQueue{}
	analyses.On("Lookup", mock.Anything, repoURL, 7).
		Return(&pipeline.Outcome{HeadRevision: "abc123"}, false, nil)
	queue.On("Enqueue", mock.Anything, repoURL, 7, false).Return("task-1", nil)

	rec := do(t, newTestServer(analyses, queue, memTasks{}), http.MethodPost, "/analyze-pr",
		fmt.Sprintf(`{"repo_url": %q, "pr_number": 7}`, repoURL))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"TASK_STARTED","message":"Analysis has been started in the background.","task_id":"task-1"}`, rec.Body.String())
	queue.AssertExpectations(t)
}

func TestAnalyzePRNoCacheSkipsLookup(t *testing.T) {
	analyses := &mockAnalyses{}
	queue := &mockQueue{}
	queue.On("Enqueue", mock.Anything, repoURL, 7, true).Return("task-2", nil)

	rec := do(t, newTestServer(analyses, queue, memTasks{}), http.MethodPost, "/analyze-pr",
		fmt.Sprintf(`{"repo_url": %q, "pr_number": 7, "no_cache": true}`, repoURL))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	analyses.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalyzePRLookupErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", &apperr.RevisionResolutionError{RepoURL: repoURL, PRNumber: 7, Err: fmt.Errorf("%w: 404", apperr.ErrNotFound)}, http.StatusNotFound},
		{"auth", &apperr.RevisionResolutionError{RepoURL: repoURL, PRNumber: 7, Err: fmt.Errorf("%w: 401", apperr.ErrAuth)}, http.StatusUnauthorized},
		{"network", &apperr.RevisionResolutionError{RepoURL: repoURL, PRNumber: 7, Err: fmt.Errorf("%w: timeout", apperr.ErrNetwork)}, http.StatusBadGateway},
		{"invalid url", &apperr.RevisionResolutionError{RepoURL: repoURL, PRNumber: 7, Err: fmt.Errorf("%w: bad", apperr.ErrInvalidRequest)}, http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyses := &mockAnalyses{}
			queue := &mockQueue{}
			analyses.On("Lookup", mock.Anything, repoURL, 7).Return(nil, false, tt.err)

			rec := do(t, newTestServer(analyses, queue, memTasks{}), http.MethodPost, "/analyze-pr",
				fmt.Sprintf(`{"repo_url": %q, "pr_number": 7}`, repoURL))

			assert.Equal(t, tt.code, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.err.Error(), resp.Detail)
			queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAnalyzePRBadRequests(t *testing.T) {
	bodies := []string{
		`{"repo_url": "", "pr_number": 7}`,
		`{"repo_url": "https://github.com/acme/widgets", "pr_number": 0}`,
		`{"repo_url": "https://github.com/acme/widgets", "pr_number": "seven"}`,
		`not json`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			rec := do(t, newTestServer(&mockAnalyses{}, &mockQueue{}, memTasks{}), http.MethodPost, "/analyze-pr", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAnalyzePREnqueueFailure(t *testing.T) {
	analyses := &mockAnalyses{}
	queue := &mockQueue{}
	analyses.On("Lookup", mock.Anything, repoURL, 7).Return(&pipeline.Outcome{}, false, nil)
	queue.On("Enqueue", mock.Anything, repoURL, 7, false).Return("", errors.New("db down"))

	rec := do(t, newTestServer(analyses, queue, memTasks{}), http.MethodPost, "/analyze-pr",
		fmt.Sprintf(`{"repo_url": %q, "pr_number": 7}`, repoURL))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetStatus(t *testing.T) {
	tasks := memTasks{
		"t1": {ID: "t1", Status: "ANALYZING", Stage: pipeline.StageAnalyzing, Meta: pipeline.Metadata{"files": float64(2)}},
	}
	s := newTestServer(&mockAnalyses{}, &mockQueue{}, tasks)

	rec := do(t, s, http.MethodGet, "/status/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"task_id":"t1","status":"ANALYZING","stage":"Analyzing PR with AI Crew","meta":{"files":2}}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/status/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Task ID not found."}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/status/broken", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetResult(t *testing.T) {
	report := sampleReport()
	tasks := memTasks{
		"done":    {ID: "done", Status: jobqueue.StatusSuccess, Result: report},
		"running": {ID: "running", Status: "FETCHING"},
		"failed":  {ID: "failed", Status: jobqueue.StatusFailure, Error: "analysis failed: quota"},
	}
	s := newTestServer(&mockAnalyses{}, &mockQueue{}, tasks)

	rec := do(t, s, http.MethodGet, "/result/done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TaskResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "done", resp.TaskID)
	assert.Equal(t, jobqueue.StatusSuccess, resp.Status)
	assert.Equal(t, report, resp.Results)

	rec = do(t, s, http.MethodGet, "/result/running", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/result/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/result/failed", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"Task failed: analysis failed: quota"}`, rec.Body.String())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("wrapped: %w", apperr.ErrNotFound)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("other")))
}
