/*
Package jobqueue runs pull request analyses in the background on a River
queue backed by PostgreSQL, and records their progress in analysis_jobs.

For configuration options and retry tuning, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"

	"github.com/pranalysis/internal/apperr"
	"github.com/pranalysis/internal/diff"
	"github.com/pranalysis/internal/pipeline"
	"github.com/pranalysis/pkg/models"
)

// finalWriteTimeout bounds the status write after a job ends, which runs
// even when the job context is already done.
const finalWriteTimeout = 10 * time.Second

// AnalyzePRArgs represents the arguments for an analysis job
type AnalyzePRArgs struct {
	TaskID          string `json:"task_id"`
	RepoURL         string `json:"repo_url"`
	PRNumber        int    `json:"pr_number"`
	SkipCacheLookup bool   `json:"skip_cache_lookup,omitempty"`
}

// Kind returns the job kind for River
func (AnalyzePRArgs) Kind() string {
	return "analyze_pr"
}

// Runner executes one analysis. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// TaskRecorder is the part of the Store the worker writes to
type TaskRecorder interface {
	UpdateProgress(ctx context.Context, taskID, status, stage string, meta pipeline.Metadata) error
	SaveResult(ctx context.Context, taskID string, report *models.AnalysisReport, meta pipeline.Metadata) error
	SaveFailure(ctx context.Context, taskID, errMsg string) error
}

// AnalyzePRWorker handles analysis jobs
type AnalyzePRWorker struct {
	river.WorkerDefaults[AnalyzePRArgs]
	runner  Runner
	tasks   TaskRecorder
	timeout time.Duration
	logger  zerolog.Logger
}

// NewAnalyzePRWorker creates the worker for analyze_pr jobs
func NewAnalyzePRWorker(runner Runner, tasks TaskRecorder, timeout time.Duration, logger zerolog.Logger) *AnalyzePRWorker {
	return &AnalyzePRWorker{
		runner:  runner,
		tasks:   tasks,
		timeout: timeout,
		logger:  logger.With().Str("component", "worker").Logger(),
	}
}

// Timeout caps a single attempt
func (w *AnalyzePRWorker) Timeout(*river.Job[AnalyzePRArgs]) time.Duration {
	return w.timeout
}

// Work runs the analysis pipeline and records the outcome. Failures that
// cannot succeed on retry cancel the job.
func (w *AnalyzePRWorker) Work(ctx context.Context, job *river.Job[AnalyzePRArgs]) error {
	args := job.Args
	logger := w.logger.With().
		Str("task_id", args.TaskID).
		Int64("job_id", job.ID).
		Str("repo_url", args.RepoURL).
		Int("pr_number", args.PRNumber).
		Int("attempt", job.Attempt).
		Logger()

	logger.Info().Msg("Processing analysis job")

	outcome, err := w.runner.Run(ctx, pipeline.Request{
		RepoURL:         args.RepoURL,
		PRNumber:        args.PRNumber,
		Reporter:        &taskReporter{tasks: w.tasks, taskID: args.TaskID, logger: logger},
		SkipCacheLookup: args.SkipCacheLookup,
	})

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	if err != nil {
		permanent := isPermanent(err)
		if permanent || job.Attempt >= job.MaxAttempts {
			logger.Error().Err(err).Bool("permanent", permanent).Msg("Analysis failed")
			if saveErr := w.tasks.SaveFailure(writeCtx, args.TaskID, err.Error()); saveErr != nil {
				logger.Error().Err(saveErr).Msg("Failed to record task failure")
			}
		} else {
			logger.Warn().Err(err).Msg("Analysis failed, will retry")
			meta := pipeline.Metadata{"error": err.Error(), "attempt": job.Attempt}
			if saveErr := w.tasks.UpdateProgress(writeCtx, args.TaskID, StatusRetrying, "", meta); saveErr != nil {
				logger.Error().Err(saveErr).Msg("Failed to record task retry")
			}
		}

		if permanent {
			return river.JobCancel(err)
		}
		return err
	}

	meta := pipeline.Metadata{
		"cached":        outcome.Cached,
		"head_revision": outcome.HeadRevision,
		"cache_key":     outcome.CacheKey,
	}
	if err := w.tasks.SaveResult(writeCtx, args.TaskID, outcome.Report, meta); err != nil {
		logger.Error().Err(err).Msg("Failed to save analysis result")
		return fmt.Errorf("failed to save analysis result: %w", err)
	}

	logger.Info().
		Bool("cached", outcome.Cached).
		Int("total_issues", outcome.Report.Summary.TotalIssues).
		Msg("Analysis job completed")
	return nil
}

func isPermanent(err error) bool {
	var formatErr *diff.FormatError
	return apperr.IsPermanent(err) || errors.As(err, &formatErr)
}

// taskReporter writes pipeline progress to the task row. Final states are
// left to the worker, which knows whether the job will be retried.
type taskReporter struct {
	tasks  TaskRecorder
	taskID string
	logger zerolog.Logger
}

func (r *taskReporter) Report(ctx context.Context, state pipeline.State, meta pipeline.Metadata) {
	if state.Terminal() {
		return
	}
	stage, _ := meta["stage"].(string)
	if err := r.tasks.UpdateProgress(ctx, r.taskID, string(state), stage, meta); err != nil {
		r.logger.Warn().Err(err).Str("state", string(state)).Msg("Failed to record task progress")
	}
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	store  *Store
	config *QueueConfig
	logger zerolog.Logger
}

// New creates a job queue whose workers run analyses with runner
func New(pool *pgxpool.Pool, runner Runner, config *QueueConfig, logger zerolog.Logger) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store := NewStore(pool)

	workers := river.NewWorkers()
	river.AddWorker(workers, NewAnalyzePRWorker(runner, store, config.JobTimeout, logger))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
		JobTimeout:  config.JobTimeout,
		RetryPolicy: config.RetryPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		store:  store,
		config: config,
		logger: logger.With().Str("component", "jobqueue").Logger(),
	}, nil
}

// Store returns the task store backing the queue
func (jq *JobQueue) Store() *Store {
	return jq.store
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	jq.logger.Info().Int("max_workers", jq.config.MaxWorkers).Msg("Starting job queue workers")
	return jq.client.Start(ctx)
}

// Stop waits for running jobs to finish and stops the workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// Enqueue records a PENDING task and inserts its job in one transaction.
// It returns the new task ID.
func (jq *JobQueue) Enqueue(ctx context.Context, repoURL string, prNumber int, skipCacheLookup bool) (string, error) {
	taskID := uuid.NewString()

	tx, err := jq.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := jq.store.CreateTask(ctx, tx, taskID, repoURL, prNumber); err != nil {
		return "", err
	}

	args := AnalyzePRArgs{
		TaskID:          taskID,
		RepoURL:         repoURL,
		PRNumber:        prNumber,
		SkipCacheLookup: skipCacheLookup,
	}
	if _, err := jq.client.InsertTx(ctx, tx, args, nil); err != nil {
		return "", fmt.Errorf("failed to queue analysis job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit analysis job: %w", err)
	}

	jq.logger.Info().
		Str("task_id", taskID).
		Str("repo_url", repoURL).
		Int("pr_number", prNumber).
		Msg("Queued analysis job")
	return taskID, nil
}
