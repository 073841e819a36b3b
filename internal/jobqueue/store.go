package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pranalysis/internal/pipeline"
	"github.com/pranalysis/pkg/models"
)

// Task statuses besides the pipeline state names written while a job runs
const (
	StatusPending  = "PENDING"
	StatusRetrying = "RETRYING"
	StatusSuccess  = "SUCCESS"
	StatusFailure  = "FAILURE"
)

// ErrTaskNotFound is returned when no task has the requested ID
var ErrTaskNotFound = errors.New("task not found")

// Task is one row of analysis_jobs
type Task struct {
	ID        string
	RepoURL   string
	PRNumber  int
	Status    string
	Stage     string
	Meta      pipeline.Metadata
	Result    *models.AnalysisReport
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Done reports whether the task reached a final status
func (t *Task) Done() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailure
}

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists task progress and outcomes in PostgreSQL
type Store struct {
	db DBTX
}

// NewStore creates a Store on db
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// CreateTask records a new PENDING task. db may be a transaction so the
// row and the River job are committed together.
func (s *Store) CreateTask(ctx context.Context, db DBTX, taskID, repoURL string, prNumber int) error {
	if db == nil {
		db = s.db
	}
	_, err := db.Exec(ctx, `
		INSERT INTO analysis_jobs (task_id, repo_url, pr_number, status)
		VALUES ($1, $2, $3, $4)
	`, taskID, repoURL, prNumber, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", taskID, err)
	}
	return nil
}

// UpdateProgress records the current status, stage and metadata of a task
func (s *Store) UpdateProgress(ctx context.Context, taskID, status, stage string, meta pipeline.Metadata) error {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	query := `
		UPDATE analysis_jobs
		SET status = $2, meta = $3, updated_at = now()
		WHERE task_id = $1
	`
	args := []any{taskID, status, metaJSON}
	if stage != "" {
		query = `
			UPDATE analysis_jobs
			SET status = $2, meta = $3, stage = $4, updated_at = now()
			WHERE task_id = $1
		`
		args = append(args, stage)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: %w", taskID, ErrTaskNotFound)
	}
	return nil
}

// SaveResult marks the task successful and stores its report
func (s *Store) SaveResult(ctx context.Context, taskID string, report *models.AnalysisReport, meta pipeline.Metadata) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report for task %s: %w", taskID, err)
	}
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2, result = $3, meta = $4, error = '', updated_at = now()
		WHERE task_id = $1
	`, taskID, StatusSuccess, reportJSON, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to save result of task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save result of task %s: %w", taskID, ErrTaskNotFound)
	}
	return nil
}

// SaveFailure marks the task failed with errMsg
func (s *Store) SaveFailure(ctx context.Context, taskID, errMsg string) error {
	metaJSON, err := encodeMeta(pipeline.Metadata{"error": errMsg})
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2, error = $3, meta = $4, updated_at = now()
		WHERE task_id = $1
	`, taskID, StatusFailure, errMsg, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to save failure of task %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save failure of task %s: %w", taskID, ErrTaskNotFound)
	}
	return nil
}

// GetTask loads a task by ID
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var (
		task       Task
		metaJSON   []byte
		resultJSON []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT task_id, repo_url, pr_number, status, stage, meta, result, error, created_at, updated_at
		FROM analysis_jobs
		WHERE task_id = $1
	`, taskID).Scan(
		&task.ID, &task.RepoURL, &task.PRNumber, &task.Status, &task.Stage,
		&metaJSON, &resultJSON, &task.Error, &task.CreatedAt, &task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	task.Meta = pipeline.Metadata{}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &task.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode meta of task %s: %w", taskID, err)
		}
	}
	if len(resultJSON) > 0 {
		var report models.AnalysisReport
		if err := json.Unmarshal(resultJSON, &report); err != nil {
			return nil, fmt.Errorf("failed to decode result of task %s: %w", taskID, err)
		}
		task.Result = &report
	}

	return &task, nil
}

func encodeMeta(meta pipeline.Metadata) ([]byte, error) {
	if meta == nil {
		meta = pipeline.Metadata{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task metadata: %w", err)
	}
	return b, nil
}
