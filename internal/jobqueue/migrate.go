package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog"
)

const createAnalysisJobsTable = `
CREATE TABLE IF NOT EXISTS analysis_jobs (
	task_id    TEXT PRIMARY KEY,
	repo_url   TEXT NOT NULL,
	pr_number  INTEGER NOT NULL,
	status     TEXT NOT NULL,
	stage      TEXT NOT NULL DEFAULT '',
	meta       JSONB NOT NULL DEFAULT '{}'::jsonb,
	result     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS analysis_jobs_repo_pr_idx ON analysis_jobs (repo_url, pr_number);
`

// Migrate applies River's schema migrations and creates the analysis_jobs
// table. It is safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	for _, version := range res.Versions {
		logger.Info().Int("version", version.Version).Msg("Applied River migration")
	}

	if _, err := pool.Exec(ctx, createAnalysisJobsTable); err != nil {
		return fmt.Errorf("failed to create analysis_jobs table: %w", err)
	}

	logger.Info().Msg("Database schema is up to date")
	return nil
}
