package cmd

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pranalysis/internal/config"
	"github.com/pranalysis/internal/database"
	"github.com/pranalysis/internal/jobqueue"
	"github.com/pranalysis/internal/logging"
)

// MigrateCommand returns the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Create or upgrade the job queue schema",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if err := resolveDatabase(cfg); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 2*time.Minute)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	return jobqueue.Migrate(ctx, pool, logger)
}
