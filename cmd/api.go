package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/pranalysis/internal/api"
	"github.com/pranalysis/internal/config"
	"github.com/pranalysis/internal/database"
	"github.com/pranalysis/internal/jobqueue"
)

// APICommand returns the CLI command for starting the API server together
// with the analysis workers
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the PR analysis API server and workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-workers",
				Usage: "Only serve HTTP; run workers with the worker command",
			},
		},
		Action: runAPI,
	}
}

// WorkerCommand returns the CLI command for running analysis workers only
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Usage:  "Run background PR analysis workers",
		Action: runWorker,
	}
}

// runtime is the queue side shared by the api and worker commands
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	svc    *services
	pool   *pgxpool.Pool
	queue  *jobqueue.JobQueue
}

func (r *runtime) Close() {
	r.pool.Close()
	r.svc.Close()
}

func newRuntime(ctx context.Context, c *cli.Context) (*runtime, error) {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := resolveDatabase(cfg); err != nil {
		return nil, err
	}

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		svc.Close()
		return nil, err
	}

	queue, err := jobqueue.New(pool, svc.orchestrator, jobqueue.FromConfig(cfg.Queue), logger)
	if err != nil {
		pool.Close()
		svc.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, logger: logger, svc: svc, pool: pool, queue: queue}, nil
}

// resolveDatabase fills database.url from a .env file when it is not
// configured, then validates it
func resolveDatabase(cfg *config.Config) error {
	if url, err := database.ResolveURL(cfg.Database); err == nil {
		cfg.Database.URL = url
	}
	return config.ValidateDatabase(cfg)
}

func (r *runtime) startWorkers(ctx context.Context) (stop func(), err error) {
	if err := r.queue.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start workers: %w", err)
	}
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.queue.Stop(stopCtx); err != nil {
			r.logger.Warn().Err(err).Msg("Workers did not stop cleanly")
		}
	}, nil
}

func runAPI(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, c)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !c.Bool("no-workers") {
		stopWorkers, err := rt.startWorkers(ctx)
		if err != nil {
			return err
		}
		defer stopWorkers()
	}

	port := rt.cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	server := api.NewServer(port, rt.svc.orchestrator, rt.queue, rt.queue.Store(), rt.logger)
	return server.Start(ctx)
}

func runWorker(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, c)
	if err != nil {
		return err
	}
	defer rt.Close()

	stopWorkers, err := rt.startWorkers(ctx)
	if err != nil {
		return err
	}
	defer stopWorkers()

	rt.logger.Info().Msg("Workers running, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}
