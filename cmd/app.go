package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/pranalysis/internal/aiconnectors"
	"github.com/pranalysis/internal/analyzer"
	"github.com/pranalysis/internal/cache"
	"github.com/pranalysis/internal/config"
	"github.com/pranalysis/internal/logging"
	"github.com/pranalysis/internal/pipeline"
	"github.com/pranalysis/internal/providers/github"
)

// loadConfig loads and validates the configuration named by the global
// --config flag and builds the process logger from it.
func loadConfig(c *cli.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to set up logging: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return nil, logger, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, logger, nil
}

// services holds the collaborators shared by the analyze, api and worker
// commands
type services struct {
	orchestrator *pipeline.Orchestrator
	closers      []func() error
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// buildServices wires the GitHub fetcher, the model-backed analyzer and the
// cache into an orchestrator.
func buildServices(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*services, error) {
	svc := &services{}

	fetcher, err := github.New(cfg.GitHub, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}

	connector, err := aiconnectors.New(ctx, cfg.AI, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI connector: %w", err)
	}

	var store cache.Store = cache.Noop{}
	if cfg.Cache.Enabled {
		redisStore := cache.NewRedisStore(ctx, cfg.Redis, logger)
		svc.closers = append(svc.closers, redisStore.Close)
		store = redisStore
	} else {
		logger.Info().Msg("Result cache disabled")
	}

	svc.orchestrator = pipeline.New(
		fetcher,
		analyzer.New(connector, logger),
		store,
		pipeline.WithTTL(cfg.Cache.TTL()),
		pipeline.WithLogger(logger),
	)
	return svc, nil
}
