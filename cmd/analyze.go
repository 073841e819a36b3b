package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/pranalysis/internal/pipeline"
)

// AnalyzeCommand returns the analyze command
func AnalyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Analyze a GitHub pull request and print the report",
		ArgsUsage: "REPO_URL PR_NUMBER",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Ignore any cached report for the current head revision",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the report to `FILE` instead of stdout",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging for this command",
			},
		},
		Action: runAnalyze,
	}
}

func runAnalyze(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("missing required arguments: REPO_URL PR_NUMBER")
	}

	repoURL := c.Args().Get(0)
	prNumber, err := strconv.Atoi(c.Args().Get(1))
	if err != nil || prNumber <= 0 {
		return fmt.Errorf("invalid PR number %q", c.Args().Get(1))
	}

	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	progress := pipeline.ReporterFunc(func(_ context.Context, state pipeline.State, meta pipeline.Metadata) {
		event := logger.Debug().Str("state", string(state))
		if stage, ok := meta["stage"].(string); ok {
			event = event.Str("stage", stage)
		}
		event.Msg("Progress")
	})

	outcome, err := svc.orchestrator.Run(ctx, pipeline.Request{
		RepoURL:         repoURL,
		PRNumber:        prNumber,
		Reporter:        progress,
		SkipCacheLookup: c.Bool("no-cache"),
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("revision", outcome.HeadRevision).
		Bool("cached", outcome.Cached).
		Msg("Analysis ready")

	return writeJSON(c.String("output"), outcome.Report)
}

// writeJSON writes v as indented JSON to path, or to stdout when path is
// empty or "-"
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
