package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pranalysis/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "pranalysis",
		Usage:   "AI-powered analysis of GitHub pull requests",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default ./pranalysis.toml or ~/.pranalysis.toml)",
			},
		},
		Commands: []*cli.Command{
			cmd.AnalyzeCommand(),
			cmd.ParseCommand(),
			cmd.APICommand(),
			cmd.WorkerCommand(),
			cmd.MigrateCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
