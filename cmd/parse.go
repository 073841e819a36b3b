package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pranalysis/internal/diff"
	"github.com/pranalysis/pkg/models"
)

// ParseCommand returns the parse command
func ParseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Convert a unified diff into the structured JSON sent to the analyzer",
		ArgsUsage: "[FILE|-]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the JSON to `FILE` instead of stdout",
			},
			&cli.BoolFlag{
				Name:  "stat",
				Usage: "Print per-file added/removed line counts instead of JSON",
			},
		},
		Action: runParse,
	}
}

func runParse(c *cli.Context) error {
	var (
		in   io.Reader = os.Stdin
		path           = c.Args().First()
	)
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open diff: %w", err)
		}
		defer f.Close()
		in = f
	}

	text, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read diff: %w", err)
	}

	structured, err := diff.NewParser().Parse(string(text))
	if err != nil {
		return err
	}

	if c.Bool("stat") {
		return printStat(c.App.Writer, structured)
	}
	return writeJSON(c.String("output"), structured)
}

// printStat writes one "path | +added -removed" line per file followed by
// a totals line.
func printStat(w io.Writer, structured models.StructuredDiff) error {
	totalAdded, totalRemoved := 0, 0
	for _, f := range structured {
		added, removed := f.Stats()
		totalAdded += added
		totalRemoved += removed

		path := f.TargetPath
		switch {
		case f.IsDeleted:
			path = f.SourcePath + " (deleted)"
		case f.IsNew:
			path += " (new)"
		case f.IsRenamed:
			path = f.SourcePath + " => " + f.TargetPath
		}
		if _, err := fmt.Fprintf(w, "%s | +%d -%d\n", path, added, removed); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "%d files changed, %d insertions(+), %d deletions(-)\n", len(structured), totalAdded, totalRemoved)
	return err
}
