package pipeline

import (
	"context"

	"github.com/rs/zerolog"
)

// Metadata accompanies a progress report, e.g. {"stage": "Fetching PR metadata"}
type Metadata map[string]any

// ProgressReporter receives every state change of a job. Reports are fire
// and forget: the orchestrator ignores what happens inside Report.
type ProgressReporter interface {
	Report(ctx context.Context, state State, meta Metadata)
}

// NopReporter discards progress
type NopReporter struct{}

func (NopReporter) Report(context.Context, State, Metadata) {}

// ReporterFunc adapts a function to the ProgressReporter interface
type ReporterFunc func(ctx context.Context, state State, meta Metadata)

func (f ReporterFunc) Report(ctx context.Context, state State, meta Metadata) {
	f(ctx, state, meta)
}

// safeReport delivers a report and swallows reporter panics
func safeReport(ctx context.Context, reporter ProgressReporter, state State, meta Metadata, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().
				Interface("panic", r).
				Str("state", string(state)).
				Msg("Progress reporter panicked")
		}
	}()

	if meta == nil {
		meta = Metadata{}
	}
	reporter.Report(ctx, state, meta)
}
