// Package analyzer turns a structured diff into an AnalysisReport using a
// language model.
package analyzer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/pranalysis/internal/apperr"
	"github.com/pranalysis/internal/llm"
	"github.com/pranalysis/internal/retry"
	"github.com/pranalysis/pkg/models"
)

// Completer sends one prompt to a model and returns its text answer.
// *aiconnectors.Connector implements it.
type Completer interface {
	Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error)
}

// Analyzer reviews structured diffs with a language model
type Analyzer struct {
	model  Completer
	retry  retry.Config
	logger zerolog.Logger
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithRetryConfig overrides the retry policy for model calls
func WithRetryConfig(cfg retry.Config) Option {
	return func(a *Analyzer) {
		a.retry = cfg
	}
}

// New creates an Analyzer on top of model
func New(model Completer, logger zerolog.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		model:  model,
		retry:  retry.LLMConfig(),
		logger: logger.With().Str("component", "analyzer").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze asks the model for a review of structured. Transport failures are
// returned as AnalysisError; answers that cannot be decoded into a report
// are returned as AnalysisError with Malformed set.
func (a *Analyzer) Analyze(ctx context.Context, structured models.StructuredDiff) (*models.AnalysisReport, error) {
	if len(structured) == 0 {
		a.logger.Info().Msg("Diff has no reviewable files, skipping model call")
		report := &models.AnalysisReport{}
		report.Normalize()
		return report, nil
	}

	prompt, err := BuildPrompt(structured)
	if err != nil {
		return nil, &apperr.AnalysisError{Err: err}
	}

	a.logger.Debug().
		Int("files", len(structured)).
		Int("prompt_bytes", len(prompt)).
		Msg("Calling model")

	start := time.Now()
	var response string
	result := retry.Do(ctx, a.retry, a.logger, func(ctx context.Context) error {
		var callErr error
		response, callErr = a.model.Call(ctx, prompt)
		return callErr
	})
	if !result.Success {
		return nil, &apperr.AnalysisError{Err: result.LastError}
	}

	a.logger.Debug().
		Int("attempts", result.Attempts).
		Dur("duration", time.Since(start)).
		Int("response_bytes", len(response)).
		Msg("Model answered")

	var report models.AnalysisReport
	if _, err := llm.DecodeResponse(response, &report, a.logger); err != nil {
		return nil, &apperr.AnalysisError{Malformed: true, Raw: response, Err: err}
	}
	if report.Files == nil {
		return nil, &apperr.AnalysisError{
			Malformed: true,
			Raw:       response,
			Err:       errors.New("response has no files list"),
		}
	}

	report.Normalize()
	if err := report.Validate(); err != nil {
		return nil, &apperr.AnalysisError{Malformed: true, Raw: response, Err: err}
	}

	a.logger.Info().
		Int("total_files", report.Summary.TotalFiles).
		Int("total_issues", report.Summary.TotalIssues).
		Int("critical_issues", report.Summary.CriticalIssues).
		Msg("Analysis decoded")
	return &report, nil
}
