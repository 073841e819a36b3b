// Package pipeline drives one pull request analysis from head revision
// resolution to a cached AnalysisReport.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pranalysis/internal/apperr"
	"github.com/pranalysis/internal/cache"
	"github.com/pranalysis/internal/diff"
	"github.com/pranalysis/pkg/models"
)

// PRFetcher reads pull request data from the code host
type PRFetcher interface {
	ResolveHeadRevision(ctx context.Context, repoURL string, prNumber int) (string, error)
	FetchPatchText(ctx context.Context, repoURL string, prNumber int) (string, error)
}

// Analyzer produces a findings report for a structured diff
type Analyzer interface {
	Analyze(ctx context.Context, structured models.StructuredDiff) (*models.AnalysisReport, error)
}

// Request describes one analysis run
type Request struct {
	RepoURL  string
	PRNumber int
	// Reporter receives state changes; nil means NopReporter.
	Reporter ProgressReporter
	// SkipCacheLookup forces a fresh analysis. The result is still cached.
	SkipCacheLookup bool
}

// Outcome is the result of a successful run
type Outcome struct {
	Report       *models.AnalysisReport
	HeadRevision string
	CacheKey     string
	Cached       bool
}

// Orchestrator runs analyses. It holds no per-job state and is safe for
// concurrent use when its collaborators are.
type Orchestrator struct {
	fetcher  PRFetcher
	analyzer Analyzer
	store    cache.Store
	parser   *diff.Parser
	ttl      time.Duration
	logger   zerolog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithTTL overrides the cache entry lifetime
func WithTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithLogger sets the orchestrator logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator. A nil store disables caching.
func New(fetcher PRFetcher, analyzer Analyzer, store cache.Store, opts ...Option) *Orchestrator {
	if store == nil {
		store = cache.Noop{}
	}
	o := &Orchestrator{
		fetcher:  fetcher,
		analyzer: analyzer,
		store:    store,
		parser:   diff.NewParser(),
		ttl:      cache.DefaultTTL,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "pipeline").Logger()
	return o
}

// RunAnalysis analyzes the PR's current head revision, reusing a cached
// report when one exists for that revision.
func (o *Orchestrator) RunAnalysis(ctx context.Context, repoURL string, prNumber int) (*models.AnalysisReport, error) {
	outcome, err := o.Run(ctx, Request{RepoURL: repoURL, PRNumber: prNumber})
	if err != nil {
		return nil, err
	}
	return outcome.Report, nil
}

// Run executes one analysis job. Collaborator errors are returned unchanged.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	job := newJob(req.RepoURL, req.PRNumber, req.Reporter, o.logger)

	job.transition(ctx, StateResolvingRevision, Metadata{"stage": StageFetchingMetadata})
	job.logger.Info().Msg("Fetching PR metadata")

	revision, err := o.fetcher.ResolveHeadRevision(ctx, req.RepoURL, req.PRNumber)
	if err != nil {
		return nil, job.fail(ctx, err)
	}
	job.HeadRevision = revision
	job.CacheKey = cache.Key(req.RepoURL, req.PRNumber, revision)
	job.logger = job.logger.With().Str("revision", revision).Logger()

	job.transition(ctx, StateCacheLookup, Metadata{"revision": revision})

	if !req.SkipCacheLookup {
		if report, ok := o.cachedReport(ctx, job.CacheKey, job.logger); ok {
			job.transition(ctx, StateCacheHit, Metadata{"cache_key": job.CacheKey})
			job.transition(ctx, StateCompleted, nil)
			job.logger.Info().Str("cache_key", job.CacheKey).Msg("Cache hit, returning cached analysis")
			return &Outcome{Report: report, HeadRevision: revision, CacheKey: job.CacheKey, Cached: true}, nil
		}
	}

	job.transition(ctx, StateFetching, nil)
	patch, err := o.fetcher.FetchPatchText(ctx, req.RepoURL, req.PRNumber)
	if err != nil {
		return nil, job.fail(ctx, err)
	}

	job.transition(ctx, StateStructuring, Metadata{"patch_bytes": len(patch)})
	structured, err := o.parser.Parse(patch)
	if err != nil {
		return nil, job.fail(ctx, err)
	}

	job.transition(ctx, StateAnalyzing, Metadata{"stage": StageAnalyzing, "files": len(structured)})
	job.logger.Info().
		Int("files", len(structured)).
		Int("lines", structured.LineCount()).
		Msg("Analyzing PR with AI Crew")

	report, err := o.analyzer.Analyze(ctx, structured)
	if err != nil {
		return nil, job.fail(ctx, err)
	}
	if err := checkReport(report); err != nil {
		return nil, job.fail(ctx, err)
	}

	job.transition(ctx, StateCaching, Metadata{"cache_key": job.CacheKey})
	o.store.Set(ctx, job.CacheKey, report, o.ttl)

	job.transition(ctx, StateCompleted, Metadata{
		"total_files":  report.Summary.TotalFiles,
		"total_issues": report.Summary.TotalIssues,
	})
	job.logger.Info().
		Str("cache_key", job.CacheKey).
		Int("total_issues", report.Summary.TotalIssues).
		Msg("Analysis completed")

	return &Outcome{Report: report, HeadRevision: revision, CacheKey: job.CacheKey}, nil
}

// Lookup resolves the PR's head revision and returns the cached report for
// it, if any. It never fetches the patch or calls the analyzer.
func (o *Orchestrator) Lookup(ctx context.Context, repoURL string, prNumber int) (*Outcome, bool, error) {
	logger := o.logger.With().Str("repo_url", repoURL).Int("pr_number", prNumber).Logger()

	revision, err := o.fetcher.ResolveHeadRevision(ctx, repoURL, prNumber)
	if err != nil {
		return nil, false, err
	}

	key := cache.Key(repoURL, prNumber, revision)
	report, ok := o.cachedReport(ctx, key, logger)
	if !ok {
		return &Outcome{HeadRevision: revision, CacheKey: key}, false, nil
	}

	return &Outcome{Report: report, HeadRevision: revision, CacheKey: key, Cached: true}, true, nil
}

// cachedReport decodes the entry under key. Entries that do not decode or
// validate as a current-version report count as misses.
func (o *Orchestrator) cachedReport(ctx context.Context, key string, logger zerolog.Logger) (*models.AnalysisReport, bool) {
	raw, ok := o.store.Get(ctx, key)
	if !ok {
		return nil, false
	}

	var report models.AnalysisReport
	if err := json.Unmarshal(raw, &report); err != nil {
		logger.Warn().Err(err).Str("cache_key", key).Msg("Failed to decode cached analysis, recomputing")
		return nil, false
	}
	if err := report.Validate(); err != nil {
		logger.Warn().Err(err).Str("cache_key", key).Msg("Cached analysis is invalid, recomputing")
		return nil, false
	}

	return &report, true
}

func checkReport(report *models.AnalysisReport) error {
	if report == nil {
		return &apperr.AnalysisError{Malformed: true, Err: errors.New("analyzer returned no report")}
	}
	if err := report.Validate(); err != nil {
		return &apperr.AnalysisError{Malformed: true, Err: fmt.Errorf("invalid report: %w", err)}
	}
	return nil
}
