package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// State is the lifecycle position of one analysis job
type State string

const (
	StateInitializing      State = "INITIALIZING"
	StateResolvingRevision State = "RESOLVING_REVISION"
	StateCacheLookup       State = "CACHE_LOOKUP"
	StateCacheHit          State = "CACHE_HIT"
	StateFetching          State = "FETCHING"
	StateStructuring       State = "STRUCTURING"
	StateAnalyzing         State = "ANALYZING"
	StateCaching           State = "CACHING"
	StateCompleted         State = "COMPLETED"
	StateFailed            State = "FAILED"
)

// Progress stage labels reported alongside state changes
const (
	StageFetchingMetadata = "Fetching PR metadata"
	StageAnalyzing        = "Analyzing PR with AI Crew"
)

// FAILED is additionally reachable from every non-terminal state.
var transitions = map[State][]State{
	StateInitializing:      {StateResolvingRevision},
	StateResolvingRevision: {StateCacheLookup},
	StateCacheLookup:       {StateCacheHit, StateFetching},
	StateCacheHit:          {StateCompleted},
	StateFetching:          {StateStructuring},
	StateStructuring:       {StateAnalyzing},
	StateAnalyzing:         {StateCaching},
	StateCaching:           {StateCompleted},
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether to is a legal successor of s
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Job tracks a single orchestration run
type Job struct {
	RepoURL      string
	PRNumber     int
	HeadRevision string
	CacheKey     string

	state    State
	reporter ProgressReporter
	logger   zerolog.Logger
}

func newJob(repoURL string, prNumber int, reporter ProgressReporter, logger zerolog.Logger) *Job {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Job{
		RepoURL:  repoURL,
		PRNumber: prNumber,
		state:    StateInitializing,
		reporter: reporter,
		logger: logger.With().
			Str("repo_url", repoURL).
			Int("pr_number", prNumber).
			Logger(),
	}
}

// State returns the job's current state
func (j *Job) State() State {
	return j.state
}

// transition moves the job to the next state and reports it. An illegal
// transition is a programming error and panics.
func (j *Job) transition(ctx context.Context, to State, meta Metadata) {
	if !j.state.CanTransition(to) {
		panic(fmt.Sprintf("pipeline: illegal state transition %s -> %s", j.state, to))
	}

	j.logger.Debug().
		Str("from", string(j.state)).
		Str("state", string(to)).
		Msg("Job state changed")

	j.state = to
	safeReport(ctx, j.reporter, to, meta, j.logger)
}

// fail moves the job to FAILED and returns err unchanged
func (j *Job) fail(ctx context.Context, err error) error {
	j.logger.Error().Err(err).Str("state", string(j.state)).Msg("Analysis failed")
	j.transition(ctx, StateFailed, Metadata{"error": err.Error()})
	return err
}
