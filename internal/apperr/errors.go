// Package apperr defines the error taxonomy shared by the PR fetcher, the
// analyzer and the analysis pipeline.
package apperr

import (
	"errors"
	"fmt"
)

// Failure modes of the code-hosting collaborator.
var (
	ErrNotFound       = errors.New("not found")
	ErrAuth           = errors.New("authentication failed")
	ErrNetwork        = errors.New("network error")
	ErrInvalidRequest = errors.New("invalid request")
)

// RevisionResolutionError reports a failure to resolve a PR's head revision
type RevisionResolutionError struct {
	RepoURL  string
	PRNumber int
	Err      error
}

func (e *RevisionResolutionError) Error() string {
	return fmt.Sprintf("resolve head revision of %s#%d: %v", e.RepoURL, e.PRNumber, e.Err)
}

func (e *RevisionResolutionError) Unwrap() error {
	return e.Err
}

// PatchFetchError reports a failure to download a PR's unified diff
type PatchFetchError struct {
	RepoURL  string
	PRNumber int
	Err      error
}

func (e *PatchFetchError) Error() string {
	return fmt.Sprintf("fetch patch of %s#%d: %v", e.RepoURL, e.PRNumber, e.Err)
}

func (e *PatchFetchError) Unwrap() error {
	return e.Err
}

// AnalysisError reports an analyzer failure. Malformed is set when the
// analyzer answered but its output could not be decoded into a report; Raw
// then holds that output.
type AnalysisError struct {
	Malformed bool
	Raw       string
	Err       error
}

func (e *AnalysisError) Error() string {
	if e.Malformed {
		return fmt.Sprintf("analysis returned a malformed report: %v", e.Err)
	}
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// CacheError describes a cache backend failure. It never leaves the cache
// package except in log lines.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether retrying the same request can not succeed:
// missing PRs, bad credentials, invalid input and malformed analyzer output.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAuth) || errors.Is(err, ErrInvalidRequest) {
		return true
	}
	var analysisErr *AnalysisError
	if errors.As(err, &analysisErr) && analysisErr.Malformed {
		return true
	}
	return false
}
