// Package github fetches pull request revisions and diffs from GitHub or a
// GitHub Enterprise instance.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v80/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/pranalysis/internal/apperr"
	"github.com/pranalysis/internal/config"
	"github.com/pranalysis/internal/retry"
)

// PullRequestsService is the subset of the go-github pull request API in use
type PullRequestsService interface {
	Get(ctx context.Context, owner, repo string, number int) (*github.PullRequest, *github.Response, error)
	GetRaw(ctx context.Context, owner, repo string, number int, opts github.RawOptions) (string, *github.Response, error)
}

// Client implements the PR fetcher on top of the GitHub REST API
type Client struct {
	prService PullRequestsService
	limiter   *rate.Limiter
	retry     retry.Config
	logger    zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithRetryConfig retries requests that fail with a network error. A nil
// ShouldRetry retries only apperr.ErrNetwork failures.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) {
		if cfg.ShouldRetry == nil {
			cfg.ShouldRetry = isTransient
		}
		c.retry = cfg
	}
}

// New creates a GitHub client. Without a token only public repositories can
// be read.
func New(cfg config.GitHubConfig, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "github").Logger()

	var httpClient *http.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	} else {
		logger.Warn().Msg("GitHub token not set, only public repositories can be analyzed")
	}

	client := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base_url: %w", err)
		}
	}

	return NewWithService(client.PullRequests, newLimiter(cfg), logger, WithRetryConfig(retry.DefaultConfig())), nil
}

// NewWithService creates a client around an existing pull request service.
// A nil limiter disables rate limiting. Requests are tried once unless
// WithRetryConfig is given.
func NewWithService(prService PullRequestsService, limiter *rate.Limiter, logger zerolog.Logger, opts ...Option) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	c := &Client{
		prService: prService,
		limiter:   limiter,
		retry:     retry.Config{ShouldRetry: isTransient},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newLimiter(cfg config.GitHubConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// ResolveHeadRevision returns the commit SHA at the head of the pull request
func (c *Client) ResolveHeadRevision(ctx context.Context, repoURL string, prNumber int) (string, error) {
	wrap := func(err error) error {
		return &apperr.RevisionResolutionError{RepoURL: repoURL, PRNumber: prNumber, Err: err}
	}

	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", wrap(err)
	}

	var pr *github.PullRequest
	err = c.do(ctx, func(ctx context.Context) error {
		got, resp, err := c.prService.Get(ctx, owner, repo, prNumber)
		if err != nil {
			return classify(resp, err)
		}
		pr = got
		return nil
	})
	if err != nil {
		return "", wrap(err)
	}

	sha := pr.GetHead().GetSHA()
	if sha == "" {
		return "", wrap(fmt.Errorf("%w: pull request has no head commit", apperr.ErrNotFound))
	}

	c.logger.Debug().
		Str("repo_url", repoURL).
		Int("pr_number", prNumber).
		Str("revision", sha).
		Msg("Resolved head revision")
	return sha, nil
}

// FetchPatchText returns the unified diff of the pull request
func (c *Client) FetchPatchText(ctx context.Context, repoURL string, prNumber int) (string, error) {
	wrap := func(err error) error {
		return &apperr.PatchFetchError{RepoURL: repoURL, PRNumber: prNumber, Err: err}
	}

	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", wrap(err)
	}

	var patch string
	err = c.do(ctx, func(ctx context.Context) error {
		got, resp, err := c.prService.GetRaw(ctx, owner, repo, prNumber, github.RawOptions{Type: github.Diff})
		if err != nil {
			return classify(resp, err)
		}
		patch = got
		return nil
	})
	if err != nil {
		return "", wrap(err)
	}

	c.logger.Debug().
		Str("repo_url", repoURL).
		Int("pr_number", prNumber).
		Int("bytes", len(patch)).
		Msg("Fetched PR diff")
	return patch, nil
}

// do runs one rate limited request under the client's retry policy
func (c *Client) do(ctx context.Context, request func(ctx context.Context) error) error {
	result := retry.Do(ctx, c.retry, c.logger, func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		return request(ctx)
	})
	if result.Success {
		return nil
	}
	if !errors.Is(result.LastError, apperr.ErrNetwork) && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", apperr.ErrNetwork, result.LastError)
	}
	return result.LastError
}

func isTransient(err error) bool {
	return errors.Is(err, apperr.ErrNetwork)
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", apperr.ErrNetwork, err)
	}
	return nil
}

// classify maps a go-github failure onto the apperr sentinels
func classify(resp *github.Response, err error) error {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}

	var ghErr *github.ErrorResponse
	if status == 0 && errors.As(err, &ghErr) && ghErr.Response != nil {
		status = ghErr.Response.StatusCode
	}

	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		var rateErr *github.RateLimitError
		if errors.As(err, &rateErr) {
			return fmt.Errorf("%w: %v", apperr.ErrNetwork, err)
		}
		return fmt.Errorf("%w: %v", apperr.ErrAuth, err)
	default:
		return fmt.Errorf("%w: %v", apperr.ErrNetwork, err)
	}
}

// ParseRepoURL extracts owner and repository name from a repository URL.
// Accepted forms include https://host/owner/repo, an optional .git suffix or
// trailing slash, and scp-like git@host:owner/repo.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	raw := strings.TrimSpace(repoURL)
	if raw == "" {
		return "", "", fmt.Errorf("%w: empty repository URL", apperr.ErrInvalidRequest)
	}

	var path string
	if !strings.Contains(raw, "://") && strings.Contains(raw, "@") && strings.Contains(raw, ":") {
		path = raw[strings.Index(raw, ":")+1:]
	} else {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return "", "", fmt.Errorf("%w: invalid repository URL %q", apperr.ErrInvalidRequest, repoURL)
		}
		path = u.Path
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: repository URL %q has no owner/repo path", apperr.ErrInvalidRequest, repoURL)
	}

	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
