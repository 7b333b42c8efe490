// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github-commit-indexer/internal/model"
)

const (
	maxRetries       = 3
	retryDelay       = 100 * time.Millisecond
	maxRateLimitWait = time.Hour
	defaultPerPage   = 100
)

// Options configures a Client.
type Options struct {
	Token string
	// BaseURL overrides the API endpoint, e.g. "https://ghe.example.com/api/v3/".
	BaseURL   string
	RateLimit float64
	RateBurst int
	Timeout   time.Duration
}

// Client is a wrapper around the go-github client.
type Client struct {
	gh      *github.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates and configures a new Client instance.
// When a token is provided it is used to create an authenticated http.Client.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{}
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: opts.Token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	httpClient.Timeout = opts.Timeout

	gh := github.NewClient(httpClient)
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		gh.BaseURL = u
	}

	limit := rate.Limit(opts.RateLimit)
	if opts.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		gh:      gh,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// GetRepositoryMetadata fetches repository details and translates them to our internal model.
// It returns nil and no error when the origin reports that the repository does not exist,
// so callers can tell "failed to ask" apart from "definitively absent".
func (c *Client) GetRepositoryMetadata(ctx context.Context, owner, name string) (*model.RepositoryMetadata, error) {
	var repo *github.Repository
	err := c.do(ctx, func() error {
		var err error
		repo, _, err = c.gh.Repositories.Get(ctx, owner, name)
		return err
	})
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toRepositoryMetadata(repo), nil
}

// FetchCommits fetches the commits of a repository starting at page and walking forward
// until the origin returns an empty page. Pages are concatenated in request order.
// since, when not empty, is an RFC3339 timestamp passed to the origin as the "since" filter.
//
// There is no page limit: a large repository can take many requests.
func (c *Client) FetchCommits(ctx context.Context, owner, name, since string, page, perPage int) (*model.CommitPage, error) {
	if page < 1 {
		page = 1
	}
	var window model.CommitWindow
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return nil, fmt.Errorf("invalid since timestamp %q: %w", since, err)
		}
		window.Since = t
	}

	commits := []model.Commit{}
	for ; ; page++ {
		batch, err := c.FetchCommitPage(ctx, owner, name, window, page, perPage)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		commits = append(commits, batch...)
	}

	return &model.CommitPage{TotalRecords: len(commits), Commits: commits}, nil
}

// FetchCommitPage fetches a single page of a repository's commits within window, newest
// first. An empty repository yields an empty page.
func (c *Client) FetchCommitPage(ctx context.Context, owner, name string, window model.CommitWindow, page, perPage int) ([]model.Commit, error) {
	if perPage < 1 {
		perPage = defaultPerPage
	}
	opts := &github.CommitsListOptions{
		Since: window.Since,
		Until: window.Until,
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}

	c.logger.Debug("Fetching commits page", "owner", owner, "repo", name, "page", page, "since", window.Since, "until", window.Until)

	var batch []*github.RepositoryCommit
	err := c.do(ctx, func() error {
		var err error
		batch, _, err = c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		return err
	})
	if err != nil {
		// The origin answers 409 for a repository without any commits.
		if hasStatus(err, http.StatusConflict) {
			return []model.Commit{}, nil
		}
		return nil, err
	}

	commits := make([]model.Commit, 0, len(batch))
	for _, commit := range batch {
		commits = append(commits, toInternalCommit(commit))
	}
	return commits, nil
}

// do runs one API call under the rate limiter and the retry policy: server errors, network
// errors and rate limit responses are retried, other client errors are returned at once.
func (c *Client) do(ctx context.Context, call func() error) error {
	return retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			err := call()
			if err == nil {
				return nil
			}
			if !isRetryable(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(maxRetries),
		retry.Delay(retryDelay),
		retry.DelayType(rateLimitAwareDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Retrying github request", "attempt", n+1, "error", err)
		}),
	)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		return respErr.Response != nil && respErr.Response.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// rateLimitAwareDelay waits for the rate limit window to reset when the origin says so and
// falls back to exponential backoff otherwise.
func rateLimitAwareDelay(n uint, err error, config *retry.Config) time.Duration {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return capWait(time.Until(rateErr.Rate.Reset.Time))
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
		return capWait(*abuseErr.RetryAfter)
	}
	return retry.BackOffDelay(n, err, config)
}

func capWait(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > maxRateLimitWait {
		return maxRateLimitWait
	}
	return d
}

func hasStatus(err error, status int) bool {
	var respErr *github.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == status
}

// toRepositoryMetadata translates a github.Repository object to our internal model.
func toRepositoryMetadata(r *github.Repository) *model.RepositoryMetadata {
	meta := &model.RepositoryMetadata{
		Name:            r.GetName(),
		Description:     r.Description,
		URL:             r.GetHTMLURL(),
		Language:        r.Language,
		ForksCount:      r.GetForksCount(),
		StarsCount:      r.GetStargazersCount(),
		OpenIssuesCount: r.GetOpenIssuesCount(),
		WatchersCount:   r.GetWatchersCount(),
	}
	if r.CreatedAt != nil {
		t := r.GetCreatedAt().Time
		meta.RepoCreatedAt = &t
	}
	if r.UpdatedAt != nil {
		t := r.GetUpdatedAt().Time
		meta.RepoUpdatedAt = &t
	}
	return meta
}

// toInternalCommit translates a github.RepositoryCommit object to our internal model.Commit.
func toInternalCommit(c *github.RepositoryCommit) model.Commit {
	commit := model.Commit{
		CommitMessage: c.GetCommit().GetMessage(),
		Author:        c.GetCommit().GetAuthor().GetName(),
		CommitURL:     c.GetHTMLURL(),
	}
	if date := c.GetCommit().GetAuthor().Date; date != nil {
		commit.CommitDate = date.UTC().Format(time.RFC3339)
	}
	if date := c.GetCommit().GetCommitter().Date; date != nil {
		commit.CommitterDate = date.UTC().Format(time.RFC3339)
	}
	return commit
}
