// internal/worker/worker.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sourcegraph/conc/panics"

	"github-commit-indexer/internal/cache"
	"github-commit-indexer/internal/database"
	custom_errors "github-commit-indexer/internal/errors"
	"github-commit-indexer/internal/model"
	"github-commit-indexer/internal/queue"
)

type Event string

const (
	EventSuccess Event = "success"
	EventError   Event = "error"
)

// Result is the terminal signal of one batch execution. Every Run produces exactly one.
type Result struct {
	Event    Event  `json:"event"`
	Message  string `json:"message"`
	Inserted int    `json:"inserted"`
}

type Options struct {
	CacheTTL time.Duration
	// FastPath enables the cache pre-filter. The store is always consulted for the
	// commits that pass it.
	FastPath bool
	Timeout  time.Duration
}

// Worker persists commit batches for registered repositories.
type Worker struct {
	q      database.Querier
	cache  cache.Cache
	opts   Options
	logger *slog.Logger
}

func New(q database.Querier, c cache.Cache, opts Options, logger *slog.Logger) *Worker {
	return &Worker{
		q:      q,
		cache:  c,
		opts:   opts,
		logger: logger,
	}
}

// Run persists the commits of job that are not stored yet. Running the same job any number
// of times leaves the same set of rows behind.
func (w *Worker) Run(ctx context.Context, job queue.PersistJob) Result {
	logger := w.logger.With("job_id", job.JobID, "owner", job.OrgName, "repo", job.RepoName)

	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}

	var (
		inserted int
		err      error
		catcher  panics.Catcher
	)
	catcher.Try(func() {
		inserted, err = w.process(ctx, logger, job)
	})
	if r := catcher.Recovered(); r != nil {
		err = r.AsError()
	}

	if err != nil {
		logger.Error("Commit batch failed", "error", err, "inserted", inserted)
		return Result{Event: EventError, Message: err.Error(), Inserted: inserted}
	}

	logger.Info("Commit batch persisted", "received", len(job.Commits), "inserted", inserted)
	return Result{
		Event:    EventSuccess,
		Message:  fmt.Sprintf("persisted %d of %d commits", inserted, len(job.Commits)),
		Inserted: inserted,
	}
}

func (w *Worker) process(ctx context.Context, logger *slog.Logger, job queue.PersistJob) (int, error) {
	repo, err := w.q.GetRepositoryByOwnerAndName(ctx, database.GetRepositoryByOwnerAndNameParams{
		Owner: job.OrgName,
		Name:  job.RepoName,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &custom_errors.ErrRepositoryNotTracked{Org: job.OrgName, Repo: job.RepoName}
	} else if err != nil {
		return 0, fmt.Errorf("failed to load repository: %w", err)
	}

	key := cache.LastIndexedCommitKey(job.OrgName, job.RepoName)
	commits := job.Commits
	if w.opts.FastPath {
		if cursor, ok := w.cache.Get(ctx, key); ok {
			commits = newerThan(commits, cursor)
			logger.Debug("Applied cache cursor", "cursor", cursor, "remaining", len(commits))
		}
	}

	inserted := 0
	for _, c := range commits {
		if c.CommitURL == "" {
			logger.Warn("Skipping commit without url", "message", c.CommitMessage)
			continue
		}

		_, err := w.q.GetCommitByURL(ctx, database.GetCommitByURLParams{
			RepositoryID: repo.ID,
			Url:          c.CommitURL,
		})
		if err == nil {
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return inserted, fmt.Errorf("failed to look up commit %s: %w", c.CommitURL, err)
		}

		n, err := w.q.CreateCommit(ctx, database.CreateCommitParams{
			RepositoryID: repo.ID,
			Message:      c.CommitMessage,
			Author:       c.Author,
			CommitDate:   c.CommitDate,
			Url:          c.CommitURL,
		})
		if err != nil {
			return inserted, fmt.Errorf("failed to create commit %s: %w", c.CommitURL, err)
		}
		inserted += int(n)
		w.cache.Set(ctx, key, c.CommitURL, w.opts.CacheTTL)
	}

	return inserted, nil
}

// newerThan drops the commits whose url does not sort after cursor. The comparison is only
// an approximation of recency.
func newerThan(commits []model.Commit, cursor string) []model.Commit {
	var kept []model.Commit
	for _, c := range commits {
		if c.CommitURL > cursor {
			kept = append(kept, c)
		}
	}
	return kept
}

// HandlePersist is the queue handler for persist jobs. An error result is returned as an
// error so the message is handed back to the dispatcher.
func (w *Worker) HandlePersist(ctx context.Context, data []byte) error {
	var job queue.PersistJob
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("invalid persist job: %w", err)
	}
	result := w.Run(ctx, job)
	if result.Event == EventError {
		return errors.New(result.Message)
	}
	return nil
}
