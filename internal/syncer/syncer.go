// internal/syncer/syncer.go
package syncer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github-commit-indexer/internal/cache"
	"github-commit-indexer/internal/database"
	custom_errors "github-commit-indexer/internal/errors"
	"github-commit-indexer/internal/model"
	"github-commit-indexer/internal/queue"
)

// A persist job carries at most persistBatchSize commits and roughly persistBatchBytes of
// commit text, keeping messages under the broker's 1 MB payload limit.
const (
	persistBatchSize  = 100
	persistBatchBytes = 512 << 10
)

// Source is the origin the syncer reads repositories and commits from.
type Source interface {
	GetRepositoryMetadata(ctx context.Context, owner, name string) (*model.RepositoryMetadata, error)
	FetchCommitPage(ctx context.Context, owner, name string, window model.CommitWindow, page, perPage int) ([]model.Commit, error)
}

type Options struct {
	// SeedRepository is registered by Start. Empty disables seeding.
	SeedRepository   string
	SweepInterval    time.Duration
	BatchSize        int
	RepoTimeout      time.Duration
	MaxCatchUpRounds int
	PageSize         int
}

// Syncer registers repositories and keeps their commits indexed.
type Syncer struct {
	q          database.Querier
	source     Source
	dispatcher queue.Dispatcher
	cache      cache.Cache
	opts       Options
	logger     *slog.Logger

	scheduler gocron.Scheduler
}

// NewSyncer creates a new Syncer instance. Nothing runs until Start is called.
func NewSyncer(q database.Querier, source Source, dispatcher queue.Dispatcher, kv cache.Cache, opts Options, logger *slog.Logger) *Syncer {
	if opts.BatchSize < 1 {
		opts.BatchSize = 50
	}
	if opts.MaxCatchUpRounds < 1 {
		opts.MaxCatchUpRounds = 1
	}
	return &Syncer{
		q:          q,
		source:     source,
		dispatcher: dispatcher,
		cache:      kv,
		opts:       opts,
		logger:     logger,
	}
}

// Start seeds the configured repository and arms the recurring sweep. The sweep is armed
// even when seeding fails; the seeding error is returned.
func (s *Syncer) Start(ctx context.Context) error {
	var seedErr error
	if s.opts.SeedRepository != "" {
		seedErr = s.seed(ctx)
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.opts.SweepInterval),
		gocron.NewTask(func() {
			if err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Sweep failed", "error", err)
			}
		}),
		gocron.WithName("repository-sweep"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	sched.Start()
	s.scheduler = sched

	s.logger.Info("Starting syncer", "interval", s.opts.SweepInterval.String(), "batch_size", s.opts.BatchSize)
	return seedErr
}

func (s *Syncer) seed(ctx context.Context) error {
	id, err := model.ParseRepoIdentifier(s.opts.SeedRepository)
	if err != nil {
		return err
	}
	if _, err := s.Register(ctx, id); err != nil {
		return fmt.Errorf("failed to seed repository %s: %w", id, err)
	}
	return nil
}

// Stop disarms the recurring sweep and waits for running sweeps to return.
func (s *Syncer) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	s.logger.Info("Syncer shutting down")
	return s.scheduler.Shutdown()
}

// Register fetches the repository's metadata and stores it, resetting the cursor so the
// repository is indexed from scratch. A repository the origin does not know is rejected
// with ErrRepositoryNotExist and nothing is written.
func (s *Syncer) Register(ctx context.Context, id model.RepoIdentifier) (database.Repository, error) {
	logger := s.logger.With("owner", id.Owner, "repo", id.Name)

	meta, err := s.source.GetRepositoryMetadata(ctx, id.Owner, id.Name)
	if err != nil {
		return database.Repository{}, fmt.Errorf("failed to fetch repository metadata: %w", err)
	}
	if meta == nil {
		return database.Repository{}, &custom_errors.ErrRepositoryNotExist{Org: id.Owner, Repo: id.Name}
	}

	secret, err := newWebhookSecret()
	if err != nil {
		return database.Repository{}, err
	}

	repo, err := s.q.UpsertRepository(ctx, toUpsertParams(id, meta, secret))
	if err != nil {
		return database.Repository{}, fmt.Errorf("failed to store repository: %w", err)
	}
	logger.Info("Repository registered", "repo_id", repo.ID)
	s.cache.Del(ctx, cache.LastIndexedCommitKey(repo.OrgName, repo.RepoName))

	// The row is complete at this point; a lost fetch job is recovered by the next sweep.
	err = s.dispatcher.DispatchFetch(ctx, queue.FetchJob{
		OrgName:        repo.OrgName,
		RepoName:       repo.RepoName,
		SinceCommitURL: repo.LastCommitUrl,
	})
	if err != nil {
		logger.Error("Failed to dispatch initial fetch", "error", err)
	}

	return repo, nil
}

// window is the part of a repository's history a cycle still has to walk: everything
// listed after the cursor. An interrupted walk leaves its progress behind so the next
// cycle only walks what is older than until.
type window struct {
	cursorURL string
	cursorAt  pgtype.Timestamptz

	until   pgtype.Timestamptz
	headAt  pgtype.Timestamptz
	tailURL string
}

func windowOf(repo database.Repository) window {
	return window{
		cursorURL: repo.LastCommitUrl,
		cursorAt:  repo.LastCommitAt,
		until:     repo.BackfillUntil,
		headAt:    repo.BackfillHeadAt,
		tailURL:   repo.BackfillTailUrl,
	}
}

func (w window) query() model.CommitWindow {
	var q model.CommitWindow
	if w.cursorAt.Valid {
		q.Since = w.cursorAt.Time.Add(1 * time.Second)
	}
	if w.until.Valid {
		q.Until = w.until.Time
	}
	return q
}

// IndexRepository runs one fetch-and-dispatch cycle for repo, for at most MaxCatchUpRounds
// rounds. A round walks the commits after the cursor one page at a time, dispatches every
// page and records how far back it got. Once the walk reaches the end the cursor moves to
// the last commit walked. indexing_complete is set to whether the cycle caught up.
func (s *Syncer) IndexRepository(ctx context.Context, repo database.Repository) error {
	logger := s.logger.With("owner", repo.OrgName, "repo", repo.RepoName, "repo_id", repo.ID)

	if s.opts.RepoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RepoTimeout)
		defer cancel()
	}

	w := windowOf(repo)
	caughtUp := false

	for round := 1; round <= s.opts.MaxCatchUpRounds; round++ {
		logger.Info("Fetching commits since", "timestamp", getSinceTimestamp(w.cursorAt), "cursor", w.cursorURL, "resume_until", w.until.Time, "round", round)

		fresh, err := s.walk(ctx, logger, repo, &w)
		if err != nil {
			return err
		}
		if w.tailURL == "" {
			logger.Info("No new commits found")
			caughtUp = true
			break
		}
		logger.Info("Walked new commits", "count", fresh)

		n, err := s.q.AdvanceRepositoryCursor(ctx, database.AdvanceRepositoryCursorParams{
			ID:            repo.ID,
			LastCommitUrl: w.tailURL,
			LastCommitAt:  w.headAt,
		})
		if err != nil {
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
		if n == 0 {
			logger.Info("Cursor not advanced, a newer one is already stored")
			return nil
		}
		if !w.headAt.Valid {
			logger.Warn("Fetched commits carry no parseable dates, resume point unchanged")
			break
		}
		w = window{cursorURL: w.tailURL, cursorAt: w.headAt}
	}

	err := s.q.SetRepositoryIndexingComplete(ctx, database.SetRepositoryIndexingCompleteParams{
		ID:               repo.ID,
		IndexingComplete: caughtUp,
	})
	if err != nil {
		return fmt.Errorf("failed to update indexing state: %w", err)
	}
	logger.Info("Indexing cycle finished", "complete", caughtUp)
	return nil
}

// walk fetches every page of w until the origin returns an empty one. Each page is
// dispatched before the next is requested, and w is updated and recorded as it goes, so
// an error leaves the pages already walked dispatched and resumable. It returns the
// number of new commits walked.
func (s *Syncer) walk(ctx context.Context, logger *slog.Logger, repo database.Repository, w *window) (int, error) {
	query := w.query()
	fresh := 0

	for page := 1; ; page++ {
		commits, err := s.source.FetchCommitPage(ctx, repo.OrgName, repo.RepoName, query, page, s.opts.PageSize)
		if err != nil {
			return fresh, fmt.Errorf("failed to fetch commits page %d: %w", page, err)
		}
		if len(commits) == 0 {
			return fresh, nil
		}
		if !hasNewCommits(commits, w.cursorURL) {
			continue
		}
		fresh += len(commits)

		if err := s.dispatchCommits(ctx, repo, commits); err != nil {
			return fresh, err
		}

		w.tailURL = commits[len(commits)-1].CommitURL
		if newest, ok := model.LatestCommitTime(commits); ok && (!w.headAt.Valid || newest.After(w.headAt.Time)) {
			w.headAt = pgtype.Timestamptz{Time: newest, Valid: true}
		}
		oldest, ok := model.EarliestCommitTime(commits)
		if !ok {
			continue
		}
		w.until = pgtype.Timestamptz{Time: oldest, Valid: true}

		_, err = s.q.RecordBackfillProgress(ctx, database.RecordBackfillProgressParams{
			ID:              repo.ID,
			BackfillUntil:   w.until,
			BackfillHeadAt:  w.headAt,
			BackfillTailUrl: w.tailURL,
		})
		if err != nil {
			return fresh, fmt.Errorf("failed to record progress: %w", err)
		}
		logger.Debug("Recorded progress", "page", page, "until", oldest)
	}
}

// dispatchCommits hands commits to the workers in order, split into bounded persist jobs.
func (s *Syncer) dispatchCommits(ctx context.Context, repo database.Repository, commits []model.Commit) error {
	for len(commits) > 0 {
		n, size := 0, 0
		for n < len(commits) && n < persistBatchSize {
			size += commitSize(commits[n])
			if n > 0 && size > persistBatchBytes {
				break
			}
			n++
		}
		err := s.dispatcher.DispatchPersist(ctx, queue.PersistJob{
			OrgName:  repo.OrgName,
			RepoName: repo.RepoName,
			Commits:  commits[:n],
		})
		if err != nil {
			return fmt.Errorf("failed to dispatch commits: %w", err)
		}
		commits = commits[n:]
	}
	return nil
}

// commitSize estimates the encoded size of c, field names included.
func commitSize(c model.Commit) int {
	return len(c.CommitMessage) + len(c.Author) + len(c.CommitDate) + len(c.CommitURL) + 64
}

// Sweep indexes every tracked repository, one window of BatchSize repositories at a time.
// Repositories in a window are indexed concurrently. A failing repository is logged and
// does not affect the others.
func (s *Syncer) Sweep(ctx context.Context) error {
	s.logger.Info("Starting new sweep")
	total := 0

	for offset := 0; ; offset += s.opts.BatchSize {
		repos, err := s.q.ListRepositories(ctx, database.ListRepositoriesParams{
			Limit:  int32(s.opts.BatchSize),
			Offset: int32(offset),
		})
		if err != nil {
			return fmt.Errorf("failed to list repositories at offset %d: %w", offset, err)
		}
		if len(repos) == 0 {
			break
		}

		var g errgroup.Group
		for _, repo := range repos {
			repo := repo
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				err := s.IndexRepository(ctx, repo)
				if err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("Failed to index repository", "owner", repo.OrgName, "repo", repo.RepoName, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
		total += len(repos)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	s.logger.Info("Sweep finished", "repositories", total)
	return nil
}

// HandleFetch is the queue handler for fetch jobs.
func (s *Syncer) HandleFetch(ctx context.Context, data []byte) error {
	var job queue.FetchJob
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("invalid fetch job: %w", err)
	}

	repo, err := s.q.GetRepositoryByOwnerAndName(ctx, database.GetRepositoryByOwnerAndNameParams{
		Owner: job.OrgName,
		Name:  job.RepoName,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return &custom_errors.ErrRepositoryNotTracked{Org: job.OrgName, Repo: job.RepoName}
	} else if err != nil {
		return err
	}

	return s.IndexRepository(ctx, repo)
}

// getSinceTimestamp returns the origin "since" filter for a resume timestamp, or "" to
// fetch from the beginning.
func getSinceTimestamp(cursorAt pgtype.Timestamptz) string {
	if !cursorAt.Valid {
		return ""
	}
	return cursorAt.Time.Add(1 * time.Second).UTC().Format(time.RFC3339)
}

// hasNewCommits reports whether commits holds anything besides the cursor commit itself.
func hasNewCommits(commits []model.Commit, cursorURL string) bool {
	for _, c := range commits {
		if cursorURL == "" || c.CommitURL != cursorURL {
			return true
		}
	}
	return false
}

func toUpsertParams(id model.RepoIdentifier, meta *model.RepositoryMetadata, secret string) database.UpsertRepositoryParams {
	return database.UpsertRepositoryParams{
		OrgName:         id.Owner,
		RepoName:        id.Name,
		WebhookSecret:   secret,
		Description:     derefString(meta.Description),
		Url:             meta.URL,
		Language:        derefString(meta.Language),
		ForksCount:      int32(meta.ForksCount),
		StarsCount:      int32(meta.StarsCount),
		OpenIssuesCount: int32(meta.OpenIssuesCount),
		WatchersCount:   int32(meta.WatchersCount),
		RepoCreatedAt:   toTimestamptz(meta.RepoCreatedAt),
		RepoUpdatedAt:   toTimestamptz(meta.RepoUpdatedAt),
	}
}

func newWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
