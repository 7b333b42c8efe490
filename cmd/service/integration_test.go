//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-commit-indexer/internal/cache"
	"github-commit-indexer/internal/database"
	"github-commit-indexer/internal/database/dbtest"
	"github-commit-indexer/internal/github"
	"github-commit-indexer/internal/model"
	"github-commit-indexer/internal/queue"
	"github-commit-indexer/internal/syncer"
	"github-commit-indexer/internal/worker"
)

// newOrigin serves one repository with a single commit. Requests with a since filter get
// nothing back, as the commit is older than any resume point.
func newOrigin(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/org/repo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name": "repo", "html_url": "https://github.com/org/repo", "stargazers_count": 3}`))
	})
	mux.HandleFunc("/repos/org/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	})
	mux.HandleFunc("/repos/org/repo/commits", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("since") != "" || r.URL.Query().Get("page") != "1" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{
			"html_url": "http://github.com/commit1",
			"commit": {"message": "Initial commit", "author": {"name": "John Doe", "date": "2021-08-01T00:00:00Z"}}
		}]`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestIndexingPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	dbpool := dbtest.NewPool(t)
	queries := database.New(dbpool)
	origin := newOrigin(t)

	kv, err := cache.NewRistretto(logger)
	require.NoError(t, err)
	defer kv.Close()

	q, err := queue.NewEmbedded(ctx, t.TempDir(), queue.Options{MaxDeliver: 3, AckWait: time.Minute}, logger)
	require.NoError(t, err)
	defer q.Close()

	ghClient, err := github.NewClient(github.Options{BaseURL: origin.URL, Timeout: 5 * time.Second}, logger)
	require.NoError(t, err)

	commitWorker := worker.New(queries, kv, worker.Options{FastPath: true, Timeout: time.Minute}, logger)
	appSyncer := syncer.NewSyncer(queries, ghClient, q, kv, syncer.Options{
		SweepInterval:    time.Hour,
		BatchSize:        50,
		RepoTimeout:      time.Minute,
		MaxCatchUpRounds: 3,
		PageSize:         100,
	}, logger)

	persistJobs, err := q.Consume(ctx, queue.SubjectPersist, persistConsumer, 2, commitWorker.HandlePersist)
	require.NoError(t, err)
	defer persistJobs.Stop()
	fetchJobs, err := q.Consume(ctx, queue.SubjectFetch, fetchConsumer, 2, appSyncer.HandleFetch)
	require.NoError(t, err)
	defer fetchJobs.Stop()

	t.Run("phantom registration writes nothing", func(t *testing.T) {
		_, err := appSyncer.Register(ctx, model.RepoIdentifier{Owner: "org", Name: "missing"})
		assert.EqualError(t, err, "repository org/missing does not exist")

		repos, err := queries.ListRepositories(ctx, database.ListRepositoriesParams{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, repos)
	})

	t.Run("registration indexes the repository", func(t *testing.T) {
		repo, err := appSyncer.Register(ctx, model.RepoIdentifier{Owner: "org", Name: "repo"})
		require.NoError(t, err)
		assert.Equal(t, int32(3), repo.StarsCount)
		assert.NotEmpty(t, repo.WebhookSecret)

		assert.Eventually(t, func() bool {
			stored, err := queries.GetRepositoryByOwnerAndName(ctx, database.GetRepositoryByOwnerAndNameParams{Owner: "org", Name: "repo"})
			if err != nil || !stored.IndexingComplete {
				return false
			}
			count, err := queries.CountCommitsByRepoID(ctx, stored.ID)
			return err == nil && count == 1
		}, 20*time.Second, 100*time.Millisecond)

		stored, err := queries.GetRepositoryByOwnerAndName(ctx, database.GetRepositoryByOwnerAndNameParams{Owner: "org", Name: "repo"})
		require.NoError(t, err)
		assert.Equal(t, "http://github.com/commit1", stored.LastCommitUrl)
	})

	t.Run("sweeps and redelivered batches add nothing", func(t *testing.T) {
		require.NoError(t, appSyncer.Sweep(ctx))

		batch := queue.PersistJob{
			OrgName:  "org",
			RepoName: "repo",
			Commits: []model.Commit{{
				CommitMessage: "Initial commit",
				Author:        "John Doe",
				CommitDate:    "2021-08-01T00:00:00Z",
				CommitURL:     "http://github.com/commit1",
			}},
		}
		payload, err := json.Marshal(batch)
		require.NoError(t, err)
		require.NoError(t, commitWorker.HandlePersist(ctx, payload))
		require.NoError(t, q.DispatchPersist(ctx, batch))

		stored, err := queries.GetRepositoryByOwnerAndName(ctx, database.GetRepositoryByOwnerAndNameParams{Owner: "org", Name: "repo"})
		require.NoError(t, err)

		assert.Never(t, func() bool {
			count, err := queries.CountCommitsByRepoID(ctx, stored.ID)
			return err != nil || count != 1
		}, time.Second, 100*time.Millisecond)

		authors, err := queries.GetTopNCommitAuthors(ctx, database.GetTopNCommitAuthorsParams{RepositoryID: stored.ID, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []database.GetTopNCommitAuthorsRow{{Author: "John Doe", CommitCount: 1}}, authors)
	})
}
