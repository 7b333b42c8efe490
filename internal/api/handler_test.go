// internal/api/handler_test.go
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-commit-indexer/internal/database"
	"github-commit-indexer/internal/database/dbmock"
	custom_errors "github-commit-indexer/internal/errors"
	"github-commit-indexer/internal/github"
	"github-commit-indexer/internal/model"
	"github-commit-indexer/internal/queue"
)

type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) Register(ctx context.Context, id model.RepoIdentifier) (database.Repository, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(database.Repository), args.Error(1)
}

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchCommits(ctx context.Context, owner, name, since string, page, perPage int) (*model.CommitPage, error) {
	args := m.Called(ctx, owner, name, since, page, perPage)
	commits, _ := args.Get(0).(*model.CommitPage)
	return commits, args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) DispatchFetch(ctx context.Context, job queue.FetchJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockDispatcher) DispatchPersist(ctx context.Context, job queue.PersistJob) error {
	return m.Called(ctx, job).Error(0)
}

type testDeps struct {
	db         *dbmock.MockQuerier
	registrar  *MockRegistrar
	fetcher    *MockFetcher
	dispatcher *MockDispatcher
	router     http.Handler
}

func newTestRouter() *testDeps {
	d := &testDeps{
		db:         new(dbmock.MockQuerier),
		registrar:  new(MockRegistrar),
		fetcher:    new(MockFetcher),
		dispatcher: new(MockDispatcher),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d.router = NewRouter(d.db, d.registrar, d.fetcher, d.dispatcher, logger)
	return d
}

func (d *testDeps) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	d.router.ServeHTTP(rr, req)
	return rr
}

var storedRepo = database.Repository{ID: 3, OrgName: "org", RepoName: "repo", WebhookSecret: "s3cret"}

func TestHealth(t *testing.T) {
	d := newTestRouter()
	rr := d.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestFetchCommits(t *testing.T) {
	t.Run("returns the origin result", func(t *testing.T) {
		d := newTestRouter()
		d.fetcher.On("FetchCommits", mock.Anything, "org", "repo", "2021-08-01T00:00:00Z", 2, 50).Return(&model.CommitPage{
			TotalRecords: 1,
			Commits: []model.Commit{{
				CommitMessage: "Initial commit",
				Author:        "John Doe",
				CommitDate:    "2021-08-01T00:00:00Z",
				CommitURL:     "http://github.com/commit1",
			}},
		}, nil).Once()

		rr := d.do(httptest.NewRequest(http.MethodGet, "/v1/commits?orgName=org&repoName=repo&sinceDate=2021-08-01T00:00:00Z&page=2&perPage=50", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"totalRecords":1,"commits":[{"commitMessage":"Initial commit","author":"John Doe","commitDate":"2021-08-01T00:00:00Z","commitUrl":"http://github.com/commit1"}]}`, rr.Body.String())
	})

	t.Run("validates parameters", func(t *testing.T) {
		d := newTestRouter()
		for _, query := range []string{
			"repoName=repo",
			"orgName=org&repoName=repo&sinceDate=yesterday",
			"orgName=org&repoName=repo&page=0",
			"orgName=org&repoName=repo&perPage=101",
		} {
			rr := d.do(httptest.NewRequest(http.MethodGet, "/v1/commits?"+query, nil))
			assert.Equal(t, http.StatusBadRequest, rr.Code, query)
		}
		d.fetcher.AssertNotCalled(t, "FetchCommits")
	})

	t.Run("origin failure", func(t *testing.T) {
		d := newTestRouter()
		d.fetcher.On("FetchCommits", mock.Anything, "org", "repo", "", 1, 100).Return(nil, errors.New("rate limited")).Once()

		rr := d.do(httptest.NewRequest(http.MethodGet, "/v1/commits?orgName=org&repoName=repo", nil))

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Contains(t, rr.Body.String(), "rate limited")
	})
}

func TestRegisterRepository(t *testing.T) {
	id := model.RepoIdentifier{Owner: "org", Name: "repo"}

	t.Run("accepted", func(t *testing.T) {
		d := newTestRouter()
		d.registrar.On("Register", mock.Anything, id).Return(storedRepo, nil).Once()

		rr := d.do(httptest.NewRequest(http.MethodPost, "/v1/repos", strings.NewReader(`{"orgName":"org","repoName":"repo"}`)))

		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.JSONEq(t, `{"message":"Indexing for repository org/repo has been triggered."}`, rr.Body.String())
	})

	t.Run("phantom repository", func(t *testing.T) {
		d := newTestRouter()
		d.registrar.On("Register", mock.Anything, id).
			Return(database.Repository{}, &custom_errors.ErrRepositoryNotExist{Org: "org", Repo: "repo"}).Once()

		rr := d.do(httptest.NewRequest(http.MethodPost, "/v1/repos", strings.NewReader(`{"orgName":"org","repoName":"repo"}`)))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error":"repository org/repo does not exist"}`, rr.Body.String())
	})

	t.Run("bad input", func(t *testing.T) {
		d := newTestRouter()
		for _, body := range []string{`{"orgName":"org"}`, `not json`} {
			rr := d.do(httptest.NewRequest(http.MethodPost, "/v1/repos", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		}
		d.registrar.AssertNotCalled(t, "Register")
	})
}

func TestGetRepository(t *testing.T) {
	d := newTestRouter()
	d.db.On("GetRepositoryByOwnerAndName", mock.Anything, database.GetRepositoryByOwnerAndNameParams{Owner: "org", Name: "repo"}).Return(storedRepo, nil).Once()
	d.db.On("CountCommitsByRepoID", mock.Anything, storedRepo.ID).Return(int64(42), nil).Once()

	rr := d.do(httptest.NewRequest(http.MethodGet, "/v1/repos/org/repo", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(42), body["commit_count"])
	assert.Equal(t, "org", body["org_name"])
	assert.NotContains(t, rr.Body.String(), "s3cret")
}

func TestGetCommits(t *testing.T) {
	t.Run("returns stored commits", func(t *testing.T) {
		d := newTestRouter()
		d.db.On("GetRepositoryByOwnerAndName", mock.Anything, mock.Anything).Return(storedRepo, nil).Once()
		d.db.On("GetCommitsByRepoID", mock.Anything, storedRepo.ID).Return([]database.Commit{{ID: 1, Author: "John Doe", Url: "http://github.com/commit1"}}, nil).Once()

		rr := d.do(httptest.NewRequest(http.MethodGet, "/v1/repos/org/repo/commits", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "http://github.com/commit1")
	})

	t.Run("unknown repository", func(t *testing.T) {
		d := newTestRouter()
		d.db.On("GetRepositoryByOwnerAndName", mock.Anything, mock.Anything).Return(database.Repository{}, pgx.ErrNoRows).Once()

		rr := d.do(httptest.NewRequest(http.MethodGet, "/v1/repos/org/missing/commits", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestGetTopCommitters(t *testing.T) {
	t.Run("uses the default limit", func(t *testing.T) {
		d := newTestRouter()
		d.db.On("GetRepositoryByOwnerAndName", mock.Anything, mock.Anything).Return(storedRepo, nil).Once()
		d.db.On("GetTopNCommitAuthors", mock.Anything, database.GetTopNCommitAuthorsParams{RepositoryID: storedRepo.ID, Limit: 10}).
			Return([]database.GetTopNCommitAuthorsRow{{Author: "John Doe", CommitCount: 5}}, nil).Once()

		rr := d.do(httptest.NewRequest(http.MethodGet, "/v1/repos/org/repo/stats/top-committers", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[{"author":"John Doe","count":5}]`, rr.Body.String())
	})

	t.Run("rejects an out of range limit", func(t *testing.T) {
		d := newTestRouter()
		rr := d.do(httptest.NewRequest(http.MethodGet, "/v1/repos/org/repo/stats/top-committers?limit=500", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		d.db.AssertNotCalled(t, "GetRepositoryByOwnerAndName")
	})
}

const pushPayload = `{
	"ref": "refs/heads/main",
	"repository": {"name": "repo", "owner": {"login": "org"}},
	"commits": [
		{
			"id": "abc",
			"message": "Initial commit",
			"timestamp": "2021-08-01T00:00:00Z",
			"url": "http://github.com/commit1",
			"author": {"name": "John Doe"}
		}
	]
}`

func signPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(event, payload, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(payload))
	req.Header.Set(github.EventTypeHeader, event)
	req.Header.Set(github.SignatureHeader, signature)
	return req
}

func TestGithubWebhook(t *testing.T) {
	lookup := database.GetRepositoryByOwnerAndNameParams{Owner: "org", Name: "repo"}

	t.Run("push enqueues the commits", func(t *testing.T) {
		d := newTestRouter()
		d.db.On("GetRepositoryByOwnerAndName", mock.Anything, lookup).Return(storedRepo, nil).Once()
		d.dispatcher.On("DispatchPersist", mock.Anything, queue.PersistJob{
			OrgName:  "org",
			RepoName: "repo",
			Commits: []model.Commit{{
				CommitMessage: "Initial commit",
				Author:        "John Doe",
				CommitDate:    "2021-08-01T00:00:00Z",
				CommitURL:     "http://github.com/commit1",
			}},
		}).Return(nil).Once()

		rr := d.do(webhookRequest(github.EventPush, pushPayload, signPayload(pushPayload, "s3cret")))

		assert.Equal(t, http.StatusAccepted, rr.Code)
		d.dispatcher.AssertExpectations(t)
	})

	t.Run("signature mismatch", func(t *testing.T) {
		d := newTestRouter()
		d.db.On("GetRepositoryByOwnerAndName", mock.Anything, lookup).Return(storedRepo, nil).Once()

		rr := d.do(webhookRequest(github.EventPush, pushPayload, signPayload(pushPayload, "wrong")))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		d.dispatcher.AssertNotCalled(t, "DispatchPersist")
	})

	t.Run("unknown repository", func(t *testing.T) {
		d := newTestRouter()
		d.db.On("GetRepositoryByOwnerAndName", mock.Anything, lookup).Return(database.Repository{}, pgx.ErrNoRows).Once()

		rr := d.do(webhookRequest(github.EventPush, pushPayload, signPayload(pushPayload, "s3cret")))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		d.dispatcher.AssertNotCalled(t, "DispatchPersist")
	})

	t.Run("ping is acknowledged", func(t *testing.T) {
		d := newTestRouter()
		ping := `{"zen": "hi", "repository": {"name": "repo", "owner": {"login": "org"}}}`
		d.db.On("GetRepositoryByOwnerAndName", mock.Anything, lookup).Return(storedRepo, nil).Once()

		rr := d.do(webhookRequest(github.EventPing, ping, signPayload(ping, "s3cret")))

		assert.Equal(t, http.StatusOK, rr.Code)
		d.dispatcher.AssertNotCalled(t, "DispatchPersist")
	})

	t.Run("malformed payload", func(t *testing.T) {
		d := newTestRouter()
		rr := d.do(webhookRequest(github.EventPush, `{`, "sha256=00"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
