// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"

	"github-commit-indexer/internal/database"
	custom_errors "github-commit-indexer/internal/errors"
	"github-commit-indexer/internal/model"
	"github-commit-indexer/internal/queue"
)

// Registrar registers repositories for indexing.
type Registrar interface {
	Register(ctx context.Context, id model.RepoIdentifier) (database.Repository, error)
}

// CommitFetcher reads commits live from the origin.
type CommitFetcher interface {
	FetchCommits(ctx context.Context, owner, name, since string, page, perPage int) (*model.CommitPage, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db         database.Querier
	registrar  Registrar
	fetcher    CommitFetcher
	dispatcher queue.Dispatcher
	logger     *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db database.Querier, registrar Registrar, fetcher CommitFetcher, dispatcher queue.Dispatcher, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:         db,
		registrar:  registrar,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		logger:     logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/commits", h.fetchCommits)
		r.Post("/repos", h.registerRepository)
		r.Get("/repos/{owner}/{name}", h.getRepository)
		r.Get("/repos/{owner}/{name}/commits", h.getCommits)
		r.Get("/repos/{owner}/{name}/stats/top-committers", h.getTopCommitters)
	})
	r.Post("/webhooks/github", h.githubWebhook)

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fetchCommits reads commits straight from the origin without touching the store.
// GET /v1/commits?orgName=&repoName=&sinceDate=&page=&perPage=
func (h *Handler) fetchCommits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	org, repo := q.Get("orgName"), q.Get("repoName")
	if org == "" || repo == "" {
		respondWithError(w, http.StatusBadRequest, "Both 'orgName' and 'repoName' are required.")
		return
	}

	since := q.Get("sinceDate")
	if since != "" {
		if _, err := time.Parse(time.RFC3339, since); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'sinceDate' parameter. Must be an RFC3339 timestamp.")
			return
		}
	}

	page, ok := intParam(q.Get("page"), 1, 1, 0)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid 'page' parameter. Must be a positive integer.")
		return
	}
	perPage, ok := intParam(q.Get("perPage"), 100, 1, 100)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid 'perPage' parameter. Must be an integer between 1 and 100.")
		return
	}

	commits, err := h.fetcher.FetchCommits(r.Context(), org, repo, since, page, perPage)
	if err != nil {
		h.logger.Error("Failed to fetch commits from origin", "owner", org, "repo", repo, "error", err)
		respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, commits)
}

type registerRequest struct {
	OrgName  string `json:"orgName"`
	RepoName string `json:"repoName"`
}

// registerRepository registers a repository and triggers its indexing.
// POST /v1/repos
func (h *Handler) registerRepository(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id, err := model.ParseRepoIdentifier(req.OrgName + "/" + req.RepoName)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.registrar.Register(r.Context(), id); err != nil {
		var notExist *custom_errors.ErrRepositoryNotExist
		if errors.As(err, &notExist) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("Failed to register repository", "owner", id.Owner, "repo", id.Name, "error", err)
		respondWithError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("Indexing for repository %s has been triggered.", id),
	})
}

type repositoryResponse struct {
	database.Repository
	CommitCount int64 `json:"commit_count"`
}

// getRepository returns the stored metadata and indexing state of a repository.
// GET /v1/repos/{owner}/{name}
func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.loadRepository(w, r)
	if !ok {
		return
	}

	count, err := h.db.CountCommitsByRepoID(r.Context(), repo.ID)
	if err != nil {
		h.logger.Error("Failed to count commits", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, repositoryResponse{Repository: repo, CommitCount: count})
}

// getCommits handles the request to retrieve commits for a repository.
// GET /v1/repos/{owner}/{name}/commits
func (h *Handler) getCommits(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.loadRepository(w, r)
	if !ok {
		return
	}

	commits, err := h.db.GetCommitsByRepoID(r.Context(), repo.ID)
	if err != nil {
		h.logger.Error("Failed to get commits", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if commits == nil {
		commits = []database.Commit{}
	}

	respondWithJSON(w, http.StatusOK, commits)
}

// getTopCommitters handles the request for top commit authors.
// GET /v1/repos/{owner}/{name}/stats/top-committers?limit=N
func (h *Handler) getTopCommitters(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r.URL.Query().Get("limit"), 10, 1, 100)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return
	}

	repo, ok := h.loadRepository(w, r)
	if !ok {
		return
	}

	authors, err := h.db.GetTopNCommitAuthors(r.Context(), database.GetTopNCommitAuthorsParams{
		RepositoryID: repo.ID,
		Limit:        int32(limit),
	})
	if err != nil {
		h.logger.Error("Failed to get top commit authors", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if authors == nil {
		authors = []database.GetTopNCommitAuthorsRow{}
	}

	respondWithJSON(w, http.StatusOK, authors)
}

// loadRepository resolves the {owner}/{name} route parameters. On failure it writes the
// response and returns false.
func (h *Handler) loadRepository(w http.ResponseWriter, r *http.Request) (database.Repository, bool) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	repo, err := h.db.GetRepositoryByOwnerAndName(r.Context(), database.GetRepositoryByOwnerAndNameParams{
		Owner: owner,
		Name:  name,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return database.Repository{}, false
		}
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return database.Repository{}, false
	}
	return repo, true
}

// intParam parses an optional integer query parameter. hi <= 0 means unbounded.
func intParam(raw string, def, lo, hi int) (int, bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || (hi > 0 && v > hi) {
		return 0, false
	}
	return v, true
}
