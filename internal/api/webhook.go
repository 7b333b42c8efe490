// internal/api/webhook.go
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github-commit-indexer/internal/database"
	"github-commit-indexer/internal/github"
	"github-commit-indexer/internal/queue"
)

const maxWebhookPayload = 25 << 20

// githubWebhook accepts push deliveries for registered repositories and hands their
// commits to the workers.
// POST /webhooks/github
func (h *Handler) githubWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookPayload))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unable to read payload")
		return
	}

	event := r.Header.Get(github.EventTypeHeader)
	delivery, err := github.ParseWebhook(event, payload)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger := h.logger.With("event", event, "owner", delivery.Repo.Owner, "repo", delivery.Repo.Name)

	repo, err := h.db.GetRepositoryByOwnerAndName(r.Context(), database.GetRepositoryByOwnerAndNameParams{
		Owner: delivery.Repo.Owner,
		Name:  delivery.Repo.Name,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		logger.Warn("Webhook for unknown repository")
		respondWithError(w, http.StatusUnauthorized, "Unknown repository")
		return
	} else if err != nil {
		logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := github.ValidateSignature(r.Header.Get(github.SignatureHeader), payload, repo.WebhookSecret); err != nil {
		logger.Warn("Webhook signature mismatch", "error", err)
		respondWithError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	if delivery.Event != github.EventPush || len(delivery.Commits) == 0 {
		respondWithJSON(w, http.StatusOK, map[string]string{"message": "ok"})
		return
	}

	err = h.dispatcher.DispatchPersist(r.Context(), queue.PersistJob{
		OrgName:  repo.OrgName,
		RepoName: repo.RepoName,
		Commits:  delivery.Commits,
	})
	if err != nil {
		logger.Error("Failed to dispatch pushed commits", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	logger.Info("Dispatched pushed commits", "count", len(delivery.Commits))
	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("%d commits queued for %s", len(delivery.Commits), delivery.Repo),
	})
}
