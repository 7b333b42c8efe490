// internal/github/webhook.go
package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v62/github"

	"github-commit-indexer/internal/model"
)

const (
	EventTypeHeader = github.EventTypeHeader
	SignatureHeader = github.SHA256SignatureHeader

	EventPush = "push"
	EventPing = "ping"
)

// WebhookDelivery is a parsed webhook payload. It is not authenticated until
// ValidateSignature succeeds against the repository's secret.
type WebhookDelivery struct {
	Event   string
	Repo    model.RepoIdentifier
	Commits []model.Commit
}

type webhookRepository struct {
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
			Name  string `json:"name"`
		} `json:"owner"`
	} `json:"repository"`
}

// ParseWebhook extracts the repository identity from any delivery, and the commit list
// from push deliveries.
func ParseWebhook(event string, payload []byte) (*WebhookDelivery, error) {
	var head webhookRepository
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	owner := head.Repository.Owner.Login
	if owner == "" {
		owner = head.Repository.Owner.Name
	}
	if owner == "" || head.Repository.Name == "" {
		return nil, errors.New("webhook payload does not name a repository")
	}

	delivery := &WebhookDelivery{
		Event: event,
		Repo:  model.RepoIdentifier{Owner: owner, Name: head.Repository.Name},
	}
	if event != EventPush {
		return delivery, nil
	}

	parsed, err := github.ParseWebHook(event, payload)
	if err != nil {
		return nil, fmt.Errorf("invalid push payload: %w", err)
	}
	push, ok := parsed.(*github.PushEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T for push event", parsed)
	}
	for _, hc := range push.Commits {
		delivery.Commits = append(delivery.Commits, fromHeadCommit(hc))
	}
	return delivery, nil
}

// ValidateSignature checks an X-Hub-Signature-256 header value against the payload.
func ValidateSignature(signature string, payload []byte, secret string) error {
	return github.ValidateSignature(signature, payload, []byte(secret))
}

func fromHeadCommit(hc *github.HeadCommit) model.Commit {
	commit := model.Commit{
		CommitMessage: hc.GetMessage(),
		Author:        hc.GetAuthor().GetName(),
		CommitURL:     hc.GetURL(),
	}
	if hc.Timestamp != nil {
		commit.CommitDate = hc.Timestamp.UTC().Format(time.RFC3339)
	}
	return commit
}
