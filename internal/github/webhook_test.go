// internal/github/webhook_test.go
package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-commit-indexer/internal/model"
)

const pushPayload = `{
	"ref": "refs/heads/main",
	"repository": {"name": "repo", "full_name": "org/repo", "owner": {"login": "org", "name": "org"}},
	"commits": [
		{
			"id": "abc",
			"message": "Initial commit",
			"timestamp": "2021-08-01T02:00:00+02:00",
			"url": "http://github.com/commit1",
			"author": {"name": "John Doe", "email": "john@example.com"}
		}
	]
}`

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestParseWebhook(t *testing.T) {
	t.Run("push delivery carries the commits", func(t *testing.T) {
		delivery, err := ParseWebhook(EventPush, []byte(pushPayload))

		require.NoError(t, err)
		assert.Equal(t, model.RepoIdentifier{Owner: "org", Name: "repo"}, delivery.Repo)
		assert.Equal(t, []model.Commit{{
			CommitMessage: "Initial commit",
			Author:        "John Doe",
			CommitDate:    "2021-08-01T00:00:00Z",
			CommitURL:     "http://github.com/commit1",
		}}, delivery.Commits)
	})

	t.Run("ping delivery only names the repository", func(t *testing.T) {
		delivery, err := ParseWebhook(EventPing, []byte(`{"zen": "hi", "repository": {"name": "repo", "owner": {"login": "org"}}}`))

		require.NoError(t, err)
		assert.Equal(t, "org/repo", delivery.Repo.String())
		assert.Empty(t, delivery.Commits)
	})

	t.Run("rejects payloads without a repository", func(t *testing.T) {
		_, err := ParseWebhook(EventPush, []byte(`{"commits": []}`))
		assert.Error(t, err)

		_, err = ParseWebhook(EventPush, []byte(`not json`))
		assert.Error(t, err)
	})
}

func TestValidateSignature(t *testing.T) {
	payload := []byte(pushPayload)

	assert.NoError(t, ValidateSignature(sign(payload, "s3cret"), payload, "s3cret"))
	assert.Error(t, ValidateSignature(sign(payload, "other"), payload, "s3cret"))
	assert.Error(t, ValidateSignature("", payload, "s3cret"))
}
