// internal/queue/messages.go
package queue

import (
	"github-commit-indexer/internal/model"
)

const (
	StreamName     = "INDEXING"
	SubjectFetch   = StreamName + ".fetch"
	SubjectPersist = StreamName + ".persist"
)

// FetchJob asks for a repository's commits to be fetched starting at its cursor.
type FetchJob struct {
	JobID          string `json:"jobId"`
	OrgName        string `json:"orgName"`
	RepoName       string `json:"repoName"`
	SinceCommitURL string `json:"sinceCommitUrl"`
}

// PersistJob carries a batch of candidate commits for one repository. It may be
// delivered more than once.
type PersistJob struct {
	JobID    string         `json:"jobId"`
	Commits  []model.Commit `json:"commits"`
	OrgName  string         `json:"orgName"`
	RepoName string         `json:"repoName"`
}
