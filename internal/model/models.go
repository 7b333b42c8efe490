// internal/model/models.go
package model

import (
	"strings"
	"time"

	custom_errors "github-commit-indexer/internal/errors"
)

// RepositoryMetadata is the descriptive metadata the origin returns for a repository.
type RepositoryMetadata struct {
	Name            string     `json:"name"`
	Description     *string    `json:"description"`
	URL             string     `json:"url"`
	Language        *string    `json:"language"`
	ForksCount      int        `json:"forks_count"`
	StarsCount      int        `json:"stars_count"`
	OpenIssuesCount int        `json:"open_issues_count"`
	WatchersCount   int        `json:"watchers_count"`
	RepoCreatedAt   *time.Time `json:"created_at"`
	RepoUpdatedAt   *time.Time `json:"updated_at"`
}

// Commit is one commit record as fetched from the origin. CommitDate is kept as the
// origin supplied it; CommitURL identifies the commit within its repository.
type Commit struct {
	CommitMessage string `json:"commitMessage"`
	Author        string `json:"author"`
	CommitDate    string `json:"commitDate"`
	CommitURL     string `json:"commitUrl"`

	// CommitterDate is the date the origin orders and filters listings by. It is not
	// part of the stored record.
	CommitterDate string `json:"-"`
}

// ListedAt returns the time the origin lists c under: the committer date when known,
// the author date otherwise.
func (c Commit) ListedAt() (time.Time, bool) {
	date := c.CommitterDate
	if date == "" {
		date = c.CommitDate
	}
	t, err := time.Parse(time.RFC3339, date)
	return t, err == nil
}

// CommitWindow bounds a commit listing by ListedAt time. Zero values leave that end open.
type CommitWindow struct {
	Since time.Time
	Until time.Time
}

// CommitPage is the result of one paginated fetch.
type CommitPage struct {
	TotalRecords int      `json:"totalRecords"`
	Commits      []Commit `json:"commits"`
}

// RepoIdentifier holds the owner and name of a repository.
type RepoIdentifier struct {
	Owner string
	Name  string
}

func (r RepoIdentifier) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoIdentifier parses an 'owner/name' string.
func ParseRepoIdentifier(s string) (RepoIdentifier, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoIdentifier{}, &custom_errors.ErrInvalidRepoFormat{Repo: s}
	}
	return RepoIdentifier{Owner: parts[0], Name: parts[1]}, nil
}

// LatestCommitTime returns the newest ListedAt time in commits. ok is false when none of
// the dates parse as RFC3339.
func LatestCommitTime(commits []Commit) (latest time.Time, ok bool) {
	for _, c := range commits {
		t, parsed := c.ListedAt()
		if !parsed {
			continue
		}
		if !ok || t.After(latest) {
			latest = t
			ok = true
		}
	}
	return latest, ok
}

// EarliestCommitTime returns the oldest ListedAt time in commits.
func EarliestCommitTime(commits []Commit) (earliest time.Time, ok bool) {
	for _, c := range commits {
		t, parsed := c.ListedAt()
		if !parsed {
			continue
		}
		if !ok || t.Before(earliest) {
			earliest = t
			ok = true
		}
	}
	return earliest, ok
}
