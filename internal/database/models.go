// internal/database/models.go
package database

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type Repository struct {
	ID               int64              `json:"id"`
	OrgName          string             `json:"org_name"`
	RepoName         string             `json:"repo_name"`
	WebhookSecret    string             `json:"-"`
	Description      string             `json:"description"`
	Url              string             `json:"url"`
	Language         string             `json:"language"`
	ForksCount       int32              `json:"forks_count"`
	StarsCount       int32              `json:"stars_count"`
	OpenIssuesCount  int32              `json:"open_issues_count"`
	WatchersCount    int32              `json:"watchers_count"`
	RepoCreatedAt    pgtype.Timestamptz `json:"repo_created_at"`
	RepoUpdatedAt    pgtype.Timestamptz `json:"repo_updated_at"`
	LastCommitUrl    string             `json:"last_commit_url"`
	LastCommitAt     pgtype.Timestamptz `json:"last_commit_at"`
	IndexingComplete bool               `json:"indexing_complete"`
	BackfillUntil    pgtype.Timestamptz `json:"backfill_until"`
	BackfillHeadAt   pgtype.Timestamptz `json:"backfill_head_at"`
	BackfillTailUrl  string             `json:"backfill_tail_url"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type Commit struct {
	ID           int64     `json:"id"`
	RepositoryID int64     `json:"repository_id"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	CommitDate   string    `json:"commit_date"`
	Url          string    `json:"url"`
	CreatedAt    time.Time `json:"created_at"`
}
