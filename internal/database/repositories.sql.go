// internal/database/repositories.sql.go
package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const repositoryColumns = `id, org_name, repo_name, webhook_secret, description, url, language,
    forks_count, stars_count, open_issues_count, watchers_count, repo_created_at, repo_updated_at,
    last_commit_url, last_commit_at, indexing_complete, created_at, updated_at,
    backfill_until, backfill_head_at, backfill_tail_url`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRepository(row rowScanner) (Repository, error) {
	var i Repository
	err := row.Scan(
		&i.ID,
		&i.OrgName,
		&i.RepoName,
		&i.WebhookSecret,
		&i.Description,
		&i.Url,
		&i.Language,
		&i.ForksCount,
		&i.StarsCount,
		&i.OpenIssuesCount,
		&i.WatchersCount,
		&i.RepoCreatedAt,
		&i.RepoUpdatedAt,
		&i.LastCommitUrl,
		&i.LastCommitAt,
		&i.IndexingComplete,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.BackfillUntil,
		&i.BackfillHeadAt,
		&i.BackfillTailUrl,
	)
	return i, err
}

const upsertRepository = `-- name: UpsertRepository :one
INSERT INTO repositories (
    org_name, repo_name, webhook_secret, description, url, language,
    forks_count, stars_count, open_issues_count, watchers_count, repo_created_at, repo_updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
)
ON CONFLICT (org_name, repo_name) DO UPDATE SET
    description       = EXCLUDED.description,
    url               = EXCLUDED.url,
    language          = EXCLUDED.language,
    forks_count       = EXCLUDED.forks_count,
    stars_count       = EXCLUDED.stars_count,
    open_issues_count = EXCLUDED.open_issues_count,
    watchers_count    = EXCLUDED.watchers_count,
    repo_created_at   = EXCLUDED.repo_created_at,
    repo_updated_at   = EXCLUDED.repo_updated_at,
    last_commit_url   = '',
    last_commit_at    = NULL,
    indexing_complete = FALSE,
    backfill_until    = NULL,
    backfill_head_at  = NULL,
    backfill_tail_url = '',
    updated_at        = now()
RETURNING ` + repositoryColumns

type UpsertRepositoryParams struct {
	OrgName         string
	RepoName        string
	WebhookSecret   string
	Description     string
	Url             string
	Language        string
	ForksCount      int32
	StarsCount      int32
	OpenIssuesCount int32
	WatchersCount   int32
	RepoCreatedAt   pgtype.Timestamptz
	RepoUpdatedAt   pgtype.Timestamptz
}

// UpsertRepository creates the repository row or refreshes its metadata in one statement.
// An existing row keeps its webhook secret; its cursor is reset and indexing restarts.
func (q *Queries) UpsertRepository(ctx context.Context, arg UpsertRepositoryParams) (Repository, error) {
	row := q.db.QueryRow(ctx, upsertRepository,
		arg.OrgName,
		arg.RepoName,
		arg.WebhookSecret,
		arg.Description,
		arg.Url,
		arg.Language,
		arg.ForksCount,
		arg.StarsCount,
		arg.OpenIssuesCount,
		arg.WatchersCount,
		arg.RepoCreatedAt,
		arg.RepoUpdatedAt,
	)
	return scanRepository(row)
}

const getRepositoryByOwnerAndName = `-- name: GetRepositoryByOwnerAndName :one
SELECT ` + repositoryColumns + `
FROM repositories
WHERE org_name = $1 AND repo_name = $2`

type GetRepositoryByOwnerAndNameParams struct {
	Owner string
	Name  string
}

func (q *Queries) GetRepositoryByOwnerAndName(ctx context.Context, arg GetRepositoryByOwnerAndNameParams) (Repository, error) {
	row := q.db.QueryRow(ctx, getRepositoryByOwnerAndName, arg.Owner, arg.Name)
	return scanRepository(row)
}

const listRepositories = `-- name: ListRepositories :many
SELECT ` + repositoryColumns + `
FROM repositories
ORDER BY id
LIMIT $1 OFFSET $2`

type ListRepositoriesParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListRepositories(ctx context.Context, arg ListRepositoriesParams) ([]Repository, error) {
	rows, err := q.db.Query(ctx, listRepositories, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Repository
	for rows.Next() {
		i, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const advanceRepositoryCursor = `-- name: AdvanceRepositoryCursor :execrows
UPDATE repositories
SET last_commit_url   = $2,
    last_commit_at    = COALESCE($3::timestamptz, last_commit_at),
    backfill_until    = NULL,
    backfill_head_at  = NULL,
    backfill_tail_url = '',
    updated_at        = now()
WHERE id = $1
  AND (
    ($3::timestamptz IS NULL AND last_commit_at IS NULL)
    OR ($3::timestamptz IS NOT NULL AND (last_commit_at IS NULL OR last_commit_at <= $3::timestamptz))
  )`

type AdvanceRepositoryCursorParams struct {
	ID            int64
	LastCommitUrl string
	LastCommitAt  pgtype.Timestamptz
}

// AdvanceRepositoryCursor moves the cursor forward and clears any backfill progress. The
// update is conditional on the stored resume timestamp not being newer, so overlapping
// cycles cannot move it backwards. Without a timestamp it only applies to a repository
// that has none yet. It returns the number of rows changed.
func (q *Queries) AdvanceRepositoryCursor(ctx context.Context, arg AdvanceRepositoryCursorParams) (int64, error) {
	result, err := q.db.Exec(ctx, advanceRepositoryCursor, arg.ID, arg.LastCommitUrl, arg.LastCommitAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const recordBackfillProgress = `-- name: RecordBackfillProgress :execrows
UPDATE repositories
SET backfill_until    = $2,
    backfill_head_at  = $3,
    backfill_tail_url = $4,
    updated_at        = now()
WHERE id = $1
  AND (backfill_until IS NULL OR backfill_until >= $2)
  AND (last_commit_at IS NULL OR last_commit_at < $2)`

type RecordBackfillProgressParams struct {
	ID              int64
	BackfillUntil   pgtype.Timestamptz
	BackfillHeadAt  pgtype.Timestamptz
	BackfillTailUrl string
}

// RecordBackfillProgress stores how far back an unfinished walk over the commits after the
// cursor got. BackfillUntil only moves further back, and progress that falls behind the
// cursor is ignored. It returns the number of rows changed.
func (q *Queries) RecordBackfillProgress(ctx context.Context, arg RecordBackfillProgressParams) (int64, error) {
	result, err := q.db.Exec(ctx, recordBackfillProgress, arg.ID, arg.BackfillUntil, arg.BackfillHeadAt, arg.BackfillTailUrl)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const setRepositoryIndexingComplete = `-- name: SetRepositoryIndexingComplete :exec
UPDATE repositories
SET indexing_complete = $2,
    updated_at        = now()
WHERE id = $1`

type SetRepositoryIndexingCompleteParams struct {
	ID               int64
	IndexingComplete bool
}

func (q *Queries) SetRepositoryIndexingComplete(ctx context.Context, arg SetRepositoryIndexingCompleteParams) error {
	_, err := q.db.Exec(ctx, setRepositoryIndexingComplete, arg.ID, arg.IndexingComplete)
	return err
}
