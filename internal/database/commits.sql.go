// internal/database/commits.sql.go
package database

import (
	"context"
)

const createCommit = `-- name: CreateCommit :execrows
INSERT INTO commits (repository_id, message, author, commit_date, url)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (repository_id, url) DO NOTHING`

type CreateCommitParams struct {
	RepositoryID int64
	Message      string
	Author       string
	CommitDate   string
	Url          string
}

// CreateCommit inserts a commit and returns 1, or 0 when the repository already has a
// commit with the same url.
func (q *Queries) CreateCommit(ctx context.Context, arg CreateCommitParams) (int64, error) {
	result, err := q.db.Exec(ctx, createCommit,
		arg.RepositoryID,
		arg.Message,
		arg.Author,
		arg.CommitDate,
		arg.Url,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getCommitByURL = `-- name: GetCommitByURL :one
SELECT id, repository_id, message, author, commit_date, url, created_at
FROM commits
WHERE repository_id = $1 AND url = $2`

type GetCommitByURLParams struct {
	RepositoryID int64
	Url          string
}

func (q *Queries) GetCommitByURL(ctx context.Context, arg GetCommitByURLParams) (Commit, error) {
	row := q.db.QueryRow(ctx, getCommitByURL, arg.RepositoryID, arg.Url)
	var i Commit
	err := row.Scan(
		&i.ID,
		&i.RepositoryID,
		&i.Message,
		&i.Author,
		&i.CommitDate,
		&i.Url,
		&i.CreatedAt,
	)
	return i, err
}

const getCommitsByRepoID = `-- name: GetCommitsByRepoID :many
SELECT id, repository_id, message, author, commit_date, url, created_at
FROM commits
WHERE repository_id = $1
ORDER BY commit_date DESC, id DESC`

func (q *Queries) GetCommitsByRepoID(ctx context.Context, repositoryID int64) ([]Commit, error) {
	rows, err := q.db.Query(ctx, getCommitsByRepoID, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Commit
	for rows.Next() {
		var i Commit
		if err := rows.Scan(
			&i.ID,
			&i.RepositoryID,
			&i.Message,
			&i.Author,
			&i.CommitDate,
			&i.Url,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countCommitsByRepoID = `-- name: CountCommitsByRepoID :one
SELECT count(*) FROM commits WHERE repository_id = $1`

func (q *Queries) CountCommitsByRepoID(ctx context.Context, repositoryID int64) (int64, error) {
	row := q.db.QueryRow(ctx, countCommitsByRepoID, repositoryID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const getTopNCommitAuthors = `-- name: GetTopNCommitAuthors :many
SELECT author, count(*) AS commit_count
FROM commits
WHERE repository_id = $1
GROUP BY author
ORDER BY commit_count DESC, author
LIMIT $2`

type GetTopNCommitAuthorsParams struct {
	RepositoryID int64
	Limit        int32
}

type GetTopNCommitAuthorsRow struct {
	Author      string `json:"author"`
	CommitCount int64  `json:"count"`
}

func (q *Queries) GetTopNCommitAuthors(ctx context.Context, arg GetTopNCommitAuthorsParams) ([]GetTopNCommitAuthorsRow, error) {
	rows, err := q.db.Query(ctx, getTopNCommitAuthors, arg.RepositoryID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GetTopNCommitAuthorsRow
	for rows.Next() {
		var i GetTopNCommitAuthorsRow
		if err := rows.Scan(&i.Author, &i.CommitCount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
