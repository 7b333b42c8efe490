// internal/database/querier.go
package database

import (
	"context"
)

// Querier is the storage boundary the indexing pipeline depends on.
type Querier interface {
	AdvanceRepositoryCursor(ctx context.Context, arg AdvanceRepositoryCursorParams) (int64, error)
	CountCommitsByRepoID(ctx context.Context, repositoryID int64) (int64, error)
	CreateCommit(ctx context.Context, arg CreateCommitParams) (int64, error)
	GetCommitByURL(ctx context.Context, arg GetCommitByURLParams) (Commit, error)
	GetCommitsByRepoID(ctx context.Context, repositoryID int64) ([]Commit, error)
	GetRepositoryByOwnerAndName(ctx context.Context, arg GetRepositoryByOwnerAndNameParams) (Repository, error)
	GetTopNCommitAuthors(ctx context.Context, arg GetTopNCommitAuthorsParams) ([]GetTopNCommitAuthorsRow, error)
	ListRepositories(ctx context.Context, arg ListRepositoriesParams) ([]Repository, error)
	RecordBackfillProgress(ctx context.Context, arg RecordBackfillProgressParams) (int64, error)
	SetRepositoryIndexingComplete(ctx context.Context, arg SetRepositoryIndexingCompleteParams) error
	UpsertRepository(ctx context.Context, arg UpsertRepositoryParams) (Repository, error)
}

var _ Querier = (*Queries)(nil)
