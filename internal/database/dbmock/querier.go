// internal/database/dbmock/querier.go
package dbmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github-commit-indexer/internal/database"
)

// MockQuerier is a mock of the database.Querier interface.
type MockQuerier struct {
	mock.Mock
}

var _ database.Querier = (*MockQuerier)(nil)

func (m *MockQuerier) AdvanceRepositoryCursor(ctx context.Context, arg database.AdvanceRepositoryCursorParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockQuerier) CountCommitsByRepoID(ctx context.Context, repositoryID int64) (int64, error) {
	args := m.Called(ctx, repositoryID)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockQuerier) CreateCommit(ctx context.Context, arg database.CreateCommitParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockQuerier) GetCommitByURL(ctx context.Context, arg database.GetCommitByURLParams) (database.Commit, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(database.Commit), args.Error(1)
}
func (m *MockQuerier) GetCommitsByRepoID(ctx context.Context, repositoryID int64) ([]database.Commit, error) {
	args := m.Called(ctx, repositoryID)
	return args.Get(0).([]database.Commit), args.Error(1)
}
func (m *MockQuerier) GetRepositoryByOwnerAndName(ctx context.Context, arg database.GetRepositoryByOwnerAndNameParams) (database.Repository, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(database.Repository), args.Error(1)
}
func (m *MockQuerier) GetTopNCommitAuthors(ctx context.Context, arg database.GetTopNCommitAuthorsParams) ([]database.GetTopNCommitAuthorsRow, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]database.GetTopNCommitAuthorsRow), args.Error(1)
}
func (m *MockQuerier) ListRepositories(ctx context.Context, arg database.ListRepositoriesParams) ([]database.Repository, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]database.Repository), args.Error(1)
}
func (m *MockQuerier) RecordBackfillProgress(ctx context.Context, arg database.RecordBackfillProgressParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockQuerier) SetRepositoryIndexingComplete(ctx context.Context, arg database.SetRepositoryIndexingCompleteParams) error {
	args := m.Called(ctx, arg)
	return args.Error(0)
}
func (m *MockQuerier) UpsertRepository(ctx context.Context, arg database.UpsertRepositoryParams) (database.Repository, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(database.Repository), args.Error(1)
}
