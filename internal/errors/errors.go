// internal/errors/errors.go
package errors

import "fmt"

// ErrInvalidRepoFormat is returned when a repository string is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// ErrRepositoryNotExist is returned by registration when the origin reports that the
// repository does not exist. No repository row is written in that case.
type ErrRepositoryNotExist struct {
	Org  string
	Repo string
}

func (e *ErrRepositoryNotExist) Error() string {
	return fmt.Sprintf("repository %s/%s does not exist", e.Org, e.Repo)
}

// ErrRepositoryNotTracked is returned when a commit batch or webhook delivery references a
// repository that was never registered.
type ErrRepositoryNotTracked struct {
	Org  string
	Repo string
}

func (e *ErrRepositoryNotTracked) Error() string {
	return fmt.Sprintf("repository %s/%s not found", e.Org, e.Repo)
}
