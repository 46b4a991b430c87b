// Package repohost creates source repositories and registers webhooks on them.
package repohost

import (
	"context"
	"errors"
	"fmt"
)

var ErrRepositoryExists = errors.New("repository already exists")

// Events every provisioned repository reports back.
var DefaultEvents = []string{"push", "pull_request", "issues", "issue_comment"}

type RepoSpec struct {
	Name        string
	Description string
	Private     bool
	HasIssues   bool
	HasProjects bool
}

type Repository struct {
	ID       string
	FullName string
	URL      string
}

type Host interface {
	CreateRepository(ctx context.Context, spec RepoSpec) (Repository, error)
	CreateWebhook(ctx context.Context, fullName, targetURL string, events []string) (string, error)
}

// APIError is a non-2xx answer from a remote host.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("repo host responded %d: %s", e.Status, e.Message)
}
