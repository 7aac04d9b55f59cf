package engine

import (
	"context"

	"github.com/procrasturbate/procrasturbate/internal/ai"
	"github.com/procrasturbate/procrasturbate/internal/githubapp"
)

// HostClient is the slice of the hosting API the engine uses, extracted so
// tests can substitute a fake.
type HostClient interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*githubapp.PullRequest, error)
	GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
	ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]githubapp.ChangedFile, error)
	GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
	CreateReview(ctx context.Context, owner, repo string, number int, review githubapp.ReviewRequest) (int64, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error
	AddReaction(ctx context.Context, owner, repo string, commentID int64, content string) error
	CreateCheckRun(ctx context.Context, owner, repo string, opts githubapp.CheckRunOptions) (int64, error)
	UpdateCheckRun(ctx context.Context, owner, repo string, checkRunID int64, opts githubapp.CheckRunOptions) error
}

// ClientFactory returns a host client authenticated for one installation.
type ClientFactory func(installationID int64) HostClient

// CodeReviewer produces review findings for a diff.
type CodeReviewer interface {
	Review(ctx context.Context, req ai.Request) (*ai.Result, error)
}
