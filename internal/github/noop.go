package gh

import (
	"context"
	"errors"
)

// NewNoopFactory returns a Factory whose clients refuse every call with ErrDryRun.
func NewNoopFactory() Factory {
	return noopFactory{}
}

type noopFactory struct{}

func (noopFactory) New(ctx context.Context, token string) (Client, error) {
	return noopClient{}, nil
}

// ErrDryRun is returned by every noop client call.
var ErrDryRun = errors.New("github client disabled in dry run")

type noopClient struct{}

func (noopClient) ResolveReference(ctx context.Context, owner, repo, name string) (string, error) {
	return "", ErrDryRun
}

func (noopClient) CreateReference(ctx context.Context, owner, repo, name, sha string) error {
	return ErrDryRun
}

func (noopClient) UpdateReference(ctx context.Context, owner, repo, name, sha string, force bool) error {
	return ErrDryRun
}

func (noopClient) DeleteReference(ctx context.Context, owner, repo, name string) error {
	return ErrDryRun
}

func (noopClient) GetCommit(ctx context.Context, owner, repo, sha string) (Commit, error) {
	return Commit{}, ErrDryRun
}

func (noopClient) ComputeMerge(ctx context.Context, owner, repo string, req MergeRequest) (MergeResult, error) {
	return MergeResult{}, ErrDryRun
}

func (noopClient) CreateCommit(ctx context.Context, owner, repo string, input CreateCommitOptions) (string, error) {
	return "", ErrDryRun
}

func (noopClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (PRMetadata, error) {
	return PRMetadata{}, ErrDryRun
}

func (noopClient) ListPullRequestCommits(ctx context.Context, owner, repo string, number int) ([]Commit, error) {
	return nil, ErrDryRun
}

func (noopClient) CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (BackportPR, error) {
	return BackportPR{}, ErrDryRun
}

func (noopClient) CommentOnPullRequest(ctx context.Context, owner, repo string, number int, body string) error {
	return ErrDryRun
}
