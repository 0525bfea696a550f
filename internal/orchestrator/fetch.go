package orchestrator

import (
	"context"
	"errors"
	"fmt"

	gh "github.com/rancher/backport-action/internal/github"
)

// SequenceFetcher reads the commits a pull request introduced, oldest first.
type SequenceFetcher struct {
	client gh.Client
}

// NewSequenceFetcher returns a fetcher reading through client.
func NewSequenceFetcher(client gh.Client) *SequenceFetcher {
	return &SequenceFetcher{client: client}
}

// Fetch returns the linear commit sequence of pull request number. It has no side effects.
func (f *SequenceFetcher) Fetch(ctx context.Context, owner, repo string, number int) ([]gh.Commit, error) {
	name := fmt.Sprintf("#%d", number)

	if _, err := f.client.GetPullRequest(ctx, owner, repo, number); err != nil {
		if errors.Is(err, gh.ErrNotFound) {
			return nil, &NotFoundError{Kind: "pull request", Name: name, Err: err}
		}
		return nil, fmt.Errorf("get pull request %s: %w", name, err)
	}

	commits, err := f.client.ListPullRequestCommits(ctx, owner, repo, number)
	if err != nil {
		if errors.Is(err, gh.ErrNotFound) {
			return nil, &NotFoundError{Kind: "commits of pull request", Name: name, Err: err}
		}
		return nil, fmt.Errorf("list commits of pull request %s: %w", name, err)
	}
	if len(commits) == 0 {
		return nil, &NotFoundError{Kind: "commits of pull request", Name: name, Err: gh.ErrNotFound}
	}

	if err := checkLinear(commits); err != nil {
		return nil, err
	}
	return commits, nil
}

func checkLinear(commits []gh.Commit) error {
	for i, c := range commits {
		switch n := len(c.ParentSHAs); {
		case n == 0:
			return &UnsupportedHistoryError{Commit: c.SHA, Reason: "root commits cannot be replayed"}
		case n > 1:
			return &UnsupportedHistoryError{Commit: c.SHA, Reason: fmt.Sprintf("merge commit with %d parents", n)}
		}
		if i > 0 && c.ParentSHAs[0] != commits[i-1].SHA {
			return &UnsupportedHistoryError{
				Commit: c.SHA,
				Reason: fmt.Sprintf("parent %s is not the preceding commit %s", c.ParentSHAs[0], commits[i-1].SHA),
			}
		}
	}
	return nil
}
