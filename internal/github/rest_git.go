package gh

import (
	"context"
	"fmt"
	"net/http"
	"time"

	github "github.com/google/go-github/v55/github"
	"github.com/patrickmn/go-cache"
)

// scratchCommitMessage is the message of the synthetic commit that carries the
// merge base while the host computes a merge.
const scratchCommitMessage = "backport: merge base"

func headsRef(name string) string {
	return "heads/" + name
}

func (c *restClient) ResolveReference(ctx context.Context, owner, repo, name string) (string, error) {
	ref, resp, err := c.client.Git.GetRef(ctx, owner, repo, headsRef(name))
	if err != nil {
		if isNotFound(resp, err) {
			return "", fmt.Errorf("get ref %s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("get ref %s: %w", name, classifyGitHubError(err))
	}
	return ref.GetObject().GetSHA(), nil
}

func (c *restClient) CreateReference(ctx context.Context, owner, repo, name, sha string) error {
	ref := &github.Reference{
		Ref:    github.String("refs/" + headsRef(name)),
		Object: &github.GitObject{SHA: github.String(sha)},
	}

	if _, _, err := c.client.Git.CreateRef(ctx, owner, repo, ref); err != nil {
		if isUnprocessable(err, "already exists") {
			return fmt.Errorf("create ref %s: %w", name, ErrReferenceExists)
		}
		return fmt.Errorf("create ref %s: %w", name, classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) UpdateReference(ctx context.Context, owner, repo, name, sha string, force bool) error {
	ref := &github.Reference{
		Ref:    github.String("refs/" + headsRef(name)),
		Object: &github.GitObject{SHA: github.String(sha)},
	}

	if _, resp, err := c.client.Git.UpdateRef(ctx, owner, repo, ref, force); err != nil {
		if isNotFound(resp, err) || isUnprocessable(err, "does not exist") {
			return fmt.Errorf("update ref %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("update ref %s: %w", name, classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) DeleteReference(ctx context.Context, owner, repo, name string) error {
	resp, err := c.client.Git.DeleteRef(ctx, owner, repo, headsRef(name))
	if err != nil {
		if isNotFound(resp, err) || isUnprocessable(err, "does not exist") {
			return fmt.Errorf("delete ref %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("delete ref %s: %w", name, classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) GetCommit(ctx context.Context, owner, repo, sha string) (Commit, error) {
	key := c.cacheKey(owner, repo, sha)
	if cached, ok := c.commits.Get(key); ok {
		return cached.(Commit), nil
	}

	gc, resp, err := c.client.Git.GetCommit(ctx, owner, repo, sha)
	if err != nil {
		if isNotFound(resp, err) {
			return Commit{}, fmt.Errorf("get commit %s: %w", sha, ErrNotFound)
		}
		return Commit{}, fmt.Errorf("get commit %s: %w", sha, classifyGitHubError(err))
	}

	commit := fromGitCommit(gc)
	c.commits.Set(key, commit, cache.DefaultExpiration)
	return commit, nil
}

// ComputeMerge emulates a tree-level three-way merge with the merges endpoint:
// a synthetic commit with OursTree and the single parent Ancestor is placed on
// the workspace ref, then Theirs is merged into it. Because Theirs descends from
// Ancestor, the host merges exactly the change Ancestor..Theirs onto OursTree.
func (c *restClient) ComputeMerge(ctx context.Context, owner, repo string, req MergeRequest) (MergeResult, error) {
	scratch, err := c.CreateCommit(ctx, owner, repo, CreateCommitOptions{
		Message: scratchCommitMessage,
		TreeSHA: req.OursTree,
		Parents: []string{req.Ancestor},
	})
	if err != nil {
		return MergeResult{}, err
	}

	if err := c.UpdateReference(ctx, owner, repo, req.Workspace, scratch, true); err != nil {
		return MergeResult{}, err
	}

	merged, resp, err := c.client.Repositories.Merge(ctx, owner, repo, &github.RepositoryMergeRequest{
		Base:          github.String(req.Workspace),
		Head:          github.String(req.Theirs),
		CommitMessage: github.String(fmt.Sprintf("Merge %s", req.Theirs)),
	})
	if err != nil {
		if isConflict(resp, err) {
			return MergeResult{Clean: false}, nil
		}
		return MergeResult{}, fmt.Errorf("merge %s into %s: %w", req.Theirs, req.Workspace, classifyGitHubError(err))
	}

	if resp != nil && resp.StatusCode == http.StatusNoContent {
		return MergeResult{TreeSHA: req.OursTree, Clean: true}, nil
	}

	tree := merged.GetCommit().GetTree().GetSHA()
	if tree == "" {
		return MergeResult{}, fmt.Errorf("merge %s into %s: response carries no tree", req.Theirs, req.Workspace)
	}
	return MergeResult{TreeSHA: tree, Clean: true}, nil
}

type commitIdentity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date,omitempty"`
}

type createCommitPayload struct {
	Message string          `json:"message"`
	Tree    string          `json:"tree"`
	Parents []string        `json:"parents"`
	Author  *commitIdentity `json:"author,omitempty"`
}

func (c *restClient) CreateCommit(ctx context.Context, owner, repo string, input CreateCommitOptions) (string, error) {
	payload := createCommitPayload{
		Message: input.Message,
		Tree:    input.TreeSHA,
		Parents: input.Parents,
	}
	if payload.Parents == nil {
		payload.Parents = []string{}
	}
	if input.Author.Name != "" && input.Author.Email != "" {
		payload.Author = &commitIdentity{Name: input.Author.Name, Email: input.Author.Email}
		if !input.Author.Date.IsZero() {
			payload.Author.Date = input.Author.Date.UTC().Format(time.RFC3339)
		}
	}

	req, err := c.client.NewRequest(http.MethodPost, fmt.Sprintf("repos/%s/%s/git/commits", owner, repo), payload)
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	created := new(github.Commit)
	if _, err := c.client.Do(ctx, req, created); err != nil {
		return "", fmt.Errorf("create commit: %w", classifyGitHubError(err))
	}
	if created.GetSHA() == "" {
		return "", fmt.Errorf("create commit: response carries no sha")
	}
	return created.GetSHA(), nil
}
