package git

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	gh "github.com/rancher/backport-action/internal/github"
)

var _ gh.Client = (*MemoryStore)(nil)

func (s *MemoryStore) ResolveReference(ctx context.Context, owner, repo, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpResolveReference); err != nil {
		return "", err
	}

	h, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func (s *MemoryStore) CreateReference(ctx context.Context, owner, repo, name, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateReference); err != nil {
		return err
	}

	if _, err := s.resolve(name); err == nil {
		return fmt.Errorf("create ref %s: %w", name, gh.ErrReferenceExists)
	}
	h := plumbing.NewHash(sha)
	if _, err := object.GetCommit(s.storage, h); err != nil {
		return fmt.Errorf("create ref %s: commit %s: %w", name, sha, gh.ErrNotFound)
	}
	return s.storage.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), h))
}

func (s *MemoryStore) UpdateReference(ctx context.Context, owner, repo, name, sha string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdateReference); err != nil {
		return err
	}

	current, err := s.resolve(name)
	if err != nil {
		return fmt.Errorf("update ref %s: %w", name, err)
	}
	next := plumbing.NewHash(sha)
	if _, err := object.GetCommit(s.storage, next); err != nil {
		return fmt.Errorf("update ref %s: commit %s: %w", name, sha, gh.ErrNotFound)
	}
	if !force {
		ancestors, err := s.reachable(next)
		if err != nil {
			return err
		}
		if _, ok := ancestors[current]; !ok {
			return fmt.Errorf("update ref %s: update is not a fast forward", name)
		}
	}
	return s.storage.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), next))
}

func (s *MemoryStore) DeleteReference(ctx context.Context, owner, repo, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDeleteReference); err != nil {
		return err
	}

	if _, err := s.resolve(name); err != nil {
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	return s.storage.RemoveReference(plumbing.NewBranchReferenceName(name))
}

func (s *MemoryStore) GetCommit(ctx context.Context, owner, repo, sha string) (gh.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetCommit); err != nil {
		return gh.Commit{}, err
	}

	c, err := object.GetCommit(s.storage, plumbing.NewHash(sha))
	if err != nil {
		return gh.Commit{}, fmt.Errorf("get commit %s: %w", sha, gh.ErrNotFound)
	}
	return toCommit(c), nil
}

// ComputeMerge requires the workspace reference to exist and leaves it pointing
// at a commit carrying the merged tree when the merge is clean, as the host does.
func (s *MemoryStore) ComputeMerge(ctx context.Context, owner, repo string, req gh.MergeRequest) (gh.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpComputeMerge); err != nil {
		return gh.MergeResult{}, err
	}

	if _, err := s.resolve(req.Workspace); err != nil {
		return gh.MergeResult{}, fmt.Errorf("merge workspace: %w", err)
	}

	ancestor, err := object.GetCommit(s.storage, plumbing.NewHash(req.Ancestor))
	if err != nil {
		return gh.MergeResult{}, fmt.Errorf("merge base %s: %w", req.Ancestor, gh.ErrNotFound)
	}
	theirs, err := object.GetCommit(s.storage, plumbing.NewHash(req.Theirs))
	if err != nil {
		return gh.MergeResult{}, fmt.Errorf("merge head %s: %w", req.Theirs, gh.ErrNotFound)
	}

	baseFiles, err := readTree(s.storage, ancestor.TreeHash)
	if err != nil {
		return gh.MergeResult{}, err
	}
	oursFiles, err := readTree(s.storage, plumbing.NewHash(req.OursTree))
	if err != nil {
		return gh.MergeResult{}, fmt.Errorf("merge tree %s: %w", req.OursTree, gh.ErrNotFound)
	}
	theirsFiles, err := readTree(s.storage, theirs.TreeHash)
	if err != nil {
		return gh.MergeResult{}, err
	}

	merged, conflicts := mergeTrees(baseFiles, oursFiles, theirsFiles)
	if len(conflicts) > 0 {
		return gh.MergeResult{Clean: false, Conflicts: conflicts}, nil
	}

	tree, err := writeTree(s.storage, merged)
	if err != nil {
		return gh.MergeResult{}, err
	}

	sig := s.signature()
	scratch, err := writeCommit(s.storage, &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      "Merge " + req.Theirs,
		TreeHash:     tree,
		ParentHashes: []plumbing.Hash{ancestor.Hash, theirs.Hash},
	})
	if err != nil {
		return gh.MergeResult{}, err
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(req.Workspace), scratch)
	if err := s.storage.SetReference(ref); err != nil {
		return gh.MergeResult{}, err
	}

	return gh.MergeResult{TreeSHA: tree.String(), Clean: true}, nil
}

func (s *MemoryStore) CreateCommit(ctx context.Context, owner, repo string, input gh.CreateCommitOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateCommit); err != nil {
		return "", err
	}

	tree := plumbing.NewHash(input.TreeSHA)
	if _, err := object.GetTree(s.storage, tree); err != nil {
		return "", fmt.Errorf("create commit: tree %s: %w", input.TreeSHA, gh.ErrNotFound)
	}

	parents := make([]plumbing.Hash, 0, len(input.Parents))
	for _, p := range input.Parents {
		h := plumbing.NewHash(p)
		if _, err := object.GetCommit(s.storage, h); err != nil {
			return "", fmt.Errorf("create commit: parent %s: %w", p, gh.ErrNotFound)
		}
		parents = append(parents, h)
	}

	committer := s.signature()
	author := committer
	if input.Author.Name != "" {
		author = object.Signature{Name: input.Author.Name, Email: input.Author.Email, When: input.Author.Date}
		if author.When.IsZero() {
			author.When = committer.When
		}
	}

	hash, err := writeCommit(s.storage, &object.Commit{
		Author:       author,
		Committer:    committer,
		Message:      input.Message,
		TreeHash:     tree,
		ParentHashes: parents,
	})
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (s *MemoryStore) GetPullRequest(ctx context.Context, owner, repo string, number int) (gh.PRMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetPullRequest); err != nil {
		return gh.PRMetadata{}, err
	}

	pr, err := s.pull(number)
	if err != nil {
		return gh.PRMetadata{}, err
	}

	meta := gh.PRMetadata{
		Owner:    owner,
		Repo:     repo,
		Number:   pr.Number,
		Title:    pr.Title,
		Body:     pr.Body,
		State:    "open",
		BaseRef:  pr.Base,
		HeadRef:  pr.Head,
		Labels:   append([]string(nil), pr.Labels...),
		IsMerged: pr.Merged,
	}
	if pr.Merged {
		meta.State = "closed"
	}
	if n := len(pr.Commits); n > 0 {
		meta.HeadSHA = pr.Commits[n-1]
	}
	return meta, nil
}

func (s *MemoryStore) ListPullRequestCommits(ctx context.Context, owner, repo string, number int) ([]gh.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListPullRequestCommits); err != nil {
		return nil, err
	}

	pr, err := s.pull(number)
	if err != nil {
		return nil, err
	}

	commits := make([]gh.Commit, 0, len(pr.Commits))
	for _, sha := range pr.Commits {
		c, err := object.GetCommit(s.storage, plumbing.NewHash(sha))
		if err != nil {
			return nil, err
		}
		commits = append(commits, toCommit(c))
	}
	return commits, nil
}

func (s *MemoryStore) CreatePullRequest(ctx context.Context, owner, repo string, input gh.CreatePROptions) (gh.BackportPR, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreatePullRequest); err != nil {
		return gh.BackportPR{}, err
	}

	if input.Head == input.Base {
		return gh.BackportPR{}, errors.New("create pull request: head and base are the same branch")
	}
	for _, pr := range s.pulls {
		if pr.Head == input.Head && pr.Base == input.Base && !pr.Merged {
			return gh.BackportPR{}, fmt.Errorf("create pull request: a pull request already exists for %s", input.Head)
		}
	}

	commits, err := s.between(input.Base, input.Head)
	if err != nil {
		return gh.BackportPR{}, fmt.Errorf("create pull request: %w", err)
	}
	if len(commits) == 0 {
		return gh.BackportPR{}, fmt.Errorf("create pull request: no commits between %s and %s", input.Base, input.Head)
	}

	pr := &PullRequest{
		Number:  len(s.pulls) + 1,
		Title:   input.Title,
		Body:    input.Body,
		Base:    input.Base,
		Head:    input.Head,
		Commits: commits,
	}
	s.pulls = append(s.pulls, pr)

	return gh.BackportPR{
		URL:    fmt.Sprintf("memory://%s/%s/pull/%d", owner, repo, pr.Number),
		Number: pr.Number,
		Head:   pr.Head,
		Base:   pr.Base,
		Title:  pr.Title,
		Body:   pr.Body,
	}, nil
}

func (s *MemoryStore) CommentOnPullRequest(ctx context.Context, owner, repo string, number int, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCommentOnPullRequest); err != nil {
		return err
	}

	pr, err := s.pull(number)
	if err != nil {
		return err
	}
	pr.Comments = append(pr.Comments, body)
	return nil
}
