package orchestrator

import (
	"context"
	"errors"
	"fmt"

	gh "github.com/rancher/backport-action/internal/github"
	"github.com/rancher/backport-action/internal/labels"
)

// ReplayState is the per-attempt progress of a backport. CreatedRefs lists every
// reference the attempt created and has not yet removed, oldest first.
type ReplayState struct {
	Branch      string
	Base        string
	Tip         string
	TipTree     string
	Workspace   string
	Replayed    []string
	CreatedRefs []string
}

// Provisioner creates the backport branch at the base commit.
type Provisioner struct {
	client gh.Client
	naming gh.BranchNamingOptions
}

// NewProvisioner returns a provisioner naming branches with naming.
func NewProvisioner(client gh.Client, naming gh.BranchNamingOptions) *Provisioner {
	return &Provisioner{client: client, naming: naming}
}

// Provision resolves base and creates the backport branch pointing at it. head,
// when set, replaces the derived branch name. The created reference is the
// first write of an attempt.
func (p *Provisioner) Provision(ctx context.Context, owner, repo string, number int, base, head string) (*ReplayState, error) {
	baseSHA, err := p.client.ResolveReference(ctx, owner, repo, base)
	if err != nil {
		if errors.Is(err, gh.ErrNotFound) {
			return nil, &NotFoundError{Kind: "base branch", Name: base, Err: err}
		}
		return nil, fmt.Errorf("resolve base %s: %w", base, err)
	}

	baseCommit, err := p.client.GetCommit(ctx, owner, repo, baseSHA)
	if err != nil {
		return nil, fmt.Errorf("read base commit %s: %w", baseSHA, err)
	}

	branch := head
	if branch == "" {
		branch = gh.BranchNameForBackport(base, number, p.naming)
	}
	if err := labels.ValidateBranch(branch); err != nil {
		return nil, fmt.Errorf("backport branch %q: %w", branch, err)
	}

	if err := p.client.CreateReference(ctx, owner, repo, branch, baseSHA); err != nil {
		if errors.Is(err, gh.ErrReferenceExists) {
			return nil, &ReferenceConflictError{Name: branch, Err: err}
		}
		return nil, fmt.Errorf("create branch %s: %w", branch, err)
	}

	return &ReplayState{
		Branch:      branch,
		Base:        baseSHA,
		Tip:         baseSHA,
		TipTree:     baseCommit.TreeSHA,
		CreatedRefs: []string{branch},
	}, nil
}
