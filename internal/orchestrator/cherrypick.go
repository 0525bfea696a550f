package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	gh "github.com/rancher/backport-action/internal/github"
)

// CherryPicker replays commits onto the tip of a ReplayState through host-side
// merges. Each commit C with parent P is applied by merging C onto the current
// tip tree with P as the merge base, then committing the result on top of the tip
// with C's message and author.
type CherryPicker struct {
	client        gh.Client
	log           *slog.Logger
	workspaceName func(branch string) string
}

// NewCherryPicker returns a CherryPicker writing through client.
func NewCherryPicker(client gh.Client, logger *slog.Logger) *CherryPicker {
	return &CherryPicker{client: client, log: logger, workspaceName: randomWorkspaceName}
}

func randomWorkspaceName(branch string) string {
	return fmt.Sprintf("%s-replay-%s", branch, uuid.NewString()[:8])
}

// Replay applies commits in order and stops at the first failure. state advances
// only after a replayed commit has been written. The merge workspace reference it
// creates is recorded in state.CreatedRefs.
func (c *CherryPicker) Replay(ctx context.Context, owner, repo string, state *ReplayState, commits []gh.Commit) error {
	if state.Workspace == "" {
		workspace := c.workspaceName(state.Branch)
		if err := c.client.CreateReference(ctx, owner, repo, workspace, state.Tip); err != nil {
			return &TransientReplayError{Op: "create merge workspace", Index: -1, Err: err}
		}
		state.Workspace = workspace
		state.CreatedRefs = append(state.CreatedRefs, workspace)
	}

	for i, commit := range commits {
		if err := c.replayOne(ctx, owner, repo, state, i, commit); err != nil {
			var conflict *CherryPickConflictError
			if errors.As(err, &conflict) {
				conflict.Sequence = commitSHAs(commits)
			}
			return err
		}
	}
	return nil
}

func commitSHAs(commits []gh.Commit) []string {
	shas := make([]string, 0, len(commits))
	for _, c := range commits {
		shas = append(shas, c.SHA)
	}
	return shas
}

func (c *CherryPicker) replayOne(ctx context.Context, owner, repo string, state *ReplayState, index int, commit gh.Commit) error {
	if len(commit.ParentSHAs) != 1 {
		return &UnsupportedHistoryError{Commit: commit.SHA, Reason: "commit must have exactly one parent"}
	}

	merge, err := c.client.ComputeMerge(ctx, owner, repo, gh.MergeRequest{
		Ancestor:  commit.ParentSHAs[0],
		OursTree:  state.TipTree,
		Theirs:    commit.SHA,
		Workspace: state.Workspace,
	})
	if err != nil {
		return &TransientReplayError{Op: "compute merge", Commit: commit.SHA, Index: index, Err: err}
	}
	if !merge.Clean || len(merge.Conflicts) > 0 {
		return &CherryPickConflictError{Commit: commit.SHA, Index: index, Paths: merge.Conflicts}
	}

	sha, err := c.client.CreateCommit(ctx, owner, repo, gh.CreateCommitOptions{
		Message: commit.Message,
		TreeSHA: merge.TreeSHA,
		Parents: []string{state.Tip},
		Author:  commit.Author,
	})
	if err != nil {
		return &TransientReplayError{Op: "create commit", Commit: commit.SHA, Index: index, Err: err}
	}

	if c.log != nil {
		c.log.Debug("replayed commit", "source", commit.SHA, "replayed", sha, "index", index, "empty", merge.TreeSHA == state.TipTree)
	}

	state.Tip = sha
	state.TipTree = merge.TreeSHA
	state.Replayed = append(state.Replayed, sha)
	return nil
}
