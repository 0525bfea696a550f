package orchestrator_test

import (
	"context"

	. "github.com/onsi/gomega"

	"github.com/rancher/backport-action/internal/git"
	gh "github.com/rancher/backport-action/internal/github"
)

const (
	owner = "rancher"
	repo  = "repo"
)

// lines renders a three line file. Blank separators keep edits to different
// lines in separate merge regions.
func lines(a, b, c string) string {
	return a + "\n\n" + b + "\n\n" + c + "\n"
}

type repoBuilder struct {
	store *git.MemoryStore
}

func newRepo() repoBuilder {
	return repoBuilder{store: git.NewMemoryStore()}
}

func (r repoBuilder) commit(parent string, files map[string]string, message string) string {
	var parents []string
	if parent != "" {
		parents = []string{parent}
	}
	sha, err := r.store.WriteCommit(parents, files, message)
	Expect(err).NotTo(HaveOccurred())
	return sha
}

func (r repoBuilder) branch(name, sha string) {
	Expect(r.store.SetBranch(name, sha)).To(Succeed())
}

func (r repoBuilder) pull(base, head string) int {
	number, err := r.store.OpenPullRequest(git.PullRequestSpec{Base: base, Head: head, Title: head, Merged: true})
	Expect(err).NotTo(HaveOccurred())
	return number
}

func (r repoBuilder) file(sha string) string {
	files, err := r.store.ReadFiles(sha)
	Expect(err).NotTo(HaveOccurred())
	return files["file.txt"]
}

func (r repoBuilder) messages(branch string) []string {
	history, err := r.store.Log(branch)
	Expect(err).NotTo(HaveOccurred())
	out := make([]string, 0, len(history))
	for _, c := range history {
		out = append(out, c.Message)
	}
	return out
}

func (r repoBuilder) resolve(branch string) error {
	_, err := r.store.ResolveReference(context.Background(), owner, repo, branch)
	return err
}

// cancelAfterProvision cancels the caller's context as soon as the backport
// branch is created and fails every later call made with a cancelled context.
type cancelAfterProvision struct {
	gh.Client
	cancel context.CancelFunc
}

func (c *cancelAfterProvision) CreateReference(ctx context.Context, owner, repo, name, sha string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.Client.CreateReference(ctx, owner, repo, name, sha)
	c.cancel()
	return err
}

func (c *cancelAfterProvision) ComputeMerge(ctx context.Context, owner, repo string, req gh.MergeRequest) (gh.MergeResult, error) {
	if err := ctx.Err(); err != nil {
		return gh.MergeResult{}, err
	}
	return c.Client.ComputeMerge(ctx, owner, repo, req)
}

func (c *cancelAfterProvision) CreateCommit(ctx context.Context, owner, repo string, input gh.CreateCommitOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.Client.CreateCommit(ctx, owner, repo, input)
}

func (c *cancelAfterProvision) CreatePullRequest(ctx context.Context, owner, repo string, input gh.CreatePROptions) (gh.BackportPR, error) {
	if err := ctx.Err(); err != nil {
		return gh.BackportPR{}, err
	}
	return c.Client.CreatePullRequest(ctx, owner, repo, input)
}
