package gh

import (
	"context"
	"errors"
	"time"
)

// Signature identifies the author or committer of a commit.
type Signature struct {
	Name  string
	Email string
	Date  time.Time
}

// Commit is an immutable commit object as stored by the hosting service.
type Commit struct {
	SHA        string
	ParentSHAs []string
	TreeSHA    string
	Message    string
	Author     Signature
	Committer  Signature
}

// PRMetadata contains source pull request details needed for backport operations.
type PRMetadata struct {
	Owner    string
	Repo     string
	Number   int
	Title    string
	Body     string
	State    string
	BaseRef  string
	HeadRef  string
	HeadSHA  string
	MergeSHA string
	Labels   []string
	IsMerged bool
}

// BackportPR represents a newly opened backport pull request.
type BackportPR struct {
	URL    string
	Number int
	Head   string
	Base   string
	Title  string
	Body   string
}

// MergeRequest describes a three-way merge computed by the host. Theirs is merged
// onto OursTree using Ancestor as the merge base. Workspace names a scratch
// reference the host may rewrite while computing the merge.
type MergeRequest struct {
	Ancestor  string
	OursTree  string
	Theirs    string
	Workspace string
}

// MergeResult is the outcome of a three-way merge. Conflicts lists the
// conflicting paths when the host reports them.
type MergeResult struct {
	TreeSHA   string
	Clean     bool
	Conflicts []string
}

// CreateCommitOptions defines a commit object to write.
type CreateCommitOptions struct {
	Message string
	TreeSHA string
	Parents []string
	Author  Signature
}

// Client exposes the object store and pull request operations required by the backport orchestrator.
type Client interface {
	ResolveReference(ctx context.Context, owner, repo, name string) (string, error)
	CreateReference(ctx context.Context, owner, repo, name, sha string) error
	UpdateReference(ctx context.Context, owner, repo, name, sha string, force bool) error
	DeleteReference(ctx context.Context, owner, repo, name string) error
	GetCommit(ctx context.Context, owner, repo, sha string) (Commit, error)
	ComputeMerge(ctx context.Context, owner, repo string, req MergeRequest) (MergeResult, error)
	CreateCommit(ctx context.Context, owner, repo string, input CreateCommitOptions) (string, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (PRMetadata, error)
	ListPullRequestCommits(ctx context.Context, owner, repo string, number int) ([]Commit, error)
	CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (BackportPR, error)
	CommentOnPullRequest(ctx context.Context, owner, repo string, number int, body string) error
}

// CreatePROptions defines the metadata required to open a backport PR.
type CreatePROptions struct {
	Title               string
	Body                string
	Head                string
	Base                string
	Draft               bool
	MaintainerCanModify bool
}

// Factory builds concrete GitHub clients (e.g., REST-backed) for the orchestrator.
type Factory interface {
	New(ctx context.Context, token string) (Client, error)
}

var (
	// ErrNotFound indicates the requested reference, commit or pull request does not exist.
	ErrNotFound = errors.New("github: not found")
	// ErrReferenceExists indicates a reference with the requested name already exists.
	ErrReferenceExists = errors.New("github: reference already exists")
)

// retryableError marks an error that may succeed if the operation is retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsRetryable reports whether the supplied error resulted from a retryable GitHub
// API failure (for example, a transient network problem or rate-limited request).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target *retryableError
	return errors.As(err, &target)
}

// Retryable marks err as retryable. Alternate Client implementations use it to
// report transient failures the same way the REST client does.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}
