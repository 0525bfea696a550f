package orchestrator

import (
	"fmt"
	"strings"

	gh "github.com/rancher/backport-action/internal/github"
)

// NotFoundError reports that a pull request, its commits, or the base branch is absent.
type NotFoundError struct {
	Kind string
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ReferenceConflictError reports that the backport branch name is already taken.
type ReferenceConflictError struct {
	Name string
	Err  error
}

func (e *ReferenceConflictError) Error() string {
	return fmt.Sprintf("reference %s already exists", e.Name)
}

func (e *ReferenceConflictError) Unwrap() error { return e.Err }

// CherryPickConflictError reports a commit whose change does not apply cleanly
// onto the replayed tip. Index is the commit's position in the source sequence.
type CherryPickConflictError struct {
	Commit string
	Index  int
	Paths  []string
	// Sequence lists every source commit, oldest first.
	Sequence []string
}

func (e *CherryPickConflictError) Error() string {
	msg := fmt.Sprintf("commit %s (index %d) could not be cherry-picked", e.Commit, e.Index)
	if len(e.Paths) > 0 {
		msg += ": conflicting paths " + strings.Join(e.Paths, ", ")
	}
	return msg
}

// TransientReplayError reports a host failure during replay other than a conflict.
// Commit is empty and Index is -1 when the failure is not tied to a single commit.
type TransientReplayError struct {
	Op     string
	Commit string
	Index  int
	Err    error
}

func (e *TransientReplayError) Error() string {
	if e.Commit == "" {
		return fmt.Sprintf("replay failed to %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("replay of commit %s (index %d) failed to %s: %v", e.Commit, e.Index, e.Op, e.Err)
}

func (e *TransientReplayError) Unwrap() error { return e.Err }

// Retryable reports whether the host classified the underlying failure as transient.
func (e *TransientReplayError) Retryable() bool {
	return gh.IsRetryable(e.Err)
}

// PublishError reports that the host refused to open the backport pull request.
type PublishError struct {
	Head string
	Base string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("open pull request %s -> %s: %v", e.Head, e.Base, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// UnsupportedHistoryError rejects source pull requests whose commits do not form
// a single linear chain, such as those containing merge commits.
type UnsupportedHistoryError struct {
	Commit string
	Reason string
}

func (e *UnsupportedHistoryError) Error() string {
	return fmt.Sprintf("unsupported history at commit %s: %s", e.Commit, e.Reason)
}

// RollbackError carries a failed attempt whose rollback failed too. Cause is the
// primary failure and is what Unwrap returns.
type RollbackError struct {
	Cause    error
	Rollback error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%v (rollback also failed: %v)", e.Cause, e.Rollback)
}

func (e *RollbackError) Unwrap() error { return e.Cause }
