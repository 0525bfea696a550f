package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	gh "github.com/rancher/backport-action/internal/github"
)

// RollbackCoordinator removes the references a failed attempt created. Commits
// and trees are left to host garbage collection.
type RollbackCoordinator struct {
	client gh.Client
	log    *slog.Logger
}

// NewRollbackCoordinator returns a coordinator deleting through client.
func NewRollbackCoordinator(client gh.Client, logger *slog.Logger) *RollbackCoordinator {
	return &RollbackCoordinator{client: client, log: logger}
}

// Rollback deletes refs newest first, each exactly once. A reference that is
// already gone counts as deleted. Every other failure is collected and returned.
func (r *RollbackCoordinator) Rollback(ctx context.Context, owner, repo string, refs []string) error {
	var errs []error
	for i := len(refs) - 1; i >= 0; i-- {
		err := r.client.DeleteReference(ctx, owner, repo, refs[i])
		switch {
		case err == nil:
			if r.log != nil {
				r.log.Debug("rolled back reference", "ref", refs[i])
			}
		case errors.Is(err, gh.ErrNotFound):
			if r.log != nil {
				r.log.Debug("reference already absent during rollback", "ref", refs[i])
			}
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
