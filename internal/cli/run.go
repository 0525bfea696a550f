package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rancher/backport-action/internal/orchestrator"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Owner  string
	Repo   string
	Number int
	Base   string
	Title  string
	Body   string
	Head   string
}

// NewRunCommand creates the command backporting a single pull request.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backport one pull request onto one base branch",
		Long: `Backport the commits of a merged pull request onto a base branch and open a
pull request with the result. The URL of the new pull request is printed.

Example:
  backport run --owner rancher --repo rancher --number 1234 --base release/v2.8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "repository owner (required)")
	cmd.Flags().StringVar(&opts.Repo, "repo", "", "repository name (required)")
	cmd.Flags().IntVar(&opts.Number, "number", 0, "number of the pull request to backport (required)")
	cmd.Flags().StringVar(&opts.Base, "base", "", "branch to backport onto (required)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title of the backport pull request")
	cmd.Flags().StringVar(&opts.Body, "body", "", "body of the backport pull request")
	cmd.Flags().StringVar(&opts.Head, "head", "", "name of the backport branch, derived when empty")
	for _, name := range []string{"owner", "repo", "number", "base"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runBackport(cmd *cobra.Command, opts *RunOptions) error {
	if opts.Number <= 0 {
		return fmt.Errorf("--number must be positive, got %d", opts.Number)
	}

	runner, flush, err := opts.prepare(cmd.Context())
	if err != nil {
		return err
	}
	defer flush()

	result, err := runner.RunBackport(cmd.Context(), orchestrator.Request{
		Owner:  opts.Owner,
		Repo:   opts.Repo,
		Number: opts.Number,
		Base:   opts.Base,
		Title:  opts.Title,
		Body:   opts.Body,
		Head:   opts.Head,
	})
	if err != nil {
		var conflict *orchestrator.CherryPickConflictError
		if errors.As(err, &conflict) {
			return fmt.Errorf("backport #%d onto %s: %w; backport it manually", opts.Number, opts.Base, err)
		}
		return fmt.Errorf("backport #%d onto %s: %w", opts.Number, opts.Base, err)
	}

	out := cmd.OutOrStdout()
	if result.URL == "" {
		_, err = fmt.Fprintf(out, "would create %s onto %s\n", result.Head, result.Base)
		return err
	}
	_, err = fmt.Fprintln(out, result.URL)
	return err
}
