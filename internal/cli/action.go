package cli

import (
	"github.com/spf13/cobra"
)

// NewActionCommand creates the command run as a GitHub Actions step.
func NewActionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "action",
		Short: "Handle the pull_request event of a GitHub Actions run",
		Long: `Read the pull_request event from GITHUB_EVENT_PATH and, once the pull request
is merged, backport it onto every branch named by a label such as
"backport release/v2.8" and by the target_branches input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, flush, err := rootOpts.prepare(cmd.Context())
			if err != nil {
				return err
			}
			defer flush()
			return runner.RunEvent(cmd.Context())
		},
	}
}
