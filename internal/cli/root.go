// Package cli wires the backport commands to configuration and the runner.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rancher/backport-action/internal/app"
	"github.com/rancher/backport-action/internal/orchestrator"
)

// Runner is what the commands drive. *app.Runner implements it.
type Runner interface {
	RunBackport(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
	RunEvent(ctx context.Context) error
}

// RunnerFactory builds a Runner from the loaded configuration.
type RunnerFactory func(cfg app.Config) (Runner, error)

// RootOptions holds global flags and the shared configuration source.
type RootOptions struct {
	ConfigFile string

	viper     *viper.Viper
	newRunner RunnerFactory
}

// NewRootCommand creates the root command with production dependencies.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithDeps(app.NewViper(), func(cfg app.Config) (Runner, error) {
		return app.NewRunner(cfg)
	})
}

// NewRootCommandWithDeps creates the root command reading configuration from v
// and building runners with newRunner.
func NewRootCommandWithDeps(v *viper.Viper, newRunner RunnerFactory) *cobra.Command {
	opts := &RootOptions{viper: v, newRunner: newRunner}

	cmd := &cobra.Command{
		Use:   "backport",
		Short: "Backport merged pull requests onto other branches",
		Long: `backport replays the commits of a merged pull request onto another base branch
through the GitHub API and opens a pull request with the result. Either the pull
request is opened or every branch the attempt created is removed again.

Configuration is read from INPUT_* variables (GitHub Action inputs), an optional
config file, and flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.ConfigFile == "" {
				return nil
			}
			opts.viper.SetConfigFile(opts.ConfigFile)
			if err := opts.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "path to a config file (yaml, json or toml)")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("log-format", "", "log format (text|json)")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.Bool("dry-run", false, "report what would be done without writing")
	flags.String("branch-prefix", "", "prefix of derived backport branch names")
	flags.String("trace-exporter", "", "trace exporter (none|stdout|otlp)")

	bind(v, flags.Lookup("log-level"), "log_level")
	bind(v, flags.Lookup("log-format"), "log_format")
	bind(v, flags.Lookup("verbose"), "verbose")
	bind(v, flags.Lookup("dry-run"), "dry_run")
	bind(v, flags.Lookup("branch-prefix"), "branch_prefix")
	bind(v, flags.Lookup("trace-exporter"), "trace_exporter")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewActionCommand(opts))

	return cmd
}

// prepare loads configuration, installs the tracer provider and builds the runner.
// The returned func flushes traces.
func (o *RootOptions) prepare(ctx context.Context) (Runner, func(), error) {
	cfg, err := app.LoadConfig(o.viper)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	_, shutdown, err := app.NewTracerProvider(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	flush := func() { _ = shutdown(context.WithoutCancel(ctx)) }

	runner, err := o.newRunner(cfg)
	if err != nil {
		flush()
		return nil, nil, fmt.Errorf("create runner: %w", err)
	}
	return runner, flush, nil
}
