package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// cliVersion is threaded into telemetry service metadata.
	cliVersion = "dev"
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	cliVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "converge",
		Short: "converge - single-node declarative convergence engine",
		Long: `converge builds a resource catalog from a declarative run
configuration, orders it by dependencies, and converges each resource:
observe current state, apply the declared state when they differ, and
propagate refresh notifications to dependent services.

Built-in resource kinds: package, file, service, exec, concat.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "converge.yaml", "run configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newPoliciesCommand())

	return rootCmd
}
