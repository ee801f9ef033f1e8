package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/convergekit/converge/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		parallelism int
		timeout     time.Duration
		noPolicy    bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a convergence run would change",
		Long: `Build the catalog and walk it in dependency order without touching
the host. Every resource is observed; resources that would change are
reported as applied, along with the refreshes their changes would
trigger. Equivalent to 'apply --noop'.`,
		Example: `  # Preview changes against the local host
  converge plan

  # Preview against a remote host configured in converge.yaml
  converge plan -c remote.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.RunOptions{
				DryRun:          true,
				MaxParallel:     parallelism,
				ResourceTimeout: timeout,
			}
			return runOnce(cmd.Context(), opts, noPolicy)
		},
	}

	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "max parallel resources per dependency level")
	cmd.Flags().DurationVar(&timeout, "timeout", engine.DefaultResourceTimeout, "per-resource operation timeout")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy gate")

	return cmd
}
