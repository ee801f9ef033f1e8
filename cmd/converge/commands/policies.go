package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/convergekit/converge/pkg/config"
	"github.com/convergekit/converge/pkg/policy"
	"github.com/convergekit/converge/pkg/telemetry"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Manage catalog policies",
	}

	cmd.AddCommand(newPoliciesListCommand())

	return cmd
}

func newPoliciesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger, err := telemetry.NewLogger(telemetry.DefaultLoggingConfig())
			if err != nil {
				return err
			}

			pe, err := policy.NewEngine(logger.Zerolog())
			if err != nil {
				return err
			}
			if len(cfg.Policy.Paths) > 0 {
				if err := pe.LoadPolicies(cmd.Context(), cfg.Policy.Paths); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tDESCRIPTION")
			for _, p := range pe.ListPolicies() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return w.Flush()
		},
	}
}
