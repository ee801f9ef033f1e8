package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/convergekit/converge/pkg/config"
	"github.com/convergekit/converge/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded convergence runs",
		Long: `Query the local run history store. History is recorded when
history.enabled is set in the run configuration.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCERTNAME\tSTATUS\tDRY RUN\tSTARTED\tAPPLIED\tFAILED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\t%d\n",
					r.ID, r.Certname, r.Status, r.DryRun,
					r.StartedAt.Format("2006-01-02 15:04:05"),
					r.Applied, r.Failed)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its per-resource results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			results, err := store.ListResults(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			fmt.Printf("Run:       %s\n", run.ID)
			fmt.Printf("Certname:  %s\n", run.Certname)
			fmt.Printf("Status:    %s\n", run.Status)
			fmt.Printf("Dry run:   %t\n", run.DryRun)
			fmt.Printf("Started:   %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Resources: %d total, %d applied, %d unchanged, %d refreshed, %d skipped, %d failed\n\n",
				run.Total, run.Applied, run.Unchanged, run.Refreshed, run.Skipped, run.Failed)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tSTATUS\tCHANGED\tMESSAGE")
			for _, res := range results {
				msg := res.Message
				if res.BlockedBy != nil {
					msg = "blocked by " + *res.BlockedBy
				}
				if res.Error != nil {
					msg = *res.Error
				}
				fmt.Fprintf(w, "%s[%s]\t%s\t%t\t%s\n", res.Kind, res.Title, res.Status, res.Changed, msg)
			}
			return w.Flush()
		},
	}
}

func newRunsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its results from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted run %s\n", args[0])
			return nil
		},
	}
}

// openHistoryStore opens the history database named in the run
// configuration without building a full runtime.
func openHistoryStore(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("history is not enabled in %s", configPath)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.History.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
