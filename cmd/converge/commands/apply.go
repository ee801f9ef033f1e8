package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/policy"
	"github.com/convergekit/converge/pkg/stores"
)

func newApplyCommand() *cobra.Command {
	var (
		noop        bool
		parallelism int
		timeout     time.Duration
		watch       bool
		noPolicy    bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge the node to its declared state",
		Long: `Build the catalog from the run configuration, evaluate the policy
gate, then converge every resource in dependency order. Changed
resources notify their dependents, which refresh once at the end of the
run.

The command exits non-zero when any resource fails or is skipped.`,
		Example: `  # Converge using ./converge.yaml
  converge apply

  # Show intended changes without touching the host
  converge apply --noop

  # Re-run whenever the configuration file changes
  converge apply --watch

  # Converge with four parallel workers per dependency level
  converge apply --parallelism 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.RunOptions{
				DryRun:          noop,
				MaxParallel:     parallelism,
				ResourceTimeout: timeout,
			}

			if !watch {
				return runOnce(cmd.Context(), opts, noPolicy)
			}
			return watchLoop(cmd.Context(), opts, noPolicy)
		},
	}

	cmd.Flags().BoolVar(&noop, "noop", false, "report intended changes without applying")
	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "max parallel resources per dependency level")
	cmd.Flags().DurationVar(&timeout, "timeout", engine.DefaultResourceTimeout, "per-resource operation timeout")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run whenever the configuration file changes")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy gate")

	return cmd
}

// runOnce wires a runtime, applies the catalog and reports the outcome.
func runOnce(ctx context.Context, opts engine.RunOptions, noPolicy bool) error {
	rt, err := newRuntime(cliVersion)
	if err != nil {
		return err
	}
	defer rt.shutdown(ctx)

	if rt.cfg.Policy.Enabled && !noPolicy {
		if err := evaluatePolicies(ctx, rt); err != nil {
			return err
		}
	}

	h, cleanup, err := rt.connectHost(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	executor := engine.NewExecutor(rt.registry, h,
		engine.WithLogger(rt.logger.Zerolog()),
		engine.WithMetrics(rt.metrics),
		engine.WithTracer(rt.tracer.Tracer()),
	)

	report, err := executor.Run(ctx, rt.catalog, opts)
	if err != nil {
		return err
	}

	printReport(report)

	if rt.cfg.History.Enabled {
		logger := rt.logger.NewComponentLogger("history").WithRunID(report.ID)
		if err := saveReport(ctx, rt, report); err != nil {
			logger.WithError(err).Warn("failed to persist run history")
		} else {
			logger.Debug("run persisted")
		}
	}

	if !report.Summary.Succeeded() {
		return fmt.Errorf("run %s: %d failed, %d skipped",
			report.Summary.Status(), report.Summary.Failed, report.Summary.Skipped)
	}
	return nil
}

// watchLoop re-runs convergence whenever the configuration file changes.
// Failures are logged and the loop keeps watching.
func watchLoop(ctx context.Context, opts engine.RunOptions, noPolicy bool) error {
	if err := runOnce(ctx, opts, noPolicy); err != nil {
		fmt.Printf("run failed: %v\n", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", configPath, err)
	}

	var debounce *time.Timer
	runs := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case runs <- struct{}{}:
				default:
				}
			})
		case err := <-watcher.Errors:
			fmt.Printf("watch error: %v\n", err)
		case <-runs:
			if err := runOnce(ctx, opts, noPolicy); err != nil {
				fmt.Printf("run failed: %v\n", err)
			}
		}
	}
}

// evaluatePolicies runs the policy gate against the built catalog.
// Error-severity violations abort before any resource is touched.
func evaluatePolicies(ctx context.Context, rt *runtime) error {
	pe, err := policy.NewEngine(rt.logger.Zerolog())
	if err != nil {
		return err
	}
	if len(rt.cfg.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, rt.cfg.Policy.Paths); err != nil {
			return err
		}
	}

	result, err := pe.EvaluateCatalog(ctx, rt.catalog)
	if err != nil {
		return err
	}

	for _, v := range result.Violations {
		fmt.Printf("policy %s [%s] %s: %s\n", v.Policy, v.Severity, v.Resource, v.Message)
	}
	if !result.Allowed {
		return fmt.Errorf("policy gate rejected the catalog")
	}
	return nil
}

// saveReport persists the run in the local history store.
func saveReport(ctx context.Context, rt *runtime, report *engine.RunReport) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: rt.cfg.History.Path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	return store.SaveReport(ctx, rt.cfg.Certname, report)
}

// printReport writes a human-readable run summary to stdout.
func printReport(report *engine.RunReport) {
	for _, res := range report.Results {
		line := fmt.Sprintf("%-12s %s", res.Status, res.Ref)
		if res.Message != "" {
			line += " (" + res.Message + ")"
		}
		if res.BlockedBy != nil {
			line += fmt.Sprintf(" [blocked by %s]", res.BlockedBy)
		}
		if res.Error != nil {
			line += " ERROR: " + res.Error.Message
		}
		fmt.Println(line)
	}

	fmt.Printf("\n%s: %d resources: %d applied, %d unchanged, %d refreshed, %d skipped, %d failed (%.2fs)\n",
		report.Summary.Status(),
		report.Summary.Total,
		report.Summary.Applied,
		report.Summary.Unchanged,
		report.Summary.Refreshed,
		report.Summary.Skipped,
		report.Summary.Failed,
		report.CompletedAt.Sub(report.StartedAt).Seconds(),
	)
}
