package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/convergekit/converge/pkg/host"
)

// MetricsRecorder receives execution measurements. Implementations must be
// safe for concurrent use. A nil recorder disables metrics.
type MetricsRecorder interface {
	RunStarted(dryRun bool)
	ResourceConverged(kind string, status ResourceStatus, d time.Duration)
	RunCompleted(status RunStatus, d time.Duration)
	ErrorByCode(code string)
}

// RunOptions control a single convergence run.
type RunOptions struct {
	// DryRun performs observe-only and reports intended changes without
	// calling apply or refresh.
	DryRun bool

	// MaxParallel caps the number of resources applied concurrently
	// within one topological level. Values below 1 mean sequential.
	MaxParallel int

	// ResourceTimeout bounds each observe, apply and refresh call.
	ResourceTimeout time.Duration

	// User is recorded in the run report metadata.
	User string
}

// DefaultResourceTimeout bounds host operations when RunOptions leaves
// ResourceTimeout unset.
const DefaultResourceTimeout = 5 * time.Minute

// Executor walks a catalog in dependency order, converging each resource
// and propagating notify refreshes.
type Executor struct {
	registry *Registry
	host     host.Host
	logger   zerolog.Logger
	metrics  MetricsRecorder
	tracer   trace.Tracer

	mu      sync.Mutex
	results map[Ref]*ResourceResult
	refresh map[Ref]bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the structured logger used for per-resource events.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer sets the tracer used for run and resource spans.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor creates a convergence executor over the given handler registry
// and host collaborator.
func NewExecutor(registry *Registry, h host.Host, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		host:     h,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run converges the catalog: topological walk, observe-then-apply per
// resource, notify propagation with coalesced refreshes, and failure
// isolation between independent branches.
func (e *Executor) Run(ctx context.Context, cat *Catalog, opts RunOptions) (*RunReport, error) {
	if cat == nil || cat.Graph() == nil {
		return nil, NewBuildError(ErrCodeValidation, "catalog is nil or unvalidated", nil)
	}
	if opts.ResourceTimeout <= 0 {
		opts.ResourceTimeout = DefaultResourceTimeout
	}

	report := &RunReport{
		ID:        uuid.New().String(),
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
	}

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "converge.run",
			trace.WithAttributes(
				attribute.String("run.id", report.ID),
				attribute.Bool("run.dry_run", opts.DryRun),
				attribute.Int("run.resources", len(cat.Resources)),
			))
		defer span.End()
	}

	e.mu.Lock()
	e.results = make(map[Ref]*ResourceResult, len(cat.Resources))
	e.refresh = make(map[Ref]bool)
	for _, r := range cat.Resources {
		e.results[r.Ref] = &ResourceResult{Ref: r.Ref, Status: StatusPending}
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RunStarted(opts.DryRun)
	}

	e.logger.Info().
		Str("run_id", report.ID).
		Int("resources", len(cat.Resources)).
		Bool("dry_run", opts.DryRun).
		Msg("starting convergence run")

	runErr := e.walkLevels(ctx, cat, opts)

	// Coalesced refresh pass: each notified resource refreshes at most
	// once per run, in dependency order, after its own terminal state.
	if runErr == nil {
		e.refreshPass(ctx, cat, opts)
	}

	report.CompletedAt = time.Now()
	report.Results = e.collectResults(cat)
	report.Summary = summarize(report.Results)

	if e.metrics != nil {
		e.metrics.RunCompleted(report.Summary.Status(), report.CompletedAt.Sub(report.StartedAt))
	}

	e.logger.Info().
		Str("run_id", report.ID).
		Str("status", string(report.Summary.Status())).
		Int("applied", report.Summary.Applied).
		Int("unchanged", report.Summary.Unchanged).
		Int("refreshed", report.Summary.Refreshed).
		Int("failed", report.Summary.Failed).
		Int("skipped", report.Summary.Skipped).
		Msg("convergence run completed")

	return report, runErr
}

// walkLevels applies the catalog level by level. Resources within a level
// share no ordering path and may run in parallel; the per-level barrier
// guarantees notify marks are visible before any dependent is observed.
func (e *Executor) walkLevels(ctx context.Context, cat *Catalog, opts RunOptions) error {
	for _, level := range cat.Graph().Levels() {
		select {
		case <-ctx.Done():
			e.markRemainingCancelled(ctx.Err())
			return NewApplyError(ErrCodeInternal, "run cancelled", ctx.Err())
		default:
		}

		workers := opts.MaxParallel
		if workers < 1 {
			workers = 1
		}
		if len(level) < workers {
			workers = len(level)
		}

		if workers <= 1 {
			for _, ref := range level {
				e.processResource(ctx, cat, ref, opts)
			}
			continue
		}

		queue := make(chan Ref, len(level))
		for _, ref := range level {
			queue <- ref
		}
		close(queue)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for ref := range queue {
					e.processResource(ctx, cat, ref, opts)
				}
			}()
		}
		wg.Wait()
	}
	return nil
}

// processResource drives one resource through the per-run state machine:
// pending -> observed -> {unchanged | applying -> applied | failed}.
func (e *Executor) processResource(ctx context.Context, cat *Catalog, ref Ref, opts RunOptions) {
	res, _ := cat.Get(ref)
	result := e.result(ref)
	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)
		if e.metrics != nil {
			e.metrics.ResourceConverged(ref.Kind, result.Status, result.Duration)
		}
	}()

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "converge.resource",
			trace.WithAttributes(attribute.String("resource.ref", ref.String())))
		defer span.End()
	}

	// A failed require dependency, transitively, blocks this resource.
	if blocked, root := e.blockedBy(cat.Graph(), ref); blocked {
		result.Status = StatusSkipped
		result.BlockedBy = &root
		result.Error = NewApplyError(ErrCodeDependencyFailed,
			fmt.Sprintf("skipped: blocked by failed resource %s", root), nil).WithResource(ref)
		e.logger.Warn().Str("resource", ref.String()).Str("blocked_by", root.String()).
			Msg("resource skipped")
		return
	}

	handler, ok := e.registry.Get(ref.Kind)
	if !ok {
		e.fail(result, NewApplyError(ErrCodeInternal,
			fmt.Sprintf("no handler for kind %q", ref.Kind), nil).WithResource(ref))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, opts.ResourceTimeout)
	defer cancel()

	observed, err := handler.Observe(opCtx, e.host, res)
	if err != nil {
		e.fail(result, NewApplyError(ErrCodeObserveFailed, "observe failed", err).WithResource(ref))
		return
	}
	result.Status = StatusObserved

	if observed.InSync {
		result.Status = StatusUnchanged
		e.logger.Debug().Str("resource", ref.String()).Msg("already in sync")
		return
	}

	if opts.DryRun {
		// Intended change: report as applied without touching the host,
		// and simulate notify propagation so the report shows the
		// refreshes a real run would perform.
		result.Status = StatusApplied
		result.Changed = true
		result.Message = "would apply"
		e.markNotifyTargets(cat.Graph(), ref)
		return
	}

	result.Status = StatusApplying
	applied, err := handler.Apply(opCtx, e.host, res)
	if err != nil {
		e.fail(result, NewApplyError(ErrCodeApplyFailed, "apply failed", err).WithResource(ref))
		return
	}

	result.Changed = applied.Changed
	result.Message = applied.Message
	if applied.Changed {
		result.Status = StatusApplied
		e.markNotifyTargets(cat.Graph(), ref)
		e.logger.Info().Str("resource", ref.String()).Str("action", applied.Message).
			Msg("resource applied")
	} else {
		// Idempotent apply with no external drift.
		result.Status = StatusUnchanged
	}
}

// refreshPass runs the coalesced refresh actions in topological order.
// Failed and skipped resources never refresh; a refresh failure marks the
// resource failed.
func (e *Executor) refreshPass(ctx context.Context, cat *Catalog, opts RunOptions) {
	for _, ref := range cat.Graph().TopologicalOrder() {
		e.mu.Lock()
		marked := e.refresh[ref]
		e.mu.Unlock()
		if !marked {
			continue
		}

		result := e.result(ref)
		if !result.Status.Converged() {
			continue
		}

		if opts.DryRun {
			result.Status = StatusRefreshed
			result.Refreshed = true
			continue
		}

		res, _ := cat.Get(ref)
		handler, ok := e.registry.Get(ref.Kind)
		if !ok {
			continue
		}

		result.Status = StatusRefreshing
		opCtx, cancel := context.WithTimeout(ctx, opts.ResourceTimeout)
		err := handler.Refresh(opCtx, e.host, res)
		cancel()

		if err != nil {
			code := ErrCodeApplyFailed
			if errors.Is(err, context.DeadlineExceeded) {
				code = ErrCodeNotifyTimeout
			}
			e.fail(result, NewApplyError(code, "refresh failed", err).WithResource(ref))
			continue
		}

		result.Status = StatusRefreshed
		result.Refreshed = true
		e.logger.Info().Str("resource", ref.String()).Msg("resource refreshed")
	}
}

// blockedBy reports whether any require dependency of ref ended failed or
// skipped, returning the root failed resource.
func (e *Executor) blockedBy(g *Graph, ref Ref) (bool, Ref) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, dep := range g.RequireDeps(ref) {
		depResult, ok := e.results[dep]
		if !ok {
			continue
		}
		switch depResult.Status {
		case StatusFailed:
			return true, dep
		case StatusSkipped:
			if depResult.BlockedBy != nil {
				return true, *depResult.BlockedBy
			}
			return true, dep
		}
	}
	return false, Ref{}
}

// markNotifyTargets marks each notify target of ref for a refresh. Multiple
// triggers coalesce to a single refresh per resource per run.
func (e *Executor) markNotifyTargets(g *Graph, ref Ref) {
	targets := g.NotifyTargets(ref)
	if len(targets) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, target := range targets {
		e.refresh[target] = true
	}
}

func (e *Executor) result(ref Ref) *ResourceResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results[ref]
}

func (e *Executor) fail(result *ResourceResult, err *EngineError) {
	result.Status = StatusFailed
	result.Error = err
	if e.metrics != nil {
		e.metrics.ErrorByCode(err.Code)
	}
	e.logger.Error().Err(err).Str("resource", result.Ref.String()).Msg("resource failed")
}

func (e *Executor) markRemainingCancelled(cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, result := range e.results {
		if result.Status == StatusPending {
			result.Status = StatusSkipped
			result.Error = NewApplyError(ErrCodeInternal, "run cancelled", cause).
				WithResource(result.Ref)
		}
	}
}

// collectResults orders per-resource results by declaration order for a
// reproducible report.
func (e *Executor) collectResults(cat *Catalog) []ResourceResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]ResourceResult, 0, len(cat.Resources))
	for _, r := range cat.Resources {
		results = append(results, *e.results[r.Ref])
	}
	return results
}

func summarize(results []ResourceResult) RunSummary {
	s := RunSummary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusApplied:
			s.Applied++
		case StatusUnchanged:
			s.Unchanged++
		case StatusRefreshed:
			s.Refreshed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
