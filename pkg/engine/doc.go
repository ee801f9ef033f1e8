// Package engine implements the generic convergence core: a declarative
// resource catalog with require/notify edges, deterministic topological
// ordering, and a single-pass executor with idempotent apply semantics.
//
// The lifecycle of one run:
//
//  1. A CatalogBuilder collects resource declarations, edges and config
//     fragments. Build() assembles fragments, validates the graph and
//     returns an immutable Catalog. Every malformed-catalog condition
//     (duplicate ref, unknown edge endpoint, dependency cycle) fails here,
//     before any apply begins.
//
//  2. The Executor walks the catalog level by level. For each resource it
//     observes the real system through the host collaborator, applies the
//     minimal convergence action when observed state differs from desired,
//     and marks notify targets for refresh when an apply actually changed
//     state.
//
//  3. After the walk, coalesced refresh actions run in dependency order:
//     a resource refreshes at most once per run, regardless of how many
//     notify signals it received.
//
// An apply failure is fatal to the failed resource and everything that
// transitively requires it; independent branches continue. The run report
// records each resource's terminal state (unchanged, applied, refreshed,
// failed, skipped) in declaration order.
//
// Resources and edges live for one run only. The next run re-observes the
// managed host from scratch; no prior-run ledger influences convergence.
package engine
