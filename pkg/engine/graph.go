package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is the validated dependency graph of a catalog. Ordering and cycle
// detection are computed over the require-edge subgraph; notify edges are
// carried for refresh propagation and visualization.
type Graph struct {
	// order is the topological order of all resources. Resources with no
	// ordering constraint between them keep declaration order, so runs
	// are reproducible.
	order []Ref

	// levels groups refs by topological level; refs within a level have
	// no require path between them and may be applied in parallel.
	levels [][]Ref

	// orderDeps maps a ref to the refs that must complete before it
	// (incoming require and notify edges).
	orderDeps map[Ref][]Ref

	// orderDependents maps a ref to the refs ordered after it.
	orderDependents map[Ref][]Ref

	// requireDeps maps a ref to its require-edge sources only; failure
	// propagation follows these, never notify edges.
	requireDeps map[Ref][]Ref

	// notifyTargets maps a ref to the refs it notifies on change.
	notifyTargets map[Ref][]Ref

	edges []Edge
	index map[Ref]int
}

// buildGraph validates edges against the declared resources, detects cycles
// in the require subgraph, and computes the deterministic topological order.
func buildGraph(resources []*Resource, edges []Edge) (*Graph, error) {
	g := &Graph{
		orderDeps:       make(map[Ref][]Ref, len(resources)),
		orderDependents: make(map[Ref][]Ref, len(resources)),
		requireDeps:     make(map[Ref][]Ref, len(resources)),
		notifyTargets:   make(map[Ref][]Ref),
		edges:           edges,
		index:           make(map[Ref]int, len(resources)),
	}

	for _, r := range resources {
		g.index[r.Ref] = r.index
	}

	inDegree := make(map[Ref]int, len(resources))
	for _, e := range edges {
		if _, ok := g.index[e.From]; !ok {
			return nil, NewBuildError(ErrCodeUnknownResource,
				fmt.Sprintf("edge references undeclared resource: %s", e.From), nil)
		}
		if _, ok := g.index[e.To]; !ok {
			return nil, NewBuildError(ErrCodeUnknownResource,
				fmt.Sprintf("edge references undeclared resource: %s", e.To), nil)
		}

		// Both edge types impose ordering: a notify signal must be
		// evaluated after its source completes. Only require edges
		// carry failure propagation.
		g.orderDependents[e.From] = append(g.orderDependents[e.From], e.To)
		g.orderDeps[e.To] = append(g.orderDeps[e.To], e.From)
		inDegree[e.To]++

		switch e.Type {
		case EdgeRequire:
			g.requireDeps[e.To] = append(g.requireDeps[e.To], e.From)
		case EdgeNotify:
			g.notifyTargets[e.From] = append(g.notifyTargets[e.From], e.To)
		}
	}

	if err := g.detectCycles(resources); err != nil {
		return nil, err
	}

	if err := g.computeLevels(resources, inDegree); err != nil {
		return nil, err
	}

	return g, nil
}

// detectCycles uses depth-first search over ordering edges, visiting roots
// in declaration order so cycle reports are deterministic.
func (g *Graph) detectCycles(resources []*Resource) error {
	visited := make(map[Ref]bool)
	recStack := make(map[Ref]bool)

	for _, r := range resources {
		if !visited[r.Ref] {
			if cycle := g.walkCycle(r.Ref, visited, recStack, nil); cycle != nil {
				return NewBuildError(ErrCodeCycle,
					fmt.Sprintf("dependency cycle detected: %s", formatCycle(cycle)), nil)
			}
		}
	}
	return nil
}

// walkCycle performs DFS and returns the cycle path when one is found.
func (g *Graph) walkCycle(ref Ref, visited, recStack map[Ref]bool, path []Ref) []Ref {
	visited[ref] = true
	recStack[ref] = true
	path = append(path, ref)

	for _, dependent := range g.sortedDependents(ref) {
		if !visited[dependent] {
			if cycle := g.walkCycle(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, p := range path {
				if p == dependent {
					return append(path[i:len(path):len(path)], dependent)
				}
			}
		}
	}

	recStack[ref] = false
	return nil
}

// computeLevels runs Kahn's algorithm with level tracking, keeping
// declaration order within each level.
func (g *Graph) computeLevels(resources []*Resource, inDegree map[Ref]int) error {
	remaining := make(map[Ref]int, len(resources))
	for _, r := range resources {
		remaining[r.Ref] = inDegree[r.Ref]
	}

	var current []Ref
	for _, r := range resources {
		if remaining[r.Ref] == 0 {
			current = append(current, r.Ref)
		}
	}

	processed := 0
	for len(current) > 0 {
		g.sortByDeclaration(current)
		g.levels = append(g.levels, current)
		g.order = append(g.order, current...)
		processed += len(current)

		var next []Ref
		for _, ref := range current {
			for _, dependent := range g.orderDependents[ref] {
				remaining[dependent]--
				if remaining[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	// Unreachable if cycle detection is correct.
	if processed != len(resources) {
		return NewBuildError(ErrCodeInternal,
			"failed to order all resources, possible undetected cycle", nil)
	}
	return nil
}

// TopologicalOrder returns every resource ref with each edge source appearing
// before its target; unconstrained resources keep declaration order.
func (g *Graph) TopologicalOrder() []Ref {
	return g.order
}

// Levels returns refs grouped by topological level.
func (g *Graph) Levels() [][]Ref {
	return g.levels
}

// Depth returns the number of topological levels.
func (g *Graph) Depth() int {
	return len(g.levels)
}

// RequireDeps returns the require-edge sources of the given ref. A failure
// in any of these, transitively, blocks the ref.
func (g *Graph) RequireDeps(ref Ref) []Ref {
	return g.requireDeps[ref]
}

// NotifyTargets returns the refs notified when the given ref changes state.
func (g *Graph) NotifyTargets(ref Ref) []Ref {
	targets := append([]Ref(nil), g.notifyTargets[ref]...)
	g.sortByDeclaration(targets)
	return targets
}

// ToDOT generates a DOT representation of the graph for Graphviz rendering.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph catalog {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, refs := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, ref := range refs {
			sb.WriteString(fmt.Sprintf("    %q;\n", ref.String()))
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range g.edges {
		style := "style=solid, color=black"
		if e.Type == EdgeNotify {
			style = "style=dashed, color=blue"
		}
		sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n",
			e.From.String(), e.To.String(), style))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// sortedDependents returns the ordering dependents of ref in declaration
// order for deterministic traversal.
func (g *Graph) sortedDependents(ref Ref) []Ref {
	deps := append([]Ref(nil), g.orderDependents[ref]...)
	g.sortByDeclaration(deps)
	return deps
}

func (g *Graph) sortByDeclaration(refs []Ref) {
	sort.SliceStable(refs, func(i, j int) bool {
		return g.index[refs[i]] < g.index[refs[j]]
	})
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []Ref) string {
	parts := make([]string, len(cycle))
	for i, ref := range cycle {
		parts[i] = ref.String()
	}
	return strings.Join(parts, " -> ")
}
