package engine

import (
	"fmt"
	"time"
)

// Ref uniquely identifies a resource by kind and title, e.g. package[curl].
type Ref struct {
	// Kind is the resource kind (e.g. "package", "file", "service").
	Kind string `json:"kind"`

	// Title is the unique title within the kind.
	Title string `json:"title"`
}

// String renders the ref in kind[title] form.
func (r Ref) String() string {
	return fmt.Sprintf("%s[%s]", r.Kind, r.Title)
}

// Resource is a typed, uniquely named declaration of desired state for one
// managed entity. Attributes are opaque to the engine and validated by the
// kind's handler.
type Resource struct {
	// Ref is the (kind, title) identity of the resource.
	Ref Ref `json:"ref"`

	// Attrs is the desired-state attribute map for this resource.
	Attrs map[string]any `json:"attrs,omitempty"`

	// index is the declaration order within the catalog, used as the
	// deterministic tie-break for topological ordering.
	index int
}

// StringAttr returns the named attribute as a string.
func (r *Resource) StringAttr(key string) (string, bool) {
	v, ok := r.Attrs[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringAttrDefault returns the named attribute or def when absent.
func (r *Resource) StringAttrDefault(key, def string) string {
	if s, ok := r.StringAttr(key); ok {
		return s
	}
	return def
}

// BoolAttr returns the named attribute as a bool.
func (r *Resource) BoolAttr(key string) (bool, bool) {
	v, ok := r.Attrs[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// EdgeType represents the relationship carried by a catalog edge.
type EdgeType string

const (
	// EdgeRequire imposes ordering: the source must reach a terminal state
	// before the target may be observed, and a failed source blocks the
	// target and its transitive dependents.
	EdgeRequire EdgeType = "require"

	// EdgeNotify carries a refresh signal fired only when the source
	// resource's apply actually changed state.
	EdgeNotify EdgeType = "notify"
)

// Validate checks if the edge type is valid.
func (t EdgeType) Validate() error {
	switch t {
	case EdgeRequire, EdgeNotify:
		return nil
	default:
		return fmt.Errorf("invalid edge type: %s", t)
	}
}

// Edge is a directed dependency between two declared resources.
type Edge struct {
	// From is the source resource ref.
	From Ref `json:"from"`

	// To is the target resource ref.
	To Ref `json:"to"`

	// Type is the edge relationship.
	Type EdgeType `json:"type"`
}

// Catalog is the complete resource and edge set for one convergence run.
// It is built once per invocation and immutable thereafter.
type Catalog struct {
	// Resources in declaration order.
	Resources []*Resource `json:"resources"`

	// Edges between declared resources.
	Edges []Edge `json:"edges"`

	byRef map[Ref]*Resource
	graph *Graph
}

// Get returns the resource with the given ref, if declared.
func (c *Catalog) Get(ref Ref) (*Resource, bool) {
	r, ok := c.byRef[ref]
	return r, ok
}

// Graph returns the validated dependency graph for the catalog.
func (c *Catalog) Graph() *Graph {
	return c.graph
}

// ObservedState is the result of a side-effect-free query of the real system
// state for one resource.
type ObservedState struct {
	// InSync reports whether the observed state already matches the
	// desired attributes.
	InSync bool `json:"in_sync"`

	// Current carries kind-specific details of what was observed, for
	// reporting and diffing.
	Current map[string]any `json:"current,omitempty"`
}

// ApplyResult is the outcome of moving a resource toward its desired state.
type ApplyResult struct {
	// Changed reports whether the apply actually modified the system.
	// Repeated applies with no external drift must yield false.
	Changed bool `json:"changed"`

	// Message is an optional kind-specific description of the action taken.
	Message string `json:"message,omitempty"`
}

// ResourceResult is the per-resource outcome of a convergence run.
type ResourceResult struct {
	// Ref identifies the resource.
	Ref Ref `json:"ref"`

	// Status is the terminal state the resource reached.
	Status ResourceStatus `json:"status"`

	// Changed reports whether the apply modified the system.
	Changed bool `json:"changed"`

	// Refreshed reports whether a coalesced refresh action ran.
	Refreshed bool `json:"refreshed"`

	// BlockedBy names the failed resource that caused a skip, if any.
	BlockedBy *Ref `json:"blocked_by,omitempty"`

	// Error is the failure that occurred, if any.
	Error *EngineError `json:"error,omitempty"`

	// Message is a kind-specific description of the action taken or, in
	// dry-run mode, the action that would be taken.
	Message string `json:"message,omitempty"`

	// Duration is the total observe+apply+refresh time.
	Duration time.Duration `json:"duration"`
}

// RunReport is the full result of one convergence run.
type RunReport struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// DryRun reports whether the run was observe-only.
	DryRun bool `json:"dry_run"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Results holds per-resource outcomes in declaration order.
	Results []ResourceResult `json:"results"`

	// Summary provides aggregate counts by terminal state.
	Summary RunSummary `json:"summary"`
}

// RunSummary provides aggregate statistics for a run.
type RunSummary struct {
	// Total is the number of resources in the catalog.
	Total int `json:"total"`

	// Applied is the number of resources that changed.
	Applied int `json:"applied"`

	// Unchanged is the number of resources already in sync.
	Unchanged int `json:"unchanged"`

	// Refreshed is the number of resources that ran a refresh action.
	Refreshed int `json:"refreshed"`

	// Skipped is the number of resources blocked by failed dependencies.
	Skipped int `json:"skipped"`

	// Failed is the number of resources whose observe or apply failed.
	Failed int `json:"failed"`
}

// Status derives the overall run status from the summary.
func (s RunSummary) Status() RunStatus {
	switch {
	case s.Failed == 0 && s.Skipped == 0:
		return RunStatusSucceeded
	case s.Applied+s.Unchanged+s.Refreshed > 0:
		return RunStatusPartial
	default:
		return RunStatusFailed
	}
}

// Succeeded reports whether every resource ended unchanged, applied or
// refreshed. This drives the process exit code.
func (s RunSummary) Succeeded() bool {
	return s.Failed == 0 && s.Skipped == 0
}
