package engine

import (
	"fmt"
	"sort"
)

// AttrValidator validates the attribute map of a resource declaration for a
// given kind. Implementations typically check against per-kind schemas.
type AttrValidator interface {
	ValidateAttrs(kind string, attrs map[string]any) error
}

// KindConcat is the synthetic resource kind produced by fragment assembly.
// One concat resource exists per target file; its content is the ordered
// concatenation of all contributed fragments.
const KindConcat = "concat"

// fragmentDecl is a named, ordered text blob contributed to a concat target.
type fragmentDecl struct {
	target  string
	order   string
	title   string
	content string
}

// CatalogBuilder accumulates resource and edge declarations and assembles an
// immutable, validated Catalog. It is not safe for concurrent use.
type CatalogBuilder struct {
	resources []*Resource
	byRef     map[Ref]*Resource
	edges     []Edge
	edgeSeen  map[Edge]struct{}

	fragments  map[string][]fragmentDecl
	fragTitles map[string]map[string]struct{}

	registry  *Registry
	validator AttrValidator
}

// BuilderOption configures a CatalogBuilder.
type BuilderOption func(*CatalogBuilder)

// WithRegistry makes Declare reject kinds with no registered handler.
func WithRegistry(r *Registry) BuilderOption {
	return func(b *CatalogBuilder) { b.registry = r }
}

// WithAttrValidator makes Declare validate attributes against per-kind
// schemas.
func WithAttrValidator(v AttrValidator) BuilderOption {
	return func(b *CatalogBuilder) { b.validator = v }
}

// NewCatalogBuilder creates an empty catalog builder.
func NewCatalogBuilder(opts ...BuilderOption) *CatalogBuilder {
	b := &CatalogBuilder{
		byRef:      make(map[Ref]*Resource),
		edgeSeen:   make(map[Edge]struct{}),
		fragments:  make(map[string][]fragmentDecl),
		fragTitles: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Declare adds a resource to the building catalog. Declaring the same
// (kind, title) twice fails with DUPLICATE_RESOURCE.
func (b *CatalogBuilder) Declare(kind, title string, attrs map[string]any) (*Resource, error) {
	ref := Ref{Kind: kind, Title: title}

	if kind == "" || title == "" {
		return nil, NewBuildError(ErrCodeValidation,
			"resource kind and title must be non-empty", nil).WithResource(ref)
	}

	if _, exists := b.byRef[ref]; exists {
		return nil, NewBuildError(ErrCodeDuplicateResource,
			fmt.Sprintf("duplicate resource declaration: %s", ref), nil).WithResource(ref)
	}

	if b.registry != nil {
		if _, ok := b.registry.Get(kind); !ok {
			return nil, NewBuildError(ErrCodeUnknownKind,
				fmt.Sprintf("no handler registered for kind %q", kind), nil).WithResource(ref)
		}
	}

	if b.validator != nil {
		if err := b.validator.ValidateAttrs(kind, attrs); err != nil {
			return nil, NewBuildError(ErrCodeValidation,
				"attribute validation failed", err).WithResource(ref)
		}
	}

	res := &Resource{
		Ref:   ref,
		Attrs: attrs,
		index: len(b.resources),
	}
	b.resources = append(b.resources, res)
	b.byRef[ref] = res
	return res, nil
}

// DeclareOnce adds a resource or returns the already-declared one for the
// same (kind, title). It exists for the specific cases where re-declaration
// across independent conditional branches is intentional, such as a shared
// package dependency.
func (b *CatalogBuilder) DeclareOnce(kind, title string, attrs map[string]any) (*Resource, error) {
	if existing, ok := b.byRef[Ref{Kind: kind, Title: title}]; ok {
		return existing, nil
	}
	return b.Declare(kind, title, attrs)
}

// AddEdge adds a directed edge between two declared resources. Unknown
// endpoints fail with UNKNOWN_RESOURCE. Duplicate edges are ignored.
func (b *CatalogBuilder) AddEdge(from, to Ref, t EdgeType) error {
	if err := t.Validate(); err != nil {
		return NewBuildError(ErrCodeValidation, "invalid edge", err)
	}
	if _, ok := b.byRef[from]; !ok {
		return NewBuildError(ErrCodeUnknownResource,
			fmt.Sprintf("edge source is not declared: %s", from), nil).WithResource(from)
	}
	if _, ok := b.byRef[to]; !ok {
		return NewBuildError(ErrCodeUnknownResource,
			fmt.Sprintf("edge target is not declared: %s", to), nil).WithResource(to)
	}

	edge := Edge{From: from, To: to, Type: t}
	if _, seen := b.edgeSeen[edge]; seen {
		return nil
	}
	b.edgeSeen[edge] = struct{}{}
	b.edges = append(b.edges, edge)
	return nil
}

// Require declares that from must be applied before to.
func (b *CatalogBuilder) Require(from, to Ref) error {
	return b.AddEdge(from, to, EdgeRequire)
}

// Notify declares that a state change in from triggers a refresh of to.
// Notify also implies require ordering so the refresh signal is evaluated
// after the source completes.
func (b *CatalogBuilder) Notify(from, to Ref) error {
	return b.AddEdge(from, to, EdgeNotify)
}

// Fragment contributes a named, ordered text blob to a declared concat
// resource. The target must already be declared as concat[target].
// Fragment titles must be unique per target.
func (b *CatalogBuilder) Fragment(target, order, title, content string) error {
	ref := Ref{Kind: KindConcat, Title: target}
	if _, ok := b.byRef[ref]; !ok {
		return NewBuildError(ErrCodeUnknownResource,
			fmt.Sprintf("fragment %q targets undeclared resource %s", title, ref), nil).
			WithResource(ref)
	}

	titles, ok := b.fragTitles[target]
	if !ok {
		titles = make(map[string]struct{})
		b.fragTitles[target] = titles
	}
	if _, dup := titles[title]; dup {
		return NewBuildError(ErrCodeDuplicateResource,
			fmt.Sprintf("duplicate fragment %q for target %s", title, target), nil).
			WithResource(ref)
	}
	titles[title] = struct{}{}

	b.fragments[target] = append(b.fragments[target], fragmentDecl{
		target:  target,
		order:   order,
		title:   title,
		content: content,
	})
	return nil
}

// Build assembles fragments, validates the graph (acyclic require edges,
// known endpoints) and returns the immutable catalog. Any error at this
// stage aborts the run before a single apply.
func (b *CatalogBuilder) Build() (*Catalog, error) {
	if err := b.assembleFragments(); err != nil {
		return nil, err
	}

	cat := &Catalog{
		Resources: b.resources,
		Edges:     b.edges,
		byRef:     b.byRef,
	}

	graph, err := buildGraph(b.resources, b.edges)
	if err != nil {
		return nil, err
	}
	cat.graph = graph

	return cat, nil
}

// assembleFragments folds each target's fragments, sorted ascending by
// (order, title), into the content attribute of its concat resource.
// Fragments sharing a target and order key are tie-broken deterministically
// by title.
func (b *CatalogBuilder) assembleFragments() error {
	for target, frags := range b.fragments {
		sort.SliceStable(frags, func(i, j int) bool {
			if frags[i].order != frags[j].order {
				return frags[i].order < frags[j].order
			}
			return frags[i].title < frags[j].title
		})

		var content string
		for _, f := range frags {
			content += f.content
		}

		res := b.byRef[Ref{Kind: KindConcat, Title: target}]
		if res.Attrs == nil {
			res.Attrs = make(map[string]any)
		}
		res.Attrs["content"] = content
	}
	return nil
}
