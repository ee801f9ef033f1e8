package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/convergekit/converge/pkg/host"
)

// Handler implements the observe/apply/refresh contract for one resource
// kind. Observe must be side-effect-free; Apply must be idempotent (repeated
// calls with no external drift yield Changed=false).
type Handler interface {
	// Observe queries the real system state for the resource.
	Observe(ctx context.Context, h host.Host, r *Resource) (ObservedState, error)

	// Apply performs the minimal action to move observed state to desired
	// state.
	Apply(ctx context.Context, h host.Host, r *Resource) (ApplyResult, error)

	// Refresh performs the kind's refresh action in response to a notify
	// signal (e.g. restart a service). Kinds without a refresh action
	// return nil.
	Refresh(ctx context.Context, h host.Host, r *Resource) error
}

// Registry maps resource kinds to their handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register registers a handler for a kind. Registering the same kind twice
// is a programming error.
func (r *Registry) Register(kind string, h Handler) error {
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for kind %q", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Get returns the handler for a kind.
func (r *Registry) Get(kind string) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
