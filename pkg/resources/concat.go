package resources

import (
	"bytes"
	"context"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/host"
)

// ConcatHandler manages files assembled from ordered config fragments. The
// catalog builder folds all fragments for a target into the content
// attribute before the run; the handler itself behaves like a file with
// derived content. The target is written only when the concatenated result
// differs from current content, so an unchanged assembly never fires a
// notify edge. Recognized attributes:
//
//	path:    target path, defaults to the resource title
//	content: the assembled fragment text (set by the builder)
//	mode:    octal mode string, default "0644"
//	owner:   owner user name
//	group:   owner group name
type ConcatHandler struct{}

// Observe compares current target content with the assembled content.
func (h *ConcatHandler) Observe(ctx context.Context, hs host.Host, r *engine.Resource) (engine.ObservedState, error) {
	current, err := hs.ReadFile(ctx, filePath(r))
	if err != nil {
		return engine.ObservedState{}, err
	}

	desired := []byte(r.StringAttrDefault("content", ""))
	return engine.ObservedState{
		InSync:  current.Exists && bytes.Equal(current.Data, desired),
		Current: map[string]any{"exists": current.Exists},
	}, nil
}

// Apply writes the assembled content atomically.
func (h *ConcatHandler) Apply(ctx context.Context, hs host.Host, r *engine.Resource) (engine.ApplyResult, error) {
	mode, err := parseMode(r)
	if err != nil {
		return engine.ApplyResult{}, err
	}

	content := []byte(r.StringAttrDefault("content", ""))
	owner := r.StringAttrDefault("owner", "")
	group := r.StringAttrDefault("group", "")

	if err := hs.WriteFileAtomic(ctx, filePath(r), content, mode, owner, group); err != nil {
		return engine.ApplyResult{}, err
	}
	return engine.ApplyResult{Changed: true, Message: "fragments assembled"}, nil
}

// Refresh is a no-op: assembled files have no refresh action.
func (h *ConcatHandler) Refresh(context.Context, host.Host, *engine.Resource) error {
	return nil
}
