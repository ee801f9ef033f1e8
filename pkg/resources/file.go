package resources

import (
	"bytes"
	"context"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/host"
)

// FileHandler manages plain files with literal desired content. Recognized
// attributes:
//
//	path:    target path, defaults to the resource title
//	content: desired file content
//	mode:    octal mode string, default "0644"
//	owner:   owner user name
//	group:   owner group name
type FileHandler struct{}

func filePath(r *engine.Resource) string {
	return r.StringAttrDefault("path", r.Ref.Title)
}

// Observe compares current file content against the desired content.
func (h *FileHandler) Observe(ctx context.Context, hs host.Host, r *engine.Resource) (engine.ObservedState, error) {
	path := filePath(r)
	current, err := hs.ReadFile(ctx, path)
	if err != nil {
		return engine.ObservedState{}, err
	}

	observed := map[string]any{"exists": current.Exists}

	desired := []byte(r.StringAttrDefault("content", ""))
	inSync := current.Exists && bytes.Equal(current.Data, desired)
	return engine.ObservedState{InSync: inSync, Current: observed}, nil
}

// Apply writes the desired content atomically.
func (h *FileHandler) Apply(ctx context.Context, hs host.Host, r *engine.Resource) (engine.ApplyResult, error) {
	path := filePath(r)

	mode, err := parseMode(r)
	if err != nil {
		return engine.ApplyResult{}, err
	}

	content := []byte(r.StringAttrDefault("content", ""))
	owner := r.StringAttrDefault("owner", "")
	group := r.StringAttrDefault("group", "")

	if err := hs.WriteFileAtomic(ctx, path, content, mode, owner, group); err != nil {
		return engine.ApplyResult{}, err
	}
	return engine.ApplyResult{Changed: true, Message: "content written"}, nil
}

// Refresh is a no-op: files have no refresh action.
func (h *FileHandler) Refresh(context.Context, host.Host, *engine.Resource) error {
	return nil
}
