package resources

import (
	"context"
	"fmt"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/host"
)

// PackageHandler manages system packages. Recognized attributes:
//
//	ensure:   "present" (default), "absent" or "latest"
//	version:  exact version pin, only meaningful with ensure=present
//	provider: package manager override (apt, dnf, yum, zypper)
type PackageHandler struct{}

// Observe queries the package state.
func (h *PackageHandler) Observe(ctx context.Context, hs host.Host, r *engine.Resource) (engine.ObservedState, error) {
	state, err := hs.QueryPackage(ctx, r.Ref.Title)
	if err != nil {
		return engine.ObservedState{}, err
	}

	current := map[string]any{
		"installed": state.Installed,
		"version":   state.Version,
	}

	switch ensure := r.StringAttrDefault("ensure", "present"); ensure {
	case "absent":
		return engine.ObservedState{InSync: !state.Installed, Current: current}, nil
	case "present", "latest":
		if !state.Installed {
			return engine.ObservedState{InSync: false, Current: current}, nil
		}
		if pin, ok := r.StringAttr("version"); ok && pin != "" && pin != state.Version {
			return engine.ObservedState{InSync: false, Current: current}, nil
		}
		return engine.ObservedState{InSync: true, Current: current}, nil
	default:
		return engine.ObservedState{}, fmt.Errorf("invalid ensure value %q", ensure)
	}
}

// Apply installs or removes the package.
func (h *PackageHandler) Apply(ctx context.Context, hs host.Host, r *engine.Resource) (engine.ApplyResult, error) {
	name := r.Ref.Title
	provider := r.StringAttrDefault("provider", "")

	if r.StringAttrDefault("ensure", "present") == "absent" {
		if err := hs.RemovePackage(ctx, name, provider); err != nil {
			return engine.ApplyResult{}, err
		}
		return engine.ApplyResult{Changed: true, Message: "removed"}, nil
	}

	version := r.StringAttrDefault("version", "")
	if err := hs.InstallPackage(ctx, name, version, provider); err != nil {
		return engine.ApplyResult{}, err
	}
	return engine.ApplyResult{Changed: true, Message: "installed"}, nil
}

// Refresh is a no-op: packages have no refresh action.
func (h *PackageHandler) Refresh(context.Context, host.Host, *engine.Resource) error {
	return nil
}
