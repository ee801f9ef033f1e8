package resources

import (
	"context"
	"fmt"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/host"
)

// ServiceHandler manages services. Recognized attributes:
//
//	ensure:    "running" (default) or "stopped"
//	enable:    bool, manage boot-time enablement when set
//	hasstatus: bool, accepted for compatibility; the host collaborator
//	           always queries real status
//
// A service's refresh action is a restart, triggered by notify edges from
// config resources; a stopped service ignores refresh.
type ServiceHandler struct{}

// Observe queries the service's running and enabled state.
func (h *ServiceHandler) Observe(ctx context.Context, hs host.Host, r *engine.Resource) (engine.ObservedState, error) {
	state, err := hs.QueryService(ctx, r.Ref.Title)
	if err != nil {
		return engine.ObservedState{}, err
	}

	current := map[string]any{
		"running": state.Running,
		"enabled": state.Enabled,
	}

	wantRunning, err := wantsRunning(r)
	if err != nil {
		return engine.ObservedState{}, err
	}

	inSync := state.Running == wantRunning
	if enable, ok := r.BoolAttr("enable"); ok && state.Enabled != enable {
		inSync = false
	}

	return engine.ObservedState{InSync: inSync, Current: current}, nil
}

// Apply converges running and enabled state with the minimal actions.
func (h *ServiceHandler) Apply(ctx context.Context, hs host.Host, r *engine.Resource) (engine.ApplyResult, error) {
	name := r.Ref.Title

	state, err := hs.QueryService(ctx, name)
	if err != nil {
		return engine.ApplyResult{}, err
	}

	wantRunning, err := wantsRunning(r)
	if err != nil {
		return engine.ApplyResult{}, err
	}

	changed := false
	var action string

	if state.Running != wantRunning {
		a := host.ServiceStop
		action = "stopped"
		if wantRunning {
			a = host.ServiceStart
			action = "started"
		}
		if err := hs.ControlService(ctx, name, a); err != nil {
			return engine.ApplyResult{}, err
		}
		changed = true
	}

	if enable, ok := r.BoolAttr("enable"); ok && state.Enabled != enable {
		a := host.ServiceDisable
		if enable {
			a = host.ServiceEnable
		}
		if err := hs.ControlService(ctx, name, a); err != nil {
			return engine.ApplyResult{}, err
		}
		changed = true
		if action == "" {
			action = string(a) + "d"
		}
	}

	return engine.ApplyResult{Changed: changed, Message: action}, nil
}

// Refresh restarts the service unless it is managed as stopped.
func (h *ServiceHandler) Refresh(ctx context.Context, hs host.Host, r *engine.Resource) error {
	wantRunning, err := wantsRunning(r)
	if err != nil {
		return err
	}
	if !wantRunning {
		return nil
	}
	return hs.ControlService(ctx, r.Ref.Title, host.ServiceRestart)
}

func wantsRunning(r *engine.Resource) (bool, error) {
	switch ensure := r.StringAttrDefault("ensure", "running"); ensure {
	case "running":
		return true, nil
	case "stopped":
		return false, nil
	default:
		return false, fmt.Errorf("invalid ensure value %q", ensure)
	}
}
