package resources

import (
	"context"
	"fmt"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/host"
)

// ExecHandler runs idempotence-guarded shell commands. Recognized attributes:
//
//	command:     the command to run, defaults to the resource title
//	unless:      guard command; a zero exit means the system is already
//	             converged and command is not run
//	refreshonly: bool; when true the command runs only in response to a
//	             notify signal, never during the regular walk
type ExecHandler struct{}

func execCommand(r *engine.Resource) string {
	return r.StringAttrDefault("command", r.Ref.Title)
}

// Observe runs the unless guard. Without a guard (and not refreshonly) the
// command is considered out of sync every run.
func (h *ExecHandler) Observe(ctx context.Context, hs host.Host, r *engine.Resource) (engine.ObservedState, error) {
	if refreshOnly, _ := r.BoolAttr("refreshonly"); refreshOnly {
		return engine.ObservedState{InSync: true}, nil
	}

	unless := r.StringAttrDefault("unless", "")
	if unless == "" {
		return engine.ObservedState{InSync: false}, nil
	}

	// The guard is a check by contract; running it observes, not mutates.
	result, err := hs.RunCommand(ctx, unless, "")
	if err != nil {
		return engine.ObservedState{}, err
	}
	return engine.ObservedState{
		InSync:  result.ExitCode == 0,
		Current: map[string]any{"guard_exit": result.ExitCode},
	}, nil
}

// Apply runs the command through the host, re-checking the unless guard.
func (h *ExecHandler) Apply(ctx context.Context, hs host.Host, r *engine.Resource) (engine.ApplyResult, error) {
	result, err := hs.RunCommand(ctx, execCommand(r), r.StringAttrDefault("unless", ""))
	if err != nil {
		return engine.ApplyResult{}, err
	}
	if result.Skipped {
		return engine.ApplyResult{Changed: false, Message: "guard satisfied"}, nil
	}
	if result.ExitCode != 0 {
		return engine.ApplyResult{}, fmt.Errorf("command exited %d: %s",
			result.ExitCode, result.Stderr)
	}
	return engine.ApplyResult{Changed: true, Message: "command run"}, nil
}

// Refresh re-runs the command, ignoring the unless guard; this is the only
// trigger for refreshonly commands.
func (h *ExecHandler) Refresh(ctx context.Context, hs host.Host, r *engine.Resource) error {
	result, err := hs.RunCommand(ctx, execCommand(r), "")
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("command exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}
