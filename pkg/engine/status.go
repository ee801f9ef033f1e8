package engine

import (
	"encoding/json"
	"fmt"
)

// ResourceStatus represents the per-run state of a resource as the engine
// walks the catalog.
type ResourceStatus string

const (
	// StatusPending indicates the resource has not been visited yet.
	StatusPending ResourceStatus = "pending"

	// StatusObserved indicates the current state has been queried but the
	// convergence decision has not been made.
	StatusObserved ResourceStatus = "observed"

	// StatusUnchanged indicates the observed state already matched the
	// desired state.
	StatusUnchanged ResourceStatus = "unchanged"

	// StatusApplying indicates the minimal convergence action is running.
	StatusApplying ResourceStatus = "applying"

	// StatusApplied indicates the apply action completed and changed state.
	StatusApplied ResourceStatus = "applied"

	// StatusFailed indicates observe or apply failed.
	StatusFailed ResourceStatus = "failed"

	// StatusRefreshing indicates a coalesced refresh action is running.
	StatusRefreshing ResourceStatus = "refreshing"

	// StatusRefreshed indicates the refresh action completed.
	StatusRefreshed ResourceStatus = "refreshed"

	// StatusSkipped indicates the resource was blocked by a failed
	// dependency and never observed.
	StatusSkipped ResourceStatus = "skipped"
)

// IsTerminal returns true if the status is a final per-run state.
func (s ResourceStatus) IsTerminal() bool {
	switch s {
	case StatusUnchanged, StatusApplied, StatusRefreshed, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Converged returns true if the resource ended in a healthy terminal state.
func (s ResourceStatus) Converged() bool {
	return s == StatusUnchanged || s == StatusApplied || s == StatusRefreshed
}

// Validate checks if the resource status is valid.
func (s ResourceStatus) Validate() error {
	switch s {
	case StatusPending, StatusObserved, StatusUnchanged, StatusApplying,
		StatusApplied, StatusFailed, StatusRefreshing, StatusRefreshed, StatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid resource status: %s", s)
	}
}

// RunStatus represents the overall status of a convergence run.
type RunStatus string

const (
	// RunStatusSucceeded indicates every resource converged.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates some resources converged while others
	// failed or were skipped.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates no resource converged.
	RunStatusFailed RunStatus = "failed"
)

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusSucceeded, RunStatusPartial, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ResourceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ResourceStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ResourceStatus(str)
	return s.Validate()
}
