package stores

import (
	"time"
)

// Run is one persisted convergence run.
type Run struct {
	// ID is the run UUID.
	ID string `json:"id"`

	// Certname identifies the node the run converged.
	Certname string `json:"certname"`

	// Status is the final run status: succeeded, partial or failed.
	Status string `json:"status"`

	// DryRun records whether the run simulated its changes.
	DryRun bool `json:"dry_run"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Counters summarize the per-resource outcomes.
	Total     int `json:"total"`
	Applied   int `json:"applied"`
	Unchanged int `json:"unchanged"`
	Refreshed int `json:"refreshed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	CreatedAt time.Time `json:"created_at"`
}

// ResourceRecord is one persisted per-resource convergence result.
type ResourceRecord struct {
	// ID is the record row ID.
	ID int64 `json:"id"`

	// RunID links the record to its run.
	RunID string `json:"run_id"`

	// Kind and Title identify the resource.
	Kind  string `json:"kind"`
	Title string `json:"title"`

	// Status is the resource's terminal status.
	Status string `json:"status"`

	// Changed records whether apply made a change.
	Changed bool `json:"changed"`

	// Refreshed records whether a notify signal refreshed the resource.
	Refreshed bool `json:"refreshed"`

	// BlockedBy names the failed dependency for skipped resources.
	BlockedBy *string `json:"blocked_by,omitempty"`

	// Error holds the resource-scoped error message, if any.
	Error *string `json:"error,omitempty"`

	// Message is the handler's human-readable outcome.
	Message string `json:"message"`

	// DurationMS is the resource's wall-clock convergence time.
	DurationMS int64 `json:"duration_ms"`
}
