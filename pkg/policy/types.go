package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block the run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the run before apply.
	SeverityError Severity = "error"
)

// Policy is one Rego rule set evaluated against the built catalog.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`
}

// Violation is a single policy violation.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Resource is the offending resource ref, when known.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all policies against a catalog.
type Result struct {
	// Allowed is false when any error-severity violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists all findings, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems that did not block.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// CatalogInput is the document handed to Rego as input.
type CatalogInput struct {
	Resources []ResourceInput `json:"resources"`
	Edges     []EdgeInput     `json:"edges"`
}

// ResourceInput is one catalog resource as seen by policies.
type ResourceInput struct {
	Kind  string         `json:"kind"`
	Title string         `json:"title"`
	Ref   string         `json:"ref"`
	Attrs map[string]any `json:"attrs"`
}

// EdgeInput is one dependency edge as seen by policies.
type EdgeInput struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}
