// Package engine provides the declarative convergence core: a resource
// catalog with require/notify edges, deterministic topological ordering, and
// an idempotent observe-then-apply executor with refresh propagation.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass separates catalog-build failures, which abort before any apply
// begins, from apply-time failures, which are fatal only to the failed
// resource and its transitive dependents.
type ErrorClass string

const (
	// ErrorClassBuild indicates a malformed catalog. Build errors are
	// always fatal to the whole run: a malformed catalog must never
	// partially execute.
	ErrorClassBuild ErrorClass = "build"

	// ErrorClassApply indicates a resource-scoped failure during
	// convergence. Independent branches of the graph continue.
	ErrorClassApply ErrorClass = "apply"
)

// EngineError represents a classified error with resource context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource ref that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("[%s/%s] %s (resource=%s)%s",
			e.Class, e.Code, e.Message, e.Resource, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s/%s] %s%s", e.Class, e.Code, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewBuildError creates a catalog-build error.
func NewBuildError(code, message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassBuild,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewApplyError creates a resource-scoped apply-time error.
func NewApplyError(code, message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassApply,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(ref Ref) *EngineError {
	e.Resource = ref.String()
	return e
}

// IsBuildError returns true if the error aborts the run before any apply.
func IsBuildError(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassBuild
	}
	return false
}

// CodeOf returns the error code carried by err, or empty.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Error codes.
const (
	// Build-time codes.
	ErrCodeDuplicateResource  = "DUPLICATE_RESOURCE"
	ErrCodeUnknownResource    = "UNKNOWN_RESOURCE"
	ErrCodeCycle              = "CYCLE"
	ErrCodeUnsupportedAdapter = "UNSUPPORTED_ADAPTER"
	ErrCodeUnknownKind        = "UNKNOWN_KIND"
	ErrCodeValidation         = "VALIDATION_ERROR"

	// Apply-time codes.
	ErrCodeObserveFailed    = "OBSERVE_FAILED"
	ErrCodeApplyFailed      = "APPLY_FAILED"
	ErrCodeNotifyTimeout    = "NOTIFY_TIMEOUT"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
