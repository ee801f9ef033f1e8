// Package host defines the host access collaborator: the narrow, fallible
// interface through which the convergence engine observes and mutates a
// managed node. Implementations exist for the local machine and for remote
// nodes over SSH.
package host

import (
	"context"
	"io/fs"
)

// PackageState describes an installed package as observed on the host.
type PackageState struct {
	// Installed reports whether the package is present.
	Installed bool

	// Version is the installed version, empty when not installed.
	Version string
}

// ServiceState describes a service as observed on the host.
type ServiceState struct {
	// Running reports whether the service is active.
	Running bool

	// Enabled reports whether the service starts at boot.
	Enabled bool
}

// ServiceAction is a lifecycle action applied to a service.
type ServiceAction string

const (
	ServiceStart   ServiceAction = "start"
	ServiceStop    ServiceAction = "stop"
	ServiceRestart ServiceAction = "restart"
	ServiceEnable  ServiceAction = "enable"
	ServiceDisable ServiceAction = "disable"
)

// FileContent is the result of reading a file from the host.
type FileContent struct {
	// Exists reports whether the file is present.
	Exists bool

	// Data is the file content when present.
	Data []byte
}

// CommandResult is the outcome of running a shell command on the host.
type CommandResult struct {
	// ExitCode is the command's exit code.
	ExitCode int

	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string

	// Skipped reports that the unless guard was already satisfied and
	// the command was not run.
	Skipped bool
}

// Host is the external collaborator for all real-system operations. Every
// method is fallible (filesystem, package manager, service manager or
// network errors) and must surface errors rather than swallow them; the
// caller bounds each call with a context deadline.
type Host interface {
	// QueryPackage reports whether a package is installed and at which
	// version. Must be side-effect-free.
	QueryPackage(ctx context.Context, name string) (PackageState, error)

	// InstallPackage installs a package, optionally pinned to a version,
	// via the named provider (package manager); empty provider means
	// auto-detect.
	InstallPackage(ctx context.Context, name, version, provider string) error

	// RemovePackage removes a package via the named provider.
	RemovePackage(ctx context.Context, name, provider string) error

	// ReadFile returns the file content, with Exists=false for a missing
	// file rather than an error. Must be side-effect-free.
	ReadFile(ctx context.Context, path string) (FileContent, error)

	// WriteFileAtomic writes data to path atomically (temp file plus
	// rename) and applies mode, owner and group. Empty owner/group leave
	// ownership untouched.
	WriteFileAtomic(ctx context.Context, path string, data []byte, mode fs.FileMode, owner, group string) error

	// QueryService reports the service's running and boot-enabled state.
	// Must be side-effect-free.
	QueryService(ctx context.Context, name string) (ServiceState, error)

	// ControlService applies a lifecycle action to a service.
	ControlService(ctx context.Context, name string, action ServiceAction) error

	// RunCommand executes cmd through a shell. When unless is non-empty
	// and exits zero, cmd is not run and the result carries exit code 0
	// with Skipped semantics (the command was already satisfied).
	RunCommand(ctx context.Context, cmd, unless string) (CommandResult, error)
}
