package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Local implements Host against the local machine using the system package
// manager, systemd and the filesystem.
type Local struct {
	mu      sync.Mutex
	manager string // detected package manager, cached
}

// NewLocal creates a local host.
func NewLocal() *Local {
	return &Local{}
}

// QueryPackage reports whether a package is installed and at which version.
func (l *Local) QueryPackage(ctx context.Context, name string) (PackageState, error) {
	manager, err := l.packageManager("")
	if err != nil {
		return PackageState{}, err
	}

	var cmd *exec.Cmd
	switch manager {
	case "apt":
		cmd = exec.CommandContext(ctx, "dpkg-query", "-W", "-f=${Version}", name)
	case "dnf", "yum", "zypper":
		cmd = exec.CommandContext(ctx, "rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", name)
	default:
		return PackageState{}, fmt.Errorf("unsupported package manager: %s", manager)
	}

	output, err := cmd.Output()
	if err != nil {
		// Query tools exit non-zero for missing packages.
		if ctx.Err() != nil {
			return PackageState{}, ctx.Err()
		}
		return PackageState{Installed: false}, nil
	}

	return PackageState{
		Installed: true,
		Version:   strings.TrimSpace(string(output)),
	}, nil
}

// InstallPackage installs a package, optionally pinned to a version.
func (l *Local) InstallPackage(ctx context.Context, name, version, provider string) error {
	manager, err := l.packageManager(provider)
	if err != nil {
		return err
	}

	pkgSpec := name
	if version != "" {
		switch manager {
		case "apt":
			pkgSpec = fmt.Sprintf("%s=%s", name, version)
		case "dnf", "yum", "zypper":
			pkgSpec = fmt.Sprintf("%s-%s", name, version)
		}
	}

	var args []string
	switch manager {
	case "apt", "dnf", "yum", "zypper":
		args = []string{"install", "-y", pkgSpec}
	default:
		return fmt.Errorf("unsupported package manager: %s", manager)
	}

	cmd := exec.CommandContext(ctx, manager, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("package install failed: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}

// RemovePackage removes a package.
func (l *Local) RemovePackage(ctx context.Context, name, provider string) error {
	manager, err := l.packageManager(provider)
	if err != nil {
		return err
	}

	var args []string
	switch manager {
	case "apt", "dnf", "yum", "zypper":
		args = []string{"remove", "-y", name}
	default:
		return fmt.Errorf("unsupported package manager: %s", manager)
	}

	cmd := exec.CommandContext(ctx, manager, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("package remove failed: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}

// ReadFile returns file content, with Exists=false for missing files.
func (l *Local) ReadFile(_ context.Context, path string) (FileContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileContent{Exists: false}, nil
		}
		return FileContent{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return FileContent{Exists: true, Data: data}, nil
}

// WriteFileAtomic writes data via a temp file in the target directory and an
// atomic rename, then applies mode and ownership.
func (l *Local) WriteFileAtomic(_ context.Context, path string, data []byte, mode fs.FileMode, owner, group string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", path, err)
	}
	if owner != "" || group != "" {
		uid, gid, err := lookupOwnership(owner, group)
		if err != nil {
			return err
		}
		if err := os.Chown(tmpName, uid, gid); err != nil {
			return fmt.Errorf("failed to set ownership on %s: %w", path, err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}

// QueryService reports a systemd unit's active and enabled state.
func (l *Local) QueryService(ctx context.Context, name string) (ServiceState, error) {
	state := ServiceState{}

	out, err := exec.CommandContext(ctx, "systemctl", "is-active", name).Output()
	if err != nil && ctx.Err() != nil {
		return state, ctx.Err()
	}
	state.Running = strings.TrimSpace(string(out)) == "active"

	out, err = exec.CommandContext(ctx, "systemctl", "is-enabled", name).Output()
	if err != nil && ctx.Err() != nil {
		return state, ctx.Err()
	}
	state.Enabled = strings.TrimSpace(string(out)) == "enabled"

	return state, nil
}

// ControlService applies a lifecycle action to a systemd unit.
func (l *Local) ControlService(ctx context.Context, name string, action ServiceAction) error {
	switch action {
	case ServiceStart, ServiceStop, ServiceRestart, ServiceEnable, ServiceDisable:
	default:
		return fmt.Errorf("invalid service action: %s", action)
	}

	cmd := exec.CommandContext(ctx, "systemctl", string(action), name)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl %s %s failed: %w (stderr: %s)",
			action, name, err, stderr.String())
	}
	return nil
}

// RunCommand executes cmd through /bin/sh. A non-empty unless guard is run
// first; when it exits zero the command is skipped.
func (l *Local) RunCommand(ctx context.Context, cmd, unless string) (CommandResult, error) {
	if unless != "" {
		guard := exec.CommandContext(ctx, "/bin/sh", "-c", unless)
		if err := guard.Run(); err == nil {
			return CommandResult{ExitCode: 0, Skipped: true}, nil
		} else if ctx.Err() != nil {
			return CommandResult{}, ctx.Err()
		}
	}

	if cmd == "" {
		return CommandResult{}, fmt.Errorf("command is required")
	}

	run := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	var stdout, stderr bytes.Buffer
	run.Stdout = &stdout
	run.Stderr = &stderr

	err := run.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("command failed to start: %w", err)
	}

	return result, nil
}

// packageManager returns the provider if given, otherwise the detected
// system package manager (cached after first detection).
func (l *Local) packageManager(provider string) (string, error) {
	if provider != "" {
		return provider, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.manager != "" {
		return l.manager, nil
	}

	for _, m := range []string{"apt", "dnf", "yum", "zypper"} {
		if _, err := exec.LookPath(m); err == nil {
			l.manager = m
			return m, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}

// lookupOwnership resolves user and group names to numeric IDs. Empty names
// resolve to -1, which Chown treats as "leave unchanged".
func lookupOwnership(owner, group string) (int, int, error) {
	uid, gid := -1, -1

	if owner != "" {
		u, err := user.Lookup(owner)
		if err != nil {
			return 0, 0, fmt.Errorf("unknown owner %q: %w", owner, err)
		}
		id, err := strconv.Atoi(u.Uid)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid uid for %q: %w", owner, err)
		}
		uid = id
	}

	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return 0, 0, fmt.Errorf("unknown group %q: %w", group, err)
		}
		id, err := strconv.Atoi(g.Gid)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid gid for %q: %w", group, err)
		}
		gid = id
	}

	return uid, gid, nil
}
