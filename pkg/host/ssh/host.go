// Package ssh implements the host access collaborator for remote nodes:
// commands run in SSH sessions, file reads and atomic writes go through
// SFTP.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/convergekit/converge/pkg/host"
)

// Host implements host.Host against a remote machine over SSH.
type Host struct {
	cfg *Config

	mu      sync.Mutex
	client  *ssh.Client
	sftpCli *sftp.Client
	manager string // detected package manager, cached
}

// Connect dials the remote host and opens the SFTP subsystem. The
// context bounds connection establishment.
func Connect(ctx context.Context, cfg *Config) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig, err := cfg.buildClientConfig()
	if err != nil {
		return nil, err
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", cfg.Address(), clientConfig)
		ch <- dialResult{client, err}
	}()

	var client *ssh.Client
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connect to %s: %w", cfg.Address(), ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("connect to %s: %w", cfg.Address(), res.err)
		}
		client = res.client
	}

	sftpCli, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open sftp subsystem: %w", err)
	}

	return &Host{
		cfg:     cfg,
		client:  client,
		sftpCli: sftpCli,
	}, nil
}

// Close closes the SFTP subsystem and the SSH connection.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	if h.sftpCli != nil {
		if err := h.sftpCli.Close(); err != nil {
			errs = append(errs, err)
		}
		h.sftpCli = nil
	}
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			errs = append(errs, err)
		}
		h.client = nil
	}
	return errors.Join(errs...)
}

// QueryPackage reports whether a package is installed and at which version.
func (h *Host) QueryPackage(ctx context.Context, name string) (host.PackageState, error) {
	manager, err := h.packageManager(ctx, "")
	if err != nil {
		return host.PackageState{}, err
	}

	var query string
	switch manager {
	case "apt":
		query = fmt.Sprintf("dpkg-query -W -f='${Version}' %s", shellQuote(name))
	case "dnf", "yum", "zypper":
		query = fmt.Sprintf("rpm -q --queryformat '%%{VERSION}-%%{RELEASE}' %s", shellQuote(name))
	default:
		return host.PackageState{}, fmt.Errorf("unsupported package manager: %s", manager)
	}

	res, err := h.run(ctx, query)
	if err != nil {
		return host.PackageState{}, err
	}
	if res.ExitCode != 0 {
		// Query tools exit non-zero for missing packages.
		return host.PackageState{Installed: false}, nil
	}

	return host.PackageState{
		Installed: true,
		Version:   strings.TrimSpace(res.Stdout),
	}, nil
}

// InstallPackage installs a package, optionally pinned to a version.
func (h *Host) InstallPackage(ctx context.Context, name, version, provider string) error {
	manager, err := h.packageManager(ctx, provider)
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

	switch manager {
	case "apt", "dnf", "yum", "zypper":
	default:
		return fmt.Errorf("unsupported package manager: %s", manager)
	}

	res, err := h.run(ctx, fmt.Sprintf("%s install -y %s", manager, shellQuote(pkgSpec)))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("package install failed with exit code %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// RemovePackage removes a package.
func (h *Host) RemovePackage(ctx context.Context, name, provider string) error {
	manager, err := h.packageManager(ctx, provider)
	if err != nil {
		return err
	}

	switch manager {
	case "apt", "dnf", "yum", "zypper":
	default:
		return fmt.Errorf("unsupported package manager: %s", manager)
	}

	res, err := h.run(ctx, fmt.Sprintf("%s remove -y %s", manager, shellQuote(name)))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("package remove failed with exit code %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// ReadFile returns file content via SFTP, with Exists=false for missing
// files.
func (h *Host) ReadFile(_ context.Context, filePath string) (host.FileContent, error) {
	f, err := h.sftpCli.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return host.FileContent{Exists: false}, nil
		}
		return host.FileContent{}, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return host.FileContent{}, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return host.FileContent{Exists: true, Data: data}, nil
}

// WriteFileAtomic writes data to a temp file in the target directory via
// SFTP, applies mode and ownership, then renames into place.
func (h *Host) WriteFileAtomic(ctx context.Context, filePath string, data []byte, mode fs.FileMode, owner, group string) error {
	dir := path.Dir(filePath)
	if err := h.sftpCli.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpName := path.Join(dir, fmt.Sprintf(".%s.tmp-%s", path.Base(filePath), uuid.NewString()[:8]))
	tmp, err := h.sftpCli.Create(tmpName)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = h.sftpCli.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := h.sftpCli.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", filePath, err)
	}
	if owner != "" || group != "" {
		spec := owner
		if group != "" {
			spec = owner + ":" + group
		}
		res, err := h.run(ctx, fmt.Sprintf("chown %s %s", shellQuote(spec), shellQuote(tmpName)))
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("failed to set ownership on %s: %s", filePath, res.Stderr)
		}
	}

	if err := h.sftpCli.PosixRename(tmpName, filePath); err != nil {
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}

// QueryService reports a systemd unit's active and enabled state.
func (h *Host) QueryService(ctx context.Context, name string) (host.ServiceState, error) {
	state := host.ServiceState{}

	res, err := h.run(ctx, fmt.Sprintf("systemctl is-active %s", shellQuote(name)))
	if err != nil {
		return state, err
	}
	state.Running = strings.TrimSpace(res.Stdout) == "active"

	res, err = h.run(ctx, fmt.Sprintf("systemctl is-enabled %s", shellQuote(name)))
	if err != nil {
		return state, err
	}
	state.Enabled = strings.TrimSpace(res.Stdout) == "enabled"

	return state, nil
}

// ControlService applies a lifecycle action to a systemd unit.
func (h *Host) ControlService(ctx context.Context, name string, action host.ServiceAction) error {
	switch action {
	case host.ServiceStart, host.ServiceStop, host.ServiceRestart, host.ServiceEnable, host.ServiceDisable:
	default:
		return fmt.Errorf("invalid service action: %s", action)
	}

	res, err := h.run(ctx, fmt.Sprintf("systemctl %s %s", action, shellQuote(name)))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("systemctl %s %s failed with exit code %d: %s",
			action, name, res.ExitCode, res.Stderr)
	}
	return nil
}

// RunCommand executes cmd through the remote shell. A non-empty unless
// guard is run first; when it exits zero the command is skipped.
func (h *Host) RunCommand(ctx context.Context, cmd, unless string) (host.CommandResult, error) {
	if unless != "" {
		guard, err := h.run(ctx, unless)
		if err != nil {
			return host.CommandResult{}, err
		}
		if guard.ExitCode == 0 {
			return host.CommandResult{ExitCode: 0, Skipped: true}, nil
		}
	}

	if cmd == "" {
		return host.CommandResult{}, fmt.Errorf("command is required")
	}

	return h.run(ctx, cmd)
}

// run executes a shell command in a fresh SSH session. Non-zero exit
// codes are reported in the result, not as errors.
func (h *Host) run(ctx context.Context, cmd string) (host.CommandResult, error) {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return host.CommandResult{}, fmt.Errorf("not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return host.CommandResult{}, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return host.CommandResult{}, ctx.Err()
	case err = <-done:
	}

	result := host.CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	default:
		return result, fmt.Errorf("command failed: %w", err)
	}

	return result, nil
}

// packageManager returns the provider if given, otherwise the detected
// remote package manager (cached after first detection).
func (h *Host) packageManager(ctx context.Context, provider string) (string, error) {
	if provider != "" {
		return provider, nil
	}

	h.mu.Lock()
	cached := h.manager
	h.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	for _, m := range []string{"apt", "dnf", "yum", "zypper"} {
		res, err := h.run(ctx, fmt.Sprintf("command -v %s", m))
		if err != nil {
			return "", err
		}
		if res.ExitCode == 0 {
			h.mu.Lock()
			h.manager = m
			h.mu.Unlock()
			return m, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}

// shellQuote wraps s in single quotes for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
