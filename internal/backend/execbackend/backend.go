package execbackend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/vortexlab/vortex/internal/backend"
	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/verr"
)

// Backend implements backend.Backend by invoking an external microVM CLI
// as a child process for every operation.
type Backend struct {
	cfg    Config
	logger *slog.Logger

	// diag traces every subprocess invocation of cfg.BinaryPath: command,
	// args, and exit status. The teacher hands firecracker-go-sdk a
	// discarding logrus logger so the SDK's own chatter never reaches
	// stderr; here there's no SDK to silence, so diag is pointed the other
	// way — it's the subprocess diagnostic trail itself, gated by
	// cfg.DiagLevel so routine invocations stay quiet and failures surface.
	diag *logrus.Logger

	mu        sync.Mutex
	processes map[string]*os.Process // vm id -> backgrounded "start" process
}

// New creates a new exec-backend adapter.
func New(cfg Config, logger *slog.Logger) *Backend {
	diag := logrus.New()
	diag.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(cfg.DiagLevel); err == nil {
		diag.SetLevel(lvl)
	} else {
		diag.SetLevel(logrus.WarnLevel)
	}

	return &Backend{
		cfg:       cfg,
		logger:    logger,
		diag:      diag,
		processes: make(map[string]*os.Process),
	}
}

// Name returns the adapter's registered name.
func (b *Backend) Name() string { return b.cfg.BackendName }

// IsAvailable reports whether the configured binary resolves on PATH.
func (b *Backend) IsAvailable() bool {
	_, err := exec.LookPath(b.cfg.BinaryPath)
	return err == nil
}

// Create registers the VM definition with the backend binary: image pull,
// disk/rootfs preparation, port and volume wiring. It does not boot the VM —
// that happens in Start. Create blocks until the child process exits.
func (b *Backend) Create(ctx context.Context, vm *model.VmInstance) error {
	args := []string{"create", NormalizeImage(vm.Spec.Image),
		"--name", vm.ID,
		"--mem", strconv.Itoa(vm.Spec.MemoryMB),
		"--cpus", strconv.Itoa(vm.Spec.CPUs),
	}
	for host, guest := range vm.Spec.Ports {
		args = append(args, "--port", fmt.Sprintf("%d:%d", host, guest))
	}
	for hostPath, guestPath := range vm.Spec.Volumes {
		args = append(args, "-v", hostPath+":"+guestPath)
	}

	return b.run(ctx, args...)
}

// Start boots the VM as a detached child process. It returns once the
// process has launched; it does not wait for the guest to finish booting.
func (b *Backend) Start(_ context.Context, vm *model.VmInstance) error {
	args := []string{"start", vm.ID}
	if len(vm.Spec.Command) > 0 {
		args = append(args, "--")
		args = append(args, vm.Spec.Command...)
	}

	entry := b.diag.WithFields(logrus.Fields{"binary": b.cfg.BinaryPath, "args": args, "vm_id": vm.ID})
	entry.Debug("invoking backend binary")

	cmd := exec.Command(b.cfg.BinaryPath, args...)
	cmd.Env = b.childEnv()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		entry.WithError(err).Error("backend binary invocation failed")
		return &verr.BackendError{Message: fmt.Sprintf("start %s: %v", vm.ID, err)}
	}

	b.mu.Lock()
	b.processes[vm.ID] = cmd.Process
	b.mu.Unlock()

	// Reap the process in the background so it doesn't become a zombie;
	// we don't block Start() on guest boot completion.
	go func() {
		_ = cmd.Wait()
		b.mu.Lock()
		delete(b.processes, vm.ID)
		b.mu.Unlock()
	}()

	return nil
}

// Stop gracefully stops a running VM. It is idempotent: stopping a VM with
// no tracked process (already stopped, or stopped by a prior daemon
// instance) succeeds without invoking the backend binary.
func (b *Backend) Stop(ctx context.Context, vm *model.VmInstance) error {
	b.mu.Lock()
	proc, ok := b.processes[vm.ID]
	b.mu.Unlock()

	if !ok {
		return nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil && err != os.ErrProcessDone {
		return &verr.BackendError{Message: fmt.Sprintf("stop %s: %v", vm.ID, err)}
	}
	return nil
}

// Cleanup permanently deletes the VM's backend-side resources.
func (b *Backend) Cleanup(ctx context.Context, vm *model.VmInstance) error {
	b.mu.Lock()
	delete(b.processes, vm.ID)
	b.mu.Unlock()

	return b.run(ctx, "delete", vm.ID)
}

// Attach connects the calling process's TTY to the VM's primary process and
// blocks until the interactive session ends. Exit code 0 and termination by
// SIGINT/SIGHUP/SIGTERM are both treated as a successful user-initiated
// detach; any other non-zero exit is a failure.
func (b *Backend) Attach(_ context.Context, vm *model.VmInstance) error {
	entry := b.diag.WithFields(logrus.Fields{"binary": b.cfg.BinaryPath, "vm_id": vm.ID})
	entry.Debug("invoking backend binary")

	cmd := exec.Command(b.cfg.BinaryPath, "attach", vm.ID)
	cmd.Env = b.childEnv()
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		entry.WithError(err).Error("backend binary invocation failed")
		return &verr.BackendError{Message: fmt.Sprintf("attach %s: %v", vm.ID, err)}
	}

	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		switch status.Signal() {
		case syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM:
			return nil
		}
	}

	entry.WithField("exit_code", exitErr.ExitCode()).Error("backend binary invocation failed")
	return &verr.BackendError{Message: fmt.Sprintf("attach %s: exit code %d", vm.ID, exitErr.ExitCode())}
}

// Metrics returns advisory resource-usage estimates parsed from the
// backend's list output; if the VM isn't present in that output (or the
// line doesn't parse), Metrics falls back to the VM's requested spec as a
// static estimate. Never treat either path as precise.
func (b *Backend) Metrics(ctx context.Context, vm *model.VmInstance) (backend.Metrics, error) {
	out, err := b.output(ctx, "list")
	if err == nil {
		for line := range strings.Lines(out) {
			fields := strings.Fields(line)
			if len(fields) >= 3 && fields[0] == vm.ID {
				memMB, memErr := strconv.ParseUint(fields[1], 10, 64)
				cpuPct, cpuErr := strconv.ParseFloat(fields[2], 64)
				if memErr == nil && cpuErr == nil {
					return backend.Metrics{CPUPercent: cpuPct, MemoryMB: memMB}, nil
				}
			}
		}
	}

	return backend.Metrics{CPUPercent: 0, MemoryMB: uint64(vm.Spec.MemoryMB)}, nil
}

// ListVMs returns the ids the backend binary currently reports.
func (b *Backend) ListVMs(ctx context.Context) ([]string, error) {
	out, err := b.output(ctx, "list")
	if err != nil {
		return nil, err
	}

	var ids []string
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		ids = append(ids, fields[0])
	}
	return ids, nil
}

// run executes the backend binary, waits for completion, and wraps a
// non-zero exit in a *verr.BackendError carrying combined output.
func (b *Backend) run(ctx context.Context, args ...string) error {
	entry := b.diag.WithFields(logrus.Fields{"binary": b.cfg.BinaryPath, "args": args})
	entry.Debug("invoking backend binary")

	cmd := exec.CommandContext(ctx, b.cfg.BinaryPath, args...)
	cmd.Env = b.childEnv()

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(buf.String())
		entry.WithField("output", out).Error("backend binary invocation failed")
		return &verr.BackendError{Message: out}
	}
	return nil
}

// output is like run but returns stdout on success.
func (b *Backend) output(ctx context.Context, args ...string) (string, error) {
	entry := b.diag.WithFields(logrus.Fields{"binary": b.cfg.BinaryPath, "args": args})
	entry.Debug("invoking backend binary")

	cmd := exec.CommandContext(ctx, b.cfg.BinaryPath, args...)
	cmd.Env = b.childEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errOut := strings.TrimSpace(stderr.String())
		entry.WithField("output", errOut).Error("backend binary invocation failed")
		return "", &verr.BackendError{Message: errOut}
	}
	return stdout.String(), nil
}

// childEnv returns the environment for a child invocation, with any
// platform-specific library search path the backend binary needs appended.
func (b *Backend) childEnv() []string {
	env := os.Environ()
	if libPath := os.Getenv("VORTEX_BACKEND_LIBRARY_PATH"); libPath != "" {
		env = append(env, "LD_LIBRARY_PATH="+libPath)
	}
	return env
}
