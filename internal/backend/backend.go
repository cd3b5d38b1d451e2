package backend

import (
	"context"

	"github.com/vortexlab/vortex/internal/model"
)

// Backend is the capability contract every microVM provider must implement.
// All operations may fail with a *verr.BackendError. Attach inherits the
// calling process's standard streams and blocks until the interactive
// session terminates; the other operations do not block on user I/O.
type Backend interface {
	Create(ctx context.Context, vm *model.VmInstance) error
	Start(ctx context.Context, vm *model.VmInstance) error
	Stop(ctx context.Context, vm *model.VmInstance) error
	Cleanup(ctx context.Context, vm *model.VmInstance) error

	// Attach connects the calling process's TTY to the VM's primary process
	// and blocks until the interactive session ends.
	Attach(ctx context.Context, vm *model.VmInstance) error

	// Metrics returns advisory resource-usage estimates for the VM; treat
	// these as rough, not a basis for scheduling decisions.
	Metrics(ctx context.Context, vm *model.VmInstance) (Metrics, error)

	// ListVMs returns the ids of VMs the backend currently knows about,
	// independent of this process's in-memory registry.
	ListVMs(ctx context.Context) ([]string, error)

	// IsAvailable reports whether the backend's external dependencies
	// (binary on PATH, daemon reachable, etc.) are currently usable.
	IsAvailable() bool

	// Name returns the backend's registration name.
	Name() string
}

// Metrics holds advisory, backend-reported resource usage for a single VM.
type Metrics struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   uint64  `json:"memory_mb"`
}
