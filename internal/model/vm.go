// Package model defines the core VM domain types shared by the backend,
// lifecycle, session, and daemon packages: VmSpec, VmState, VmEvent, and
// VmInstance, plus the id generators used to name them.
package model

import "time"

// VmSpec is an immutable description of a requested VM.
type VmSpec struct {
	Image            string            `json:"image"`
	MemoryMB         int               `json:"memory_mb"`
	CPUs             int               `json:"cpus"`
	Ports            map[uint16]uint16 `json:"ports,omitempty"`   // host -> guest
	Volumes          map[string]string `json:"volumes,omitempty"` // host path -> guest path
	Environment      map[string]string `json:"environment,omitempty"`
	Command          []string          `json:"command,omitempty"`
	Labels           map[string]string `json:"labels,omitempty"`
	NetworkConfig    string            `json:"network_config,omitempty"`
	ResourceLimits   *ResourceLimits   `json:"resource_limits,omitempty"`
	PreferredBackend string            `json:"preferred_backend,omitempty"`
}

// ResourceLimits caps what a single VM may request. Fields are optional;
// a nil field defers to the global config's GlobalResourceLimits. Only
// MaxMemoryMB is checked by VmSpec.Validate; MaxCPUs, MaxDiskMB, and Timeout
// are carried with the spec but not enforced.
type ResourceLimits struct {
	MaxMemoryMB *int           `json:"max_memory_mb,omitempty"`
	MaxCPUs     *int           `json:"max_cpus,omitempty"`
	MaxDiskMB   *int           `json:"max_disk_mb,omitempty"`
	Timeout     *time.Duration `json:"timeout,omitempty"`
}

// VmStateTag enumerates the tagged variant names of VmState.
type VmStateTag string

const (
	StateCreating     VmStateTag = "Creating"
	StateRunning      VmStateTag = "Running"
	StatePaused       VmStateTag = "Paused"
	StateStopped      VmStateTag = "Stopped"
	StateError        VmStateTag = "Error"
	StateSnapshotting VmStateTag = "Snapshotting"
	StateRestoring    VmStateTag = "Restoring"
)

// VmState is a tagged variant. Only Creating, Running, Stopped, and Error
// are observable to clients of the current design; Paused, Snapshotting,
// and Restoring are reserved transitions not produced by this backend.
type VmState struct {
	Tag     VmStateTag `json:"tag"`
	Message string     `json:"message,omitempty"` // set when Tag == StateError
}

func (s VmState) String() string {
	if s.Tag == StateError && s.Message != "" {
		return string(s.Tag) + ": " + s.Message
	}
	return string(s.Tag)
}

// Running, Stopped, Paused, and Error construct the corresponding VmState values.
func Running() VmState  { return VmState{Tag: StateRunning} }
func Stopped() VmState  { return VmState{Tag: StateStopped} }
func Paused() VmState   { return VmState{Tag: StatePaused} }
func Creating() VmState { return VmState{Tag: StateCreating} }
func Error(message string) VmState {
	return VmState{Tag: StateError, Message: message}
}

// VmEventTag enumerates the tagged variant names of VmEvent.
type VmEventTag string

const (
	EventCreated         VmEventTag = "Created"
	EventStarted         VmEventTag = "Started"
	EventStopped         VmEventTag = "Stopped"
	EventError           VmEventTag = "Error"
	EventSnapshotCreated VmEventTag = "SnapshotCreated"
	EventResourceUsage   VmEventTag = "ResourceUsage"
)

// VmEvent is emitted by the Lifecycle Manager for every lifecycle-affecting
// operation and fanned out to registered event handlers.
type VmEvent struct {
	Tag        VmEventTag `json:"tag"`
	VmID       string     `json:"vm_id"`
	Message    string     `json:"message,omitempty"`     // set for EventError
	SnapshotID string     `json:"snapshot_id,omitempty"` // set for EventSnapshotCreated
	CPU        float64    `json:"cpu,omitempty"`         // set for EventResourceUsage
	Memory     uint64     `json:"memory,omitempty"`      // set for EventResourceUsage
	At         time.Time  `json:"at"`
}

// VmInstance is a realized VM: the Lifecycle Manager's in-memory record.
type VmInstance struct {
	ID          string    `json:"id"`
	Spec        VmSpec    `json:"spec"`
	State       VmState   `json:"state"`
	BackendName string    `json:"backend_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep-enough copy of the instance for safe handoff across
// goroutine boundaries (map fields are shared but never mutated in place
// after construction — specs are immutable once created).
func (v VmInstance) Clone() VmInstance {
	return v
}
