// Package lifecycle implements the VM Lifecycle Manager: spec validation,
// the Creating→Running/Stopped/Error state machine, reconciliation against
// the backend's own inventory, and serial event fan-out to registered
// handlers. It is the generalization of the teacher's engine.Engine, built
// around a long-lived VM registry instead of one-shot workload execution.
package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vortexlab/vortex/internal/backend"
	"github.com/vortexlab/vortex/internal/metrics"
	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/verr"
)

// Manager owns the in-memory VM registry and drives every state transition
// through it. No two concurrent operations on the same id are allowed to
// race: each id has its own mutex, acquired for the duration of the
// operation, while creation of distinct ids proceeds fully in parallel.
type Manager struct {
	provider *backend.Provider
	logger   *slog.Logger
	limits   model.GlobalResourceLimits
	events   *eventDispatcher

	mu        sync.RWMutex
	instances map[string]*model.VmInstance
	idLocks   map[string]*sync.Mutex
}

// NewManager creates a Lifecycle Manager backed by the given backend
// provider and consulting limits on every create.
func NewManager(provider *backend.Provider, limits model.GlobalResourceLimits, logger *slog.Logger) *Manager {
	return &Manager{
		provider:  provider,
		logger:    logger,
		limits:    limits,
		events:    newEventDispatcher(logger),
		instances: make(map[string]*model.VmInstance),
		idLocks:   make(map[string]*sync.Mutex),
	}
}

// AddEventHandler registers h to receive every subsequent VmEvent. Handlers
// should be registered at startup, before the first Create call.
func (m *Manager) AddEventHandler(h EventHandler) {
	m.events.addHandler(h)
}

// lockFor returns the per-id mutex, creating it if this is the first
// operation seen for id.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.idLocks[id] = l
	}
	return l
}

// Create validates spec, allocates an id, and drives the VM through
// Creating→Running (or Creating→Error on failure). The creation attempt and
// the resulting state write are serialized per id; distinct ids create
// fully in parallel.
func (m *Manager) Create(ctx context.Context, spec model.VmSpec) (model.VmInstance, error) {
	start := time.Now()
	defer func() { metrics.ObserveVMOperation("create", time.Since(start).Seconds()) }()
	defer m.refreshActiveVMs()

	if err := spec.Validate(m.limits); err != nil {
		return model.VmInstance{}, err
	}
	if err := m.checkFleetCaps(spec); err != nil {
		return model.VmInstance{}, err
	}

	b, err := m.resolveBackend(spec)
	if err != nil {
		return model.VmInstance{}, err
	}

	id := model.NewVmID()
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	inst := &model.VmInstance{
		ID:          id,
		Spec:        spec,
		State:       model.Creating(),
		BackendName: b.Name(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.store(inst)

	if err := b.Create(ctx, inst); err != nil {
		return m.failCreate(inst, err)
	}
	if err := b.Start(ctx, inst); err != nil {
		return m.failCreate(inst, err)
	}

	m.mu.Lock()
	inst.State = model.Running()
	inst.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	m.events.dispatch(model.VmEvent{Tag: model.EventCreated, VmID: id, At: inst.UpdatedAt})
	m.events.dispatch(model.VmEvent{Tag: model.EventStarted, VmID: id, At: inst.UpdatedAt})

	return m.snapshot(id)
}

func (m *Manager) failCreate(inst *model.VmInstance, cause error) (model.VmInstance, error) {
	msg := cause.Error()

	m.mu.Lock()
	inst.State = model.Error(msg)
	inst.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	m.events.dispatch(model.VmEvent{Tag: model.EventError, VmID: inst.ID, Message: msg, At: inst.UpdatedAt})
	return model.VmInstance{}, verr.NewVmError("%s", msg)
}

// checkFleetCaps enforces the global config's fleet-wide soft limits
// (max concurrent VMs, max total memory) — the dynamic counterpart to
// VmSpec.Validate's static per-spec checks, since these depend on the
// registry's current contents.
func (m *Manager) checkFleetCaps(spec model.VmSpec) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.limits.MaxConcurrentVMs > 0 {
		active := 0
		for _, inst := range m.instances {
			if inst.State.Tag == model.StateRunning || inst.State.Tag == model.StateCreating {
				active++
			}
		}
		if active >= m.limits.MaxConcurrentVMs {
			return &verr.ResourceLimitExceeded{Resource: "concurrent_vms"}
		}
	}

	if m.limits.MaxTotalMemoryMB > 0 {
		total := spec.MemoryMB
		for _, inst := range m.instances {
			if inst.State.Tag == model.StateRunning || inst.State.Tag == model.StateCreating {
				total += inst.Spec.MemoryMB
			}
		}
		if total > m.limits.MaxTotalMemoryMB {
			return &verr.ResourceLimitExceeded{Resource: "total_memory"}
		}
	}

	return nil
}

func (m *Manager) resolveBackend(spec model.VmSpec) (backend.Backend, error) {
	if spec.PreferredBackend != "" {
		return m.provider.Get(spec.PreferredBackend)
	}
	return m.provider.GetBackend()
}

func (m *Manager) store(inst *model.VmInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[inst.ID] = inst
}

// refreshActiveVMs recomputes the Running-VM gauge from the current
// registry. Called after every operation that can change an instance's
// state (Create, Stop, Cleanup), so the gauge never lags an RPC response.
func (m *Manager) refreshActiveVMs() {
	m.mu.RLock()
	n := 0
	for _, inst := range m.instances {
		if inst.State.Tag == model.StateRunning {
			n++
		}
	}
	m.mu.RUnlock()
	metrics.SetActiveVMs(n)
}

func (m *Manager) snapshot(id string) (model.VmInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return model.VmInstance{}, verr.NewVmError("VM %s not found", id)
	}
	return inst.Clone(), nil
}

// Get returns the in-memory instance for id, or a "not found" VmError.
func (m *Manager) Get(id string) (model.VmInstance, error) {
	return m.snapshot(id)
}

// List returns every known VmInstance. If the in-memory registry is empty,
// it falls back to the backend's own inventory, synthesizing skeletal
// instances for ids matching the vortex id prefix — callers must not rely
// on the spec fields of a skeletal record (spec §4.2 "List reconciliation").
func (m *Manager) List(ctx context.Context) ([]model.VmInstance, error) {
	m.mu.RLock()
	n := len(m.instances)
	out := make([]model.VmInstance, 0, n)
	for _, inst := range m.instances {
		out = append(out, inst.Clone())
	}
	m.mu.RUnlock()

	if n > 0 {
		return out, nil
	}

	b, err := m.provider.GetBackend()
	if err != nil {
		return nil, err
	}
	ids, err := b.ListVMs(ctx)
	if err != nil {
		return nil, verr.NewVmError("list_vms: %s", err.Error())
	}

	now := time.Now().UTC()
	for _, id := range ids {
		if !strings.HasPrefix(id, model.VmIDPrefix) {
			continue
		}
		out = append(out, model.VmInstance{
			ID:          id,
			State:       model.Running(),
			BackendName: b.Name(),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return out, nil
}

// resolve returns the in-memory instance for id if present, otherwise a
// synthesized minimal instance if the backend's own inventory names id, so
// that Stop/Cleanup can still drive the backend for records this process
// never created (spec §4.2 "must tolerate missing in-memory record").
func (m *Manager) resolve(ctx context.Context, id string) (*model.VmInstance, bool, error) {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if ok {
		c := inst.Clone()
		return &c, true, nil
	}

	b, err := m.provider.GetBackend()
	if err != nil {
		return nil, false, err
	}
	ids, err := b.ListVMs(ctx)
	if err != nil {
		return nil, false, verr.NewVmError("list_vms: %s", err.Error())
	}
	for _, known := range ids {
		if known == id {
			return &model.VmInstance{ID: id, State: model.Running(), BackendName: b.Name()}, false, nil
		}
	}
	return nil, false, verr.NewVmError("VM %s not found", id)
}

// Stop stops the VM and transitions it to Stopped, emitting a Stopped event.
// It tolerates a missing in-memory record by synthesizing one from the
// backend's inventory first.
func (m *Manager) Stop(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.ObserveVMOperation("stop", time.Since(start).Seconds()) }()
	defer m.refreshActiveVMs()

	inst, inMemory, err := m.resolve(ctx, id)
	if err != nil {
		return err
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	b, err := m.provider.Get(inst.BackendName)
	if err != nil {
		b, err = m.provider.GetBackend()
		if err != nil {
			return err
		}
	}

	if err := b.Stop(ctx, inst); err != nil {
		return verr.NewVmError("%s", err.Error())
	}

	now := time.Now().UTC()
	if inMemory {
		m.mu.Lock()
		if live, ok := m.instances[id]; ok {
			live.State = model.Stopped()
			live.UpdatedAt = now
		}
		m.mu.Unlock()
	} else {
		inst.State = model.Stopped()
		inst.UpdatedAt = now
		m.store(inst)
	}

	m.events.dispatch(model.VmEvent{Tag: model.EventStopped, VmID: id, At: now})
	return nil
}

// Cleanup tears the VM down at the backend and removes its in-memory
// record entirely. Like Stop, it tolerates a missing in-memory record.
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.ObserveVMOperation("cleanup", time.Since(start).Seconds()) }()
	defer m.refreshActiveVMs()

	inst, _, err := m.resolve(ctx, id)
	if err != nil {
		return err
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	b, err := m.provider.Get(inst.BackendName)
	if err != nil {
		b, err = m.provider.GetBackend()
		if err != nil {
			return err
		}
	}

	if err := b.Cleanup(ctx, inst); err != nil {
		return verr.NewVmError("%s", err.Error())
	}

	m.mu.Lock()
	delete(m.instances, id)
	m.mu.Unlock()

	return nil
}

// Attach requires the VM to already exist in memory and delegates to the
// backend's blocking attach call.
func (m *Manager) Attach(ctx context.Context, id string) error {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()
	if !ok {
		return verr.NewVmError("VM %s not found", id)
	}

	b, err := m.provider.Get(inst.BackendName)
	if err != nil {
		return err
	}

	c := inst.Clone()
	if err := b.Attach(ctx, &c); err != nil {
		return verr.NewVmError("%s", err.Error())
	}
	return nil
}
