package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/vortexlab/vortex/internal/backend"
	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/verr"
)

// mockBackend is a minimal backend.Backend implementation, in the style of
// the teacher's internal/backend mockBackend, extended with the create/
// start/stop/cleanup/attach/metrics/list_vms surface this spec's contract
// requires.
type mockBackend struct {
	mu        sync.Mutex
	name      string
	available bool
	created   []string
	started   []string
	stopped   []string
	cleaned   []string

	createErr error
	startErr  error
	stopErr   error

	listVMsFn func() ([]string, error)
}

func (m *mockBackend) Name() string      { return m.name }
func (m *mockBackend) IsAvailable() bool { return m.available }

func (m *mockBackend) Create(_ context.Context, vm *model.VmInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, vm.ID)
	return nil
}

func (m *mockBackend) Start(_ context.Context, vm *model.VmInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, vm.ID)
	return nil
}

func (m *mockBackend) Stop(_ context.Context, vm *model.VmInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	m.stopped = append(m.stopped, vm.ID)
	return nil
}

func (m *mockBackend) Cleanup(_ context.Context, vm *model.VmInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned = append(m.cleaned, vm.ID)
	return nil
}

func (m *mockBackend) Attach(_ context.Context, _ *model.VmInstance) error { return nil }

func (m *mockBackend) Metrics(_ context.Context, vm *model.VmInstance) (backend.Metrics, error) {
	return backend.Metrics{CPUPercent: 1, MemoryMB: uint64(vm.Spec.MemoryMB)}, nil
}

func (m *mockBackend) ListVMs(_ context.Context) ([]string, error) {
	if m.listVMsFn != nil {
		return m.listVMsFn()
	}
	return nil, nil
}

func newTestManager(t *testing.T, b backend.Backend) (*Manager, *backend.Provider) {
	t.Helper()
	provider := backend.NewProvider()
	provider.Register(b)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(provider, model.GlobalResourceLimits{}, logger), provider
}

func validSpec() model.VmSpec {
	return model.VmSpec{Image: "alpine", MemoryMB: 256, CPUs: 1}
}

func TestManager_Create_Success(t *testing.T) {
	mb := &mockBackend{name: "fake", available: true}
	mgr, _ := newTestManager(t, mb)

	inst, err := mgr.Create(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if inst.State.Tag != model.StateRunning {
		t.Errorf("State.Tag = %v, want %v", inst.State.Tag, model.StateRunning)
	}
	if len(mb.created) != 1 || len(mb.started) != 1 {
		t.Errorf("expected exactly one create+start call, got create=%v start=%v", mb.created, mb.started)
	}
}

func TestManager_Create_InvalidSpec_NeverReachesBackend(t *testing.T) {
	mb := &mockBackend{name: "fake", available: true}
	mgr, _ := newTestManager(t, mb)

	_, err := mgr.Create(context.Background(), model.VmSpec{Image: "alpine", MemoryMB: 0, CPUs: 1})
	var invalid *verr.InvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *verr.InvalidInput, got %T: %v", err, err)
	}
	if len(mb.created) != 0 {
		t.Errorf("expected no backend Create call, got %v", mb.created)
	}
}

func TestManager_Create_BackendFailure_TransitionsToError(t *testing.T) {
	mb := &mockBackend{name: "fake", available: true, createErr: errors.New("image not found")}
	mgr, _ := newTestManager(t, mb)

	_, err := mgr.Create(context.Background(), validSpec())
	if err == nil {
		t.Fatal("expected error")
	}

	// The record is retained even though Create failed.
	all, listErr := mgr.List(context.Background())
	if listErr != nil {
		t.Fatalf("List returned error: %v", listErr)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 retained record, got %d", len(all))
	}
	if all[0].State.Tag != model.StateError {
		t.Errorf("State.Tag = %v, want %v", all[0].State.Tag, model.StateError)
	}
}

func TestManager_Create_ResourceLimitExceeded(t *testing.T) {
	mb := &mockBackend{name: "fake", available: true}
	provider := backend.NewProvider()
	provider.Register(mb)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(provider, model.GlobalResourceLimits{MaxConcurrentVMs: 1}, logger)

	if _, err := mgr.Create(context.Background(), validSpec()); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}

	_, err := mgr.Create(context.Background(), validSpec())
	var limitErr *verr.ResourceLimitExceeded
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *verr.ResourceLimitExceeded, got %T: %v", err, err)
	}
}

func TestManager_EventFanOut_OrderAndIsolation(t *testing.T) {
	mb := &mockBackend{name: "fake", available: true}
	mgr, _ := newTestManager(t, mb)

	var mu sync.Mutex
	var seen []string

	mgr.AddEventHandler(EventHandlerFunc{FuncName: "failing", Func: func(model.VmEvent) error {
		return errors.New("boom")
	}})
	mgr.AddEventHandler(EventHandlerFunc{FuncName: "recorder", Func: func(e model.VmEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(e.Tag))
		return nil
	}})

	if _, err := mgr.Create(context.Background(), validSpec()); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"Created", "Started"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestManager_List_FallsBackToBackendInventoryWhenEmpty(t *testing.T) {
	mb := &mockBackend{
		name:      "fake",
		available: true,
		listVMsFn: func() ([]string, error) {
			return []string{"vortex-aaaaaaaa", "unrelated-id"}, nil
		},
	}
	mgr, _ := newTestManager(t, mb)

	all, err := mgr.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 skeletal record (prefix-filtered), got %d: %v", len(all), all)
	}
	if all[0].ID != "vortex-aaaaaaaa" {
		t.Errorf("ID = %q, want %q", all[0].ID, "vortex-aaaaaaaa")
	}
	if all[0].State.Tag != model.StateRunning {
		t.Errorf("skeletal record state = %v, want %v", all[0].State.Tag, model.StateRunning)
	}
}

func TestManager_Stop_ToleratesMissingInMemoryRecord(t *testing.T) {
	mb := &mockBackend{
		name:      "fake",
		available: true,
		listVMsFn: func() ([]string, error) { return []string{"vortex-aaaaaaaa"}, nil },
	}
	mgr, _ := newTestManager(t, mb)

	if err := mgr.Stop(context.Background(), "vortex-aaaaaaaa"); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if len(mb.stopped) != 1 {
		t.Errorf("expected backend Stop to be called once, got %v", mb.stopped)
	}
}

func TestManager_Stop_UnknownID(t *testing.T) {
	mb := &mockBackend{name: "fake", available: true}
	mgr, _ := newTestManager(t, mb)

	err := mgr.Stop(context.Background(), "vortex-deadbeef")
	var vmErr *verr.VmError
	if !errors.As(err, &vmErr) {
		t.Fatalf("expected *verr.VmError, got %T: %v", err, err)
	}
}

func TestManager_Cleanup_RemovesRecord(t *testing.T) {
	mb := &mockBackend{name: "fake", available: true}
	mgr, _ := newTestManager(t, mb)

	inst, err := mgr.Create(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mgr.Cleanup(context.Background(), inst.ID); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}
	if _, err := mgr.Get(inst.ID); err == nil {
		t.Error("expected Get to fail after Cleanup")
	}
}

func TestManager_Attach_RequiresInMemoryRecord(t *testing.T) {
	mb := &mockBackend{name: "fake", available: true}
	mgr, _ := newTestManager(t, mb)

	err := mgr.Attach(context.Background(), "vortex-deadbeef")
	if err == nil {
		t.Fatal("expected error for unknown id")
	}
}
