package execbackend

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/vortexlab/vortex/internal/backend"
	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/verr"
)

var _ backend.Backend = (*Backend)(nil)

// writeFakeBinary drops a shell script standing in for the external microVM
// CLI and returns its path. script receives the subcommand as $1.
func writeFakeBinary(t *testing.T, script string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "fakebackend")
	contents := "#!/bin/sh\n" + script + "\n"
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("writing fake binary: %v", err)
	}
	return path
}

func testVM(id string) *model.VmInstance {
	return &model.VmInstance{
		ID: id,
		Spec: model.VmSpec{
			Image:    "alpine",
			MemoryMB: 512,
			CPUs:     1,
			Ports:    map[uint16]uint16{8080: 80},
		},
	}
}

func TestBackend_Create_Success(t *testing.T) {
	bin := writeFakeBinary(t, `
case "$1" in
  create) exit 0 ;;
  *) echo "unexpected $1" >&2; exit 1 ;;
esac
`)

	b := New(Config{BinaryPath: bin, BackendName: "fake"}, slog.Default())
	if err := b.Create(context.Background(), testVM("vortex-aaaaaaaa")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
}

func TestBackend_Create_WrapsStderrOnFailure(t *testing.T) {
	bin := writeFakeBinary(t, `echo "image pull failed: no such host" >&2; exit 1`)

	b := New(Config{BinaryPath: bin, BackendName: "fake"}, slog.Default())
	err := b.Create(context.Background(), testVM("vortex-aaaaaaaa"))

	var backendErr *verr.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected *verr.BackendError, got %T: %v", err, err)
	}
	if backendErr.Message != "image pull failed: no such host" {
		t.Errorf("Message = %q, want stderr passthrough", backendErr.Message)
	}
}

func TestBackend_ListVMs(t *testing.T) {
	bin := writeFakeBinary(t, `
case "$1" in
  list)
    echo "vortex-aaaaaaaa 512 1.2"
    echo "vortex-bbbbbbbb 1024 0.4"
    ;;
esac
`)

	b := New(Config{BinaryPath: bin, BackendName: "fake"}, slog.Default())
	ids, err := b.ListVMs(context.Background())
	if err != nil {
		t.Fatalf("ListVMs returned error: %v", err)
	}
	want := []string{"vortex-aaaaaaaa", "vortex-bbbbbbbb"}
	if len(ids) != len(want) {
		t.Fatalf("got %d ids, want %d: %v", len(ids), len(want), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestBackend_Metrics_ParsesListLine(t *testing.T) {
	bin := writeFakeBinary(t, `echo "vortex-aaaaaaaa 777 12.5"`)

	b := New(Config{BinaryPath: bin, BackendName: "fake"}, slog.Default())
	m, err := b.Metrics(context.Background(), testVM("vortex-aaaaaaaa"))
	if err != nil {
		t.Fatalf("Metrics returned error: %v", err)
	}
	if m.MemoryMB != 777 {
		t.Errorf("MemoryMB = %d, want 777", m.MemoryMB)
	}
	if m.CPUPercent != 12.5 {
		t.Errorf("CPUPercent = %v, want 12.5", m.CPUPercent)
	}
}

func TestBackend_Metrics_FallsBackToSpecWhenVMAbsent(t *testing.T) {
	bin := writeFakeBinary(t, `echo "vortex-other 100 1.0"`)

	b := New(Config{BinaryPath: bin, BackendName: "fake"}, slog.Default())
	vm := testVM("vortex-aaaaaaaa")
	m, err := b.Metrics(context.Background(), vm)
	if err != nil {
		t.Fatalf("Metrics returned error: %v", err)
	}
	if m.MemoryMB != uint64(vm.Spec.MemoryMB) {
		t.Errorf("MemoryMB = %d, want fallback %d", m.MemoryMB, vm.Spec.MemoryMB)
	}
}

func TestBackend_IsAvailable(t *testing.T) {
	bin := writeFakeBinary(t, `exit 0`)

	b := New(Config{BinaryPath: bin, BackendName: "fake"}, slog.Default())
	if !b.IsAvailable() {
		t.Error("expected IsAvailable to be true for an existing executable")
	}

	missing := New(Config{BinaryPath: filepath.Join(t.TempDir(), "does-not-exist"), BackendName: "fake"}, slog.Default())
	if missing.IsAvailable() {
		t.Error("expected IsAvailable to be false for a missing binary")
	}
}

func TestBackend_Cleanup_RunsDeleteVerb(t *testing.T) {
	bin := writeFakeBinary(t, `
case "$1" in
  delete) [ "$2" = "vortex-aaaaaaaa" ] && exit 0 || exit 1 ;;
  *) exit 1 ;;
esac
`)

	b := New(Config{BinaryPath: bin, BackendName: "fake"}, slog.Default())
	if err := b.Cleanup(context.Background(), testVM("vortex-aaaaaaaa")); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}
}

func TestBackend_Name(t *testing.T) {
	b := New(Config{BinaryPath: "irrelevant", BackendName: "krunvm"}, slog.Default())
	if got := b.Name(); got != "krunvm" {
		t.Errorf("Name() = %q, want %q", got, "krunvm")
	}
}

func TestBackend_Create_IncludesPortMapping(t *testing.T) {
	bin := writeFakeBinary(t, `
for arg in "$@"; do
  if [ "$arg" = "8080:80" ]; then
    exit 0
  fi
done
exit 1
`)

	b := New(Config{BinaryPath: bin, BackendName: "fake"}, slog.Default())
	if err := b.Create(context.Background(), testVM("vortex-aaaaaaaa")); err != nil {
		t.Fatalf("Create returned error, port mapping arg not found: %v", err)
	}
}
