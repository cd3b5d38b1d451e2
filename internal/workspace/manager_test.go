package workspace

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/verr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(filepath.Join(t.TempDir(), "workspaces"))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return m
}

func TestManager_Create_CreatesDirectory(t *testing.T) {
	m := newTestManager(t)

	ws, err := m.Create("proj", "python", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := os.Stat(ws.Path); err != nil {
		t.Errorf("expected workspace directory to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.Path, configFileName)); err != nil {
		t.Errorf("expected .vortex.json to exist: %v", err)
	}
}

func TestManager_FindByName(t *testing.T) {
	m := newTestManager(t)
	ws, _ := m.Create("proj", "python", "")

	found, err := m.FindByName("proj")
	if err != nil {
		t.Fatalf("FindByName returned error: %v", err)
	}
	if found.ID != ws.ID {
		t.Errorf("ID = %q, want %q", found.ID, ws.ID)
	}
}

func TestManager_Delete_RemovesDirectory(t *testing.T) {
	m := newTestManager(t)
	ws, _ := m.Create("proj", "python", "")

	if err := m.Delete(ws.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Errorf("expected workspace directory to be removed")
	}
	if _, err := m.Get(ws.ID); err == nil {
		t.Error("expected Get to fail after Delete")
	}
}

func TestManager_List_SortedByLastUsedDescending(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.Create("a", "python", "")
	b, _ := m.Create("b", "python", "")

	// touch a after b so a sorts first
	if err := m.Touch(a.ID); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 workspaces, got %d", len(list))
	}
	if list[0].ID != a.ID {
		t.Errorf("list[0].ID = %q, want %q (most recently touched)", list[0].ID, a.ID)
	}
	_ = b
}

func TestCheckShellSafe_RejectsMetacharacters(t *testing.T) {
	err := checkShellSafe([]string{"echo hi && rm -rf /"})
	var invalid *verr.InvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *verr.InvalidInput, got %T: %v", err, err)
	}
	if invalid.Field != "startup_commands" {
		t.Errorf("Field = %q, want %q", invalid.Field, "startup_commands")
	}
}

func TestCheckShellSafe_AllowsPlainCommands(t *testing.T) {
	if err := checkShellSafe([]string{"pip install --quiet --upgrade pip"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestToVmSpec_MergesEnvAndJoinsStartup(t *testing.T) {
	ws := model.Workspace{
		ID:   "ws-1",
		Path: "/home/user/.vortex/workspaces/ws-1",
		Config: model.WorkspaceConfig{
			PreferredWorkdir: "/workspace",
			Environment:      map[string]string{"FOO": "bar"},
			PortForwards:     []int{3000},
			CustomCommands:   []string{"npm run build"},
		},
	}
	tpl := model.DevTemplate{
		BaseImage:      "node:20-slim",
		Environment:    map[string]string{"NODE_ENV": "development", "FOO": "template-default"},
		StartupCmds:    []string{"npm install --silent"},
		DefaultWorkdir: "/workspace",
	}

	spec, err := ToVmSpec(ws, tpl)
	if err != nil {
		t.Fatalf("ToVmSpec returned error: %v", err)
	}
	if spec.Environment["FOO"] != "bar" {
		t.Errorf("workspace env should override template env: got %q", spec.Environment["FOO"])
	}
	if spec.Environment["NODE_ENV"] != "development" {
		t.Errorf("expected template env to carry through, got %q", spec.Environment["NODE_ENV"])
	}
	if spec.Ports[3000] != 3000 {
		t.Errorf("expected port 3000:3000 mapping, got %v", spec.Ports)
	}
	if len(spec.Command) != 3 || spec.Command[2] == "" {
		t.Fatalf("expected a 3-element shell command, got %v", spec.Command)
	}
}

func TestToVmSpec_RejectsUnsafeCustomCommand(t *testing.T) {
	ws := model.Workspace{
		Config: model.WorkspaceConfig{CustomCommands: []string{"echo hi; rm -rf /"}},
	}
	tpl := model.DevTemplate{DefaultWorkdir: "/workspace"}

	_, err := ToVmSpec(ws, tpl)
	var invalid *verr.InvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *verr.InvalidInput, got %T: %v", err, err)
	}
}

func TestTemplateFromImage(t *testing.T) {
	tests := []struct {
		image string
		want  string
	}{
		{"mcr.microsoft.com/devcontainers/python:3.12", "python"},
		{"node:20", "node"},
		{"rust:1", "rust"},
		{"golang:1.25", "go"},
		{"mysteryimage:latest", "python"},
	}
	for _, tt := range tests {
		if got := templateFromImage(tt.image); got != tt.want {
			t.Errorf("templateFromImage(%q) = %q, want %q", tt.image, got, tt.want)
		}
	}
}

func TestCreateFromExternal(t *testing.T) {
	m := newTestManager(t)

	schemaPath := filepath.Join(t.TempDir(), "devcontainer.json")
	schema := map[string]any{
		"image":             "node:20",
		"workspaceFolder":   "/app",
		"forwardPorts":      []int{3000},
		"postCreateCommand": "npm install",
		"postStartCommand":  "npm run dev",
	}
	data, _ := json.Marshal(schema)
	if err := os.WriteFile(schemaPath, data, 0o644); err != nil {
		t.Fatalf("failed writing test schema: %v", err)
	}

	ws, err := m.CreateFromExternal("imported", schemaPath, "devcontainer-import")
	if err != nil {
		t.Fatalf("CreateFromExternal returned error: %v", err)
	}
	if ws.Config.Template != "node" {
		t.Errorf("Template = %q, want %q", ws.Config.Template, "node")
	}
	if ws.Config.PreferredWorkdir != "/app" {
		t.Errorf("PreferredWorkdir = %q, want %q", ws.Config.PreferredWorkdir, "/app")
	}
	if len(ws.Config.CustomCommands) != 2 {
		t.Errorf("expected 2 custom commands, got %v", ws.Config.CustomCommands)
	}
}
