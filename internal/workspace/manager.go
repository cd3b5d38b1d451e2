// Package workspace implements the Workspace Manager: persistent per-project
// directories tied to a dev-template, each holding a `.vortex.json` config,
// plus translation of a workspace+template pair into a VmSpec and import of
// an external devcontainer-style JSON schema.
package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/verr"
)

const configFileName = ".vortex.json"

// shellMetacharacters is the character set a startup command must not
// contain (spec §4.5 "Shell-injection guard").
const shellMetacharacters = "&|;`$()<>\n\r"

// Manager owns the workspace root directory and the in-memory index built
// from it.
type Manager struct {
	root string

	mu     sync.Mutex
	byID   map[string]*model.Workspace
	byName map[string]string // name -> id, last-writer-wins on duplicate names
}

// New indexes every existing workspace directory under root.
func New(root string) (*Manager, error) {
	m := &Manager{
		root:   root,
		byID:   make(map[string]*model.Workspace),
		byName: make(map[string]string),
	}
	if err := m.loadExisting(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadExisting() error {
	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		cfgPath := filepath.Join(m.root, id, configFileName)
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			continue // not a valid workspace directory; skip rather than fail startup
		}
		var ws model.Workspace
		if err := json.Unmarshal(data, &ws); err != nil {
			continue
		}
		ws.ID = id
		ws.Path = filepath.Join(m.root, id)
		m.byID[id] = &ws
		m.byName[ws.Name] = id
	}
	return nil
}

// Create makes a new workspace directory for name backed by template.
func (m *Manager) Create(name, template, source string) (model.Workspace, error) {
	id := uuid.NewString()
	path := filepath.Join(m.root, id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return model.Workspace{}, err
	}

	now := time.Now().UTC()
	ws := &model.Workspace{
		ID:   id,
		Name: name,
		Path: path,
		Config: model.WorkspaceConfig{
			Template:         template,
			CreatedAt:        now,
			LastUsedAt:       now,
			PreferredWorkdir: "/workspace",
			Source:           source,
		},
	}

	if err := m.persist(ws); err != nil {
		return model.Workspace{}, err
	}

	m.mu.Lock()
	m.byID[id] = ws
	m.byName[name] = id
	m.mu.Unlock()

	return *ws, nil
}

// CreateFromExternal imports an external devcontainer-style schema from
// schemaPath and builds a workspace from it.
func (m *Manager) CreateFromExternal(name, schemaPath, source string) (model.Workspace, error) {
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return model.Workspace{}, err
	}

	schema, err := parseExternalSchema(data)
	if err != nil {
		return model.Workspace{}, err
	}

	ws, err := m.Create(name, schema.templateName(), source)
	if err != nil {
		return model.Workspace{}, err
	}

	m.mu.Lock()
	live := m.byID[ws.ID]
	if schema.WorkspaceFolder != "" {
		live.Config.PreferredWorkdir = schema.WorkspaceFolder
	}
	live.Config.PortForwards = schema.ForwardPorts
	live.Config.CustomCommands = schema.customCommands()
	err = m.persist(live)
	result := *live
	m.mu.Unlock()

	if err != nil {
		return model.Workspace{}, err
	}
	return result, nil
}

// Get returns the workspace by id.
func (m *Manager) Get(id string) (model.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.byID[id]
	if !ok {
		return model.Workspace{}, verr.NewVmError("workspace %s not found", id)
	}
	return *ws, nil
}

// FindByName returns the workspace registered under name.
func (m *Manager) FindByName(name string) (model.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byName[name]
	if !ok {
		return model.Workspace{}, verr.NewVmError("workspace %q not found", name)
	}
	return *m.byID[id], nil
}

// List returns every workspace sorted by last-used descending.
func (m *Manager) List() []model.Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Workspace, 0, len(m.byID))
	for _, ws := range m.byID {
		out = append(out, *ws)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Config.LastUsedAt.After(out[j].Config.LastUsedAt)
	})
	return out
}

// Touch updates last-used-at for id.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.byID[id]
	if !ok {
		return verr.NewVmError("workspace %s not found", id)
	}
	ws.Config.LastUsedAt = time.Now().UTC()
	return m.persist(ws)
}

// Delete removes the workspace directory and its index entry.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.byID[id]
	if !ok {
		return verr.NewVmError("workspace %s not found", id)
	}
	if err := os.RemoveAll(ws.Path); err != nil {
		return err
	}
	delete(m.byID, id)
	if m.byName[ws.Name] == id {
		delete(m.byName, ws.Name)
	}
	return nil
}

// ToVmSpec derives a VmSpec for ws using template (spec §4.5 "VM spec
// derivation"). Every startup command, built-in or workspace-custom, is run
// through the shell-injection guard before being joined.
func ToVmSpec(ws model.Workspace, template model.DevTemplate) (model.VmSpec, error) {
	if err := checkShellSafe(template.StartupCmds); err != nil {
		return model.VmSpec{}, err
	}
	if err := checkShellSafe(ws.Config.CustomCommands); err != nil {
		return model.VmSpec{}, err
	}

	env := make(map[string]string, len(template.Environment)+len(ws.Config.Environment))
	for k, v := range template.Environment {
		env[k] = v
	}
	for k, v := range ws.Config.Environment {
		env[k] = v
	}

	ports := make(map[uint16]uint16, len(ws.Config.PortForwards))
	for _, p := range ws.Config.PortForwards {
		ports[uint16(p)] = uint16(p)
	}

	workdir := ws.Config.PreferredWorkdir
	if workdir == "" {
		workdir = template.DefaultWorkdir
	}

	var parts []string
	parts = append(parts, "cd "+workdir)
	if len(template.StartupCmds) > 0 {
		parts = append(parts, strings.Join(template.StartupCmds, " && "))
	}
	if len(ws.Config.CustomCommands) > 0 {
		parts = append(parts, strings.Join(ws.Config.CustomCommands, " && "))
	}
	parts = append(parts, "echo ready", "exec $SHELL")
	startup := strings.Join(parts, " && ")

	return model.VmSpec{
		Image:       template.BaseImage,
		MemoryMB:    2048,
		CPUs:        2,
		Ports:       ports,
		Volumes:     map[string]string{ws.Path: workdir},
		Environment: env,
		Command:     []string{"/bin/sh", "-c", startup},
		Labels:      map[string]string{"workspace_id": ws.ID},
	}, nil
}

// checkShellSafe rejects any command containing a shell metacharacter
// (spec §4.5 "Shell-injection guard").
func checkShellSafe(cmds []string) error {
	for _, cmd := range cmds {
		if strings.ContainsAny(cmd, shellMetacharacters) {
			return &verr.InvalidInput{Field: "startup_commands", Message: "command contains a disallowed shell metacharacter"}
		}
	}
	return nil
}

func (m *Manager) persist(ws *model.Workspace) error {
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(ws.Path, configFileName), data, 0o600)
}

// knownTemplateTokens maps a case-insensitive substring found in an
// external schema's image string to an internal template name.
var knownTemplateTokens = []struct {
	token    string
	template string
}{
	{"python", "python"},
	{"node", "node"},
	{"rust", "rust"},
	{"golang", "go"},
	{"go:", "go"},
}

func templateFromImage(image string) string {
	lower := strings.ToLower(image)
	for _, kt := range knownTemplateTokens {
		if strings.Contains(lower, kt.token) {
			return kt.template
		}
	}
	return "python"
}
