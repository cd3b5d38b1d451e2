// Package devtemplate holds the static, constructed-at-startup table of
// built-in dev-environment presets (spec §4.6), plus the one mutation path
// it allows: registering a custom template under a name that isn't already
// taken.
package devtemplate

import (
	"sort"
	"sync"

	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/verr"
)

// Catalog is a name-keyed table of DevTemplates. The built-ins are
// constructed once in New and never mutated; AddCustom is the only write
// path and is guarded against overwriting an existing name.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]model.DevTemplate
}

// New constructs the catalog with the built-in python/node/rust/go presets.
func New() *Catalog {
	c := &Catalog{templates: make(map[string]model.DevTemplate)}
	for _, t := range builtins() {
		c.templates[t.Name] = t
	}
	return c
}

// Get returns the named template, or ErrTemplateNotFound.
func (c *Catalog) Get(name string) (model.DevTemplate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.templates[name]
	if !ok {
		return model.DevTemplate{}, &verr.TemplateNotFound{Name: name}
	}
	return t, nil
}

// List returns all templates sorted by name.
func (c *Catalog) List() []model.DevTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.DevTemplate, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddCustom registers t under t.Name. It fails with ErrTemplateExists if the
// name is already taken, whether by a built-in or an earlier custom template.
func (c *Catalog) AddCustom(t model.DevTemplate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.templates[t.Name]; exists {
		return &verr.TemplateExists{Name: t.Name}
	}
	c.templates[t.Name] = t
	return nil
}

func builtins() []model.DevTemplate {
	return []model.DevTemplate{
		{
			Name:           "python",
			Description:    "Python 3 with pip and venv preconfigured",
			BaseImage:      "python:3.12-slim",
			Tools:          []string{"pip", "venv", "black", "ruff"},
			Environment:    map[string]string{"PYTHONUNBUFFERED": "1"},
			StartupCmds:    []string{"pip install --quiet --upgrade pip"},
			DefaultWorkdir: "/workspace",
			DefaultPorts:   []string{"8000:8000"},
			Extensions:     []string{"ms-python.python"},
			PackageLists:   map[string][]string{"pip": {"pytest", "ipython"}},
		},
		{
			Name:           "node",
			Description:    "Node.js LTS with npm",
			BaseImage:      "node:20-slim",
			Tools:          []string{"npm", "npx"},
			Environment:    map[string]string{"NODE_ENV": "development"},
			StartupCmds:    []string{"npm install --silent"},
			DefaultWorkdir: "/workspace",
			DefaultPorts:   []string{"3000:3000"},
			Extensions:     []string{"dbaeumer.vscode-eslint"},
			PackageLists:   map[string][]string{"npm": {"typescript", "nodemon"}},
		},
		{
			Name:           "rust",
			Description:    "Rust stable toolchain via rustup",
			BaseImage:      "rust:1-slim",
			Tools:          []string{"cargo", "rustc", "clippy"},
			Environment:    map[string]string{"CARGO_TERM_COLOR": "always"},
			StartupCmds:    []string{"cargo fetch"},
			DefaultWorkdir: "/workspace",
			DefaultPorts:   []string{"8080:8080"},
			Extensions:     []string{"rust-lang.rust-analyzer"},
			PackageLists:   map[string][]string{},
		},
		{
			Name:           "go",
			Description:    "Go toolchain with modules cache preconfigured",
			BaseImage:      "golang:1.25-bookworm",
			Tools:          []string{"go", "gofmt", "govulncheck"},
			Environment:    map[string]string{"GOFLAGS": "-mod=mod"},
			StartupCmds:    []string{"go mod download"},
			DefaultWorkdir: "/workspace",
			DefaultPorts:   []string{"8080:8080"},
			Extensions:     []string{"golang.go"},
			PackageLists:   map[string][]string{},
		},
	}
}
