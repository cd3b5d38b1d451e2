package backend

import (
	"sort"
	"sync"

	"github.com/vortexlab/vortex/internal/verr"
)

// BackendInfo pairs a backend name with whether it's currently available.
type BackendInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Provider enumerates registered backends at construction, filters by
// IsAvailable, and remembers the first registered available backend as
// "preferred" (spec §4.1 "Selection").
type Provider struct {
	mu        sync.RWMutex
	order     []string
	backends  map[string]Backend
	preferred string
}

// NewProvider creates an empty backend provider.
func NewProvider() *Provider {
	return &Provider{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend to the provider under its own Name(). The first
// registered backend that IsAvailable() becomes preferred; registering more
// backends afterward never changes an already-set preference.
func (p *Provider) Register(b Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := b.Name()
	if _, exists := p.backends[name]; !exists {
		p.order = append(p.order, name)
	}
	p.backends[name] = b

	if p.preferred == "" && b.IsAvailable() {
		p.preferred = name
	}
}

// GetBackend returns the preferred backend, or ErrBackendUnavailable if no
// registered backend is currently available.
func (p *Provider) GetBackend() (Backend, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.preferred == "" {
		return nil, verr.ErrBackendUnavailable
	}
	return p.backends[p.preferred], nil
}

// Get returns a specific backend by name.
func (p *Provider) Get(name string) (Backend, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	b, ok := p.backends[name]
	if !ok {
		return nil, verr.ErrBackendUnavailable
	}
	return b, nil
}

// List returns information about all registered backends, sorted by
// name for a stable response.
func (p *Provider) List() []BackendInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(p.order))
	for _, name := range p.order {
		infos = append(infos, BackendInfo{
			Name:      name,
			Available: p.backends[name].IsAvailable(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
