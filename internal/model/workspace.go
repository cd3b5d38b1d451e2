package model

import "time"

// WorkspaceConfig is a workspace's settings, stored under "config" in its
// on-disk `.vortex.json` (which holds the whole Workspace record).
type WorkspaceConfig struct {
	Template         string            `json:"template"`
	CreatedAt        time.Time         `json:"created_at"`
	LastUsedAt       time.Time         `json:"last_used_at"`
	CustomCommands   []string          `json:"custom_commands,omitempty"`
	PreferredWorkdir string            `json:"preferred_workdir,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	PortForwards     []int             `json:"port_forwards,omitempty"`
	Source           string            `json:"source,omitempty"` // non-empty if imported from an external schema
}

// Workspace is a persistent project directory tied to a dev-template.
type Workspace struct {
	ID     string          `json:"id"` // uuid
	Name   string          `json:"name"`
	Path   string          `json:"path"`
	Config WorkspaceConfig `json:"config"`
}
