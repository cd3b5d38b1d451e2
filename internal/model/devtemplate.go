package model

// DevTemplate is a named dev-environment preset: a base image plus the
// tooling, environment, and startup commands that turn it into a ready
// workspace VM.
type DevTemplate struct {
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	BaseImage      string              `json:"base_image"`
	Tools          []string            `json:"tools,omitempty"`
	Environment    map[string]string   `json:"environment,omitempty"`
	StartupCmds    []string            `json:"startup_commands,omitempty"`
	DefaultWorkdir string              `json:"default_workdir"`
	DefaultPorts   []string            `json:"default_ports,omitempty"` // "host:guest" strings
	Extensions     []string            `json:"extensions,omitempty"`
	PackageLists   map[string][]string `json:"package_lists,omitempty"` // package manager -> packages
}
