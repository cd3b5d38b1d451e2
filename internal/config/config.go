// Package config loads vortex's runtime configuration: environment
// variables for process-level knobs (log level, backend override), plus a
// per-user TOML file for persisted preferences (default backend, default
// resource shape, image aliases, resource caps). It also centralizes every
// per-user filesystem path the daemon, session manager, and workspace
// manager write to (spec §6 "Persisted state").
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/verr"
)

const (
	envLogLevel   = "VORTEX_LOG_LEVEL"
	envHome       = "VORTEX_HOME"        // overrides ~/.vortex for tests and CI
	envConfigHome = "VORTEX_CONFIG_HOME" // overrides ~/.config/vortex

	defaultMemoryMB = 512
	defaultCPUs     = 1
)

// FileConfig is the shape of config.toml. A zero DefaultMemoryMB or
// DefaultCPUs means "use the built-in default"; Load fills those in memory
// and, on first run, persists the filled-in struct. Zero resource limits
// mean "no cap" and are written out as zeros.
type FileConfig struct {
	DefaultBackend  string                     `toml:"default_backend,omitempty"`
	DefaultMemoryMB int                        `toml:"default_memory_mb"`
	DefaultCPUs     int                        `toml:"default_cpus"`
	ImageAliases    map[string]string          `toml:"image_aliases,omitempty"`
	Limits          model.GlobalResourceLimits `toml:"resource_limits"`
}

// Config is the fully resolved configuration: the TOML file's contents plus
// environment-derived process settings.
type Config struct {
	FileConfig
	LogLevel slog.Level
	Paths    Paths
}

// Paths centralizes every per-user path the system reads or writes.
type Paths struct {
	Home         string // <home>/.vortex
	ConfigHome   string // <home>/.config/vortex
	SessionsFile string // <home>/.vortex/sessions.json
	DaemonSocket string // <home>/.vortex/daemon.sock
	WorkspaceDir string // <home>/.vortex/workspaces
	StorageDir   string // <home>/.vortex/storage
	EventLogDB   string // <home>/.vortex/eventlog.db
	ConfigFile   string // <home>/.config/vortex/config.toml
}

// ResolvePaths computes Paths from the user's home directory, honoring
// VORTEX_HOME/VORTEX_CONFIG_HOME overrides for tests and CI.
func ResolvePaths() (Paths, error) {
	home := os.Getenv(envHome)
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		home = filepath.Join(h, ".vortex")
	}

	configHome := os.Getenv(envConfigHome)
	if configHome == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		configHome = filepath.Join(h, ".config", "vortex")
	}

	return Paths{
		Home:         home,
		ConfigHome:   configHome,
		SessionsFile: filepath.Join(home, "sessions.json"),
		DaemonSocket: filepath.Join(home, "daemon.sock"),
		WorkspaceDir: filepath.Join(home, "workspaces"),
		StorageDir:   filepath.Join(home, "storage"),
		EventLogDB:   filepath.Join(home, "eventlog.db"),
		ConfigFile:   filepath.Join(configHome, "config.toml"),
	}, nil
}

// Load resolves paths, reads config.toml if present, and fills in defaults
// for anything unset. If the file doesn't exist, Load writes one out with
// the resolved defaults so the user has something to edit next time.
func Load() (Config, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return Config{}, err
	}

	fc, existed, err := readFileConfig(paths.ConfigFile)
	if err != nil {
		return Config{}, err
	}
	if fc.DefaultMemoryMB <= 0 {
		fc.DefaultMemoryMB = defaultMemoryMB
	}
	if fc.DefaultCPUs <= 0 {
		fc.DefaultCPUs = defaultCPUs
	}

	if !existed {
		if err := writeFileConfig(paths.ConfigFile, fc); err != nil {
			return Config{}, err
		}
	}

	level := slog.LevelInfo
	if v := os.Getenv(envLogLevel); v != "" {
		level = parseLogLevel(v)
	}

	return Config{FileConfig: fc, LogLevel: level, Paths: paths}, nil
}

func readFileConfig(path string) (FileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return FileConfig{}, false, nil
	}
	if err != nil {
		return FileConfig{}, false, err
	}

	var fc FileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, false, &verr.ConfigError{Message: fmt.Sprintf("parsing %s: %v", path, err)}
	}
	return fc, true, nil
}

func writeFileConfig(path string, fc FileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(fc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured
// level, unchanged from the teacher's config.NewLogger.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
