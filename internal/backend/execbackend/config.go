package execbackend

import "os"

// Environment variable names for exec-backend configuration, following the
// env-override-default pattern of the teacher's firecracker.LoadConfig.
const (
	envBinaryPath = "VORTEX_BACKEND_BIN"
	envName       = "VORTEX_BACKEND_NAME"
	envDiagLevel  = "VORTEX_BACKEND_DIAG_LEVEL"
)

// Config configures the exec backend adapter.
type Config struct {
	// BinaryPath is the external microVM CLI to invoke. Resolved via
	// exec.LookPath, so a bare name ("krunvm") or an absolute path both work.
	BinaryPath string

	// BackendName is the name this adapter registers under and reports from
	// Name(). Defaults to the binary's base name.
	BackendName string

	// DiagLevel sets the verbosity of the subprocess diagnostic trail (every
	// invocation of BinaryPath, its args, and its exit status). One of the
	// logrus level names ("debug", "info", "warn", "error"). Defaults to
	// "warn", so routine invocations stay silent and only failures surface.
	DiagLevel string
}

// DefaultDiagLevel is used when neither the config nor the environment names
// a diagnostic level.
const DefaultDiagLevel = "warn"

// DefaultBinaryPath is used when neither the config nor the environment
// names a binary.
const DefaultBinaryPath = "krunvm"

// LoadConfig reads exec-backend configuration from environment variables,
// applying DefaultBinaryPath when unset.
func LoadConfig() Config {
	cfg := Config{BinaryPath: DefaultBinaryPath, DiagLevel: DefaultDiagLevel}
	if v := os.Getenv(envBinaryPath); v != "" {
		cfg.BinaryPath = v
	}
	if v := os.Getenv(envName); v != "" {
		cfg.BackendName = v
	}
	if v := os.Getenv(envDiagLevel); v != "" {
		cfg.DiagLevel = v
	}
	if cfg.BackendName == "" {
		cfg.BackendName = baseName(cfg.BinaryPath)
	}
	return cfg
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
