package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories, the keyring service and the log file.
const AppName = "agentconfig"

const (
	// ConfigDirEnv overrides the directory holding config.yaml.
	ConfigDirEnv = "AGENT_CONFIG_DIR"
	// DataDirEnv overrides the directory holding secrets.enc.
	DataDirEnv = "AGENT_DATA_DIR"
)

const (
	ConfigFileName  = "config.yaml"
	SecretsFileName = "secrets.enc"
)

// Paths contains the standard per-user paths.
type Paths struct {
	Config string // ~/.config/agentconfig
	Data   string // ~/.local/share/agentconfig
	State  string // ~/.local/state/agentconfig
}

// GetPaths returns the standard paths, honouring XDG variables and the
// AGENT_CONFIG_DIR / AGENT_DATA_DIR overrides.
func GetPaths() *Paths {
	return &Paths{
		Config: getEnvOrDefault(ConfigDirEnv, filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), AppName)),
		Data:   getEnvOrDefault(DataDirEnv, filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), AppName)),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), AppName),
	}
}

// EnsurePaths creates all directories with owner-only permissions.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Config, p.Data, p.State} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// ConfigFile returns the path of the plain configuration file.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.Config, ConfigFileName)
}

// SecretsFile returns the path of the encrypted secret fallback.
func (p *Paths) SecretsFile() string {
	return filepath.Join(p.Data, SecretsFileName)
}

// LogFile returns the default log file path.
func (p *Paths) LogFile() string {
	return filepath.Join(p.State, AppName+".log")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("LOCALAPPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}
