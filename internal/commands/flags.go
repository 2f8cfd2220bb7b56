package commands

import (
	"os"
	"path/filepath"

	"github.com/colonyops/autopilot/internal/core/config"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string
	Workspace  string
	Theme      string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config
}

// WorkspaceID is the --workspace flag, falling back to the configured default.
func (f *Flags) WorkspaceID() string {
	if f.Workspace != "" {
		return f.Workspace
	}
	if f.Config != nil && f.Config.Server.DefaultWorkspace != "" {
		return f.Config.Server.DefaultWorkspace
	}
	return config.DefaultConfig().Server.DefaultWorkspace
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "autopilot", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "autopilot")
}
