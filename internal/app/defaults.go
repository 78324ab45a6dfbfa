package app

import (
	"os"
	"path/filepath"
)

// Defaults holds environment-derived paths used before configuration is
// loaded.
type Defaults struct {
	ConfigPath string
	HomeDir    string
}

// GetDefaults resolves the config file path and data home directory.
// GAMEVAULT_CONFIG_PATH and GAMEVAULT_HOME override the XDG-style defaults.
func GetDefaults() (*Defaults, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configPath := os.Getenv("GAMEVAULT_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(home, ".config", "gamevault.toml")
	}

	homeDir := os.Getenv("GAMEVAULT_HOME")
	if homeDir == "" {
		homeDir = filepath.Join(home, ".local", "share", "gamevault")
	}

	return &Defaults{ConfigPath: configPath, HomeDir: homeDir}, nil
}
