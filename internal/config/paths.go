package config

import (
	"os"
	"path/filepath"
)

const (
	appName        = "upload-manager"
	configFileName = "config.toml"
)

// DefaultConfigDir returns the per-user config directory for upload-manager:
// under $XDG_CONFIG_HOME (or ~/.config) on Unix, ~/Library/Application
// Support on macOS and %AppData% on Windows. It is empty when no home
// directory can be determined.
func DefaultConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}

	return filepath.Join(base, appName)
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither UPLOAD_MANAGER_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}
