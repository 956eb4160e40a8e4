package config

import (
	"os"
	"path/filepath"
)

const appDirName = "cheetah-dispatch"

// ConfigDirectory returns the per-user configuration directory,
// ~/.config/cheetah-dispatch on Linux.
func ConfigDirectory() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, herr := os.UserHomeDir()
		if herr != nil {
			return "", err
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, appDirName), nil
}

// LogDirectory returns the default log directory for dispatcher logs.
func LogDirectory() string {
	dir, err := ConfigDirectory()
	if err != nil {
		return filepath.Join(os.TempDir(), appDirName+"-logs")
	}
	return filepath.Join(dir, "logs")
}

// EnsureLogDirectory creates the log directory if it doesn't exist.
// Uses 0700 permissions to restrict log access to owner only.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}

// DefaultLogFile returns the log file used when none is configured.
func DefaultLogFile() string {
	return filepath.Join(LogDirectory(), "dispatch.log")
}
