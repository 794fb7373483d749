package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDir returns the path to the hyperdrive config directory (~/.hyperdrive).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".hyperdrive"), nil
}

// EnsureConfigDir creates the config directory if it does not exist.
func EnsureConfigDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return dir, nil
}

// DefaultPath resolves a config file name. Absolute paths and paths that
// exist relative to the working directory are returned as-is; bare names
// are looked up in ~/.hyperdrive/.
func DefaultPath(component string) (string, error) {
	if filepath.IsAbs(component) {
		return component, nil
	}
	if _, err := os.Stat(component); err == nil {
		return component, nil
	}

	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	// Return the config dir path even if it doesn't exist yet so the error
	// message shows the expected location
	return filepath.Join(dir, component), nil
}
