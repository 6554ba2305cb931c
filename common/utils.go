// Package common provides shared constants, types, and utilities
// used across the DataGate shell.
package common

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a unique identifier suitable for profile and request IDs.
// The result is a UUIDv4 without dashes.
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetConfigDir returns the path to the application configuration directory.
// It creates the directory if it doesn't exist.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", WrapError(err, "failed to get home directory")
	}

	configDir := filepath.Join(homeDir, ".config", ConfigDirName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", WrapError(err, "failed to create config directory")
	}

	return configDir, nil
}

// GetDataDir returns the path to the application data directory.
func GetDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", WrapError(err, "failed to get home directory")
	}

	dataDir := filepath.Join(homeDir, ".local", "share", ConfigDirName)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", WrapError(err, "failed to create data directory")
	}

	return dataDir, nil
}

// RuntimeDir returns the directory where engine sockets live.
// It prefers XDG_RUNTIME_DIR and falls back to the system temp directory.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsIdleState reports whether an engine state string means "no session".
// Empty and whitespace-only states count as idle.
func IsIdleState(state string) bool {
	state = strings.TrimSpace(state)
	return state == "" || strings.EqualFold(state, "idle")
}
