// Package common provides shared constants, types, and utilities
// used across the DataGate shell.
package common

import (
	"context"
	"encoding/json"
)

// ConnectionStatus represents the state of the VPN session as shown to the user.
type ConnectionStatus int

const (
	StatusIdle ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
)

// String returns a human-readable status string.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	case StatusDisconnecting:
		return "Disconnecting..."
	default:
		return "Unknown"
	}
}

// UI is the set of sinks the session core reports to. Implementations
// must return quickly; the core never waits for rendering.
type UI interface {
	// SetStatusText replaces the free-form status line.
	SetStatusText(text string)
	// ApplyState sets the connection state together with its status line.
	ApplyState(state ConnectionStatus, statusText string)
	// AppendLog adds one line to the scrolling log panel.
	AppendLog(line string)
}

// PayloadBuilder produces the StartSession payload for the engine.
// A nil payload with a nil error means a prerequisite is missing and
// there is nothing to start.
type PayloadBuilder interface {
	Build(ctx context.Context) (json.RawMessage, error)
}

// EnginePathResolver locates the engine executable.
type EnginePathResolver interface {
	ResolveEnginePath() (string, error)
}

// CredentialStore defines the interface for credential storage.
// Implementations may use system keyring, encrypted files, etc.
type CredentialStore interface {
	// Store saves credentials for a profile.
	Store(profileID, password string) error
	// Get retrieves credentials for a profile.
	Get(profileID string) (string, error)
	// Delete removes credentials for a profile.
	Delete(profileID string) error
}

// Notifier defines the interface for sending notifications.
type Notifier interface {
	// Notify sends a notification with the given title and message.
	Notify(title, message string) error
}

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}
