// Package common provides shared constants, types, and utilities
// used across the DataGate shell.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.datagate.shell"
	// AppName is the display name of the application.
	AppName = "DataGate"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "datagate-shell"
)

// File names used by the application.
const (
	ProfilesFileName    = "profiles.yaml"
	ServersFileName     = "servers.jsonc"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "datagate-shell.log"
	JournalFileName     = "journal.db"
)

// Engine process defaults.
const (
	// DefaultSessionID is the session identifier shared with the engine.
	DefaultSessionID = "dev"
	// DefaultPipeNamespace prefixes the control and events channel names.
	DefaultPipeNamespace = "datagate.engine"
	// EngineDirName is the directory next to the shell binary holding the engine.
	EngineDirName = "engine"
	// EngineExecutableName is the file name of the engine binary.
	EngineExecutableName = "engine"
)

// Default timeouts and intervals. Every value here can be overridden
// through the timeouts section of the configuration file.
const (
	// AttachProbeTimeout is the short probe used before spawning an engine.
	AttachProbeTimeout = 1 * time.Second
	// AttachOnlyTimeout bounds an attach that must not spawn.
	AttachOnlyTimeout = 8 * time.Second
	// AttachOrStartBudget bounds the probe phase of attach-or-start.
	AttachOrStartBudget = 10 * time.Second
	// SpawnConnectTimeout bounds connecting to a freshly spawned engine.
	SpawnConnectTimeout = 5 * time.Second
	// StartBudget bounds the whole spawn-and-connect phase.
	StartBudget = 12 * time.Second
	// EarlyExitGrace is how long to watch a new engine for an instant crash.
	EarlyExitGrace = 150 * time.Millisecond
	// ConnectSlice is the per-dial timeout while waiting for channels.
	ConnectSlice = 500 * time.Millisecond
	// GetStatusTimeout bounds a GetStatus command.
	GetStatusTimeout = 5 * time.Second
	// StartSessionTimeout bounds a StartSession command.
	StartSessionTimeout = 20 * time.Second
	// StopSessionTimeout bounds a StopSession command.
	StopSessionTimeout = 20 * time.Second
	// ShutdownGrace is the wait between graceful and forced engine termination.
	ShutdownGrace = 3 * time.Second
	// StaleEngineWait is how long to wait for a stale engine to die.
	StaleEngineWait = 2 * time.Second
	// ConnectionTimeout is the maximum time the CLI waits for a connection.
	ConnectionTimeout = 30 * time.Second
)

// MaxLogLines is the number of log lines kept for the log panel.
const MaxLogLines = 2000

// Theme values.
const (
	ThemeAuto  = "auto"
	ThemeLight = "light"
	ThemeDark  = "dark"
)
