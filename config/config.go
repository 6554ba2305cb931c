// Package config provides configuration management for the DataGate shell.
// It handles loading, saving, and validating application settings,
// including the engine session identity and the supervision timeouts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/datagate-shell/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// SessionID identifies the engine session shared with the engine process.
	SessionID string `yaml:"session_id"`
	// PipeNamespace prefixes the control and events channel names.
	PipeNamespace string `yaml:"pipe_namespace"`
	// SocketDir holds the engine sockets. Empty means the runtime directory.
	SocketDir string `yaml:"socket_dir,omitempty"`
	// EnginePath overrides the engine executable location.
	EnginePath string `yaml:"engine_path,omitempty"`
	// AutoReconnect keeps reconnecting while the user wants to be connected.
	AutoReconnect bool `yaml:"auto_reconnect"`
	// ActiveProfile is the ID of the profile used to start sessions.
	ActiveProfile string `yaml:"active_profile,omitempty"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// Theme sets the color theme: "light", "dark", or "auto".
	Theme string `yaml:"theme"`
	// Timeouts bounds every engine operation.
	Timeouts Timeouts `yaml:"timeouts"`
}

// Timeouts are the named, overridable bounds of engine supervision.
// Zero values are replaced by the defaults during validation, except
// StatusPoll where zero disables periodic status refresh.
type Timeouts struct {
	AttachProbe        time.Duration `yaml:"attach_probe"`
	AttachOnly         time.Duration `yaml:"attach_only"`
	AttachOrStartProbe time.Duration `yaml:"attach_or_start_probe_budget"`
	SpawnConnect       time.Duration `yaml:"spawn_connect"`
	StartBudget        time.Duration `yaml:"start_budget"`
	EarlyExitGrace     time.Duration `yaml:"early_exit_grace"`
	ConnectSlice       time.Duration `yaml:"connect_slice"`
	GetStatus          time.Duration `yaml:"get_status"`
	StartSession       time.Duration `yaml:"start_session"`
	StopSession        time.Duration `yaml:"stop_session"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
	StatusPoll         time.Duration `yaml:"status_poll"`
}

// DefaultTimeouts returns the production timeout table.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		AttachProbe:        common.AttachProbeTimeout,
		AttachOnly:         common.AttachOnlyTimeout,
		AttachOrStartProbe: common.AttachOrStartBudget,
		SpawnConnect:       common.SpawnConnectTimeout,
		StartBudget:        common.StartBudget,
		EarlyExitGrace:     common.EarlyExitGrace,
		ConnectSlice:       common.ConnectSlice,
		GetStatus:          common.GetStatusTimeout,
		StartSession:       common.StartSessionTimeout,
		StopSession:        common.StopSessionTimeout,
		ShutdownGrace:      common.ShutdownGrace,
	}
}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		SessionID:         common.DefaultSessionID,
		PipeNamespace:     common.DefaultPipeNamespace,
		AutoReconnect:     true,
		ShowNotifications: true,
		Theme:             common.ThemeAuto,
		Timeouts:          DefaultTimeouts(),
	}
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration from path, creating it with
// default values when it does not exist yet.
func LoadFrom(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}

	return config, nil
}

// validate verifies that configuration values are valid, falling back
// to defaults for values that can be repaired.
func (c *Config) validate() error {
	switch c.Theme {
	case common.ThemeAuto, common.ThemeLight, common.ThemeDark:
	default:
		c.Theme = common.ThemeAuto
	}

	c.SessionID = strings.TrimSpace(c.SessionID)
	if c.SessionID == "" {
		c.SessionID = common.DefaultSessionID
	}
	if strings.ContainsAny(c.SessionID, `/\`) {
		return fmt.Errorf("session_id %q must not contain path separators", c.SessionID)
	}

	c.PipeNamespace = strings.TrimSpace(c.PipeNamespace)
	if c.PipeNamespace == "" {
		c.PipeNamespace = common.DefaultPipeNamespace
	}
	if strings.ContainsAny(c.PipeNamespace, `/\`) {
		return fmt.Errorf("pipe_namespace %q must not contain path separators", c.PipeNamespace)
	}

	return c.Timeouts.fill()
}

// fill replaces zero timeouts with defaults and rejects negative ones.
func (t *Timeouts) fill() error {
	def := DefaultTimeouts()
	fields := []struct {
		name string
		val  *time.Duration
		def  time.Duration
	}{
		{"attach_probe", &t.AttachProbe, def.AttachProbe},
		{"attach_only", &t.AttachOnly, def.AttachOnly},
		{"attach_or_start_probe_budget", &t.AttachOrStartProbe, def.AttachOrStartProbe},
		{"spawn_connect", &t.SpawnConnect, def.SpawnConnect},
		{"start_budget", &t.StartBudget, def.StartBudget},
		{"early_exit_grace", &t.EarlyExitGrace, def.EarlyExitGrace},
		{"connect_slice", &t.ConnectSlice, def.ConnectSlice},
		{"get_status", &t.GetStatus, def.GetStatus},
		{"start_session", &t.StartSession, def.StartSession},
		{"stop_session", &t.StopSession, def.StopSession},
		{"shutdown_grace", &t.ShutdownGrace, def.ShutdownGrace},
		{"status_poll", &t.StatusPoll, 0},
	}
	for _, f := range fields {
		if *f.val < 0 {
			return fmt.Errorf("timeouts.%s must not be negative", f.name)
		}
		if *f.val == 0 {
			*f.val = f.def
		}
	}
	return nil
}

// Save saves the configuration to the default config file.
func (c *Config) Save() error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to path.
func (c *Config) SaveTo(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

// SocketDirectory returns the configured socket directory or the runtime default.
func (c *Config) SocketDirectory() string {
	if c.SocketDir != "" {
		return c.SocketDir
	}
	return common.RuntimeDir()
}

// Path returns the default configuration file path.
func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}
