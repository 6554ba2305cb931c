// Package vpn provides VPN session management functionality.
// This file contains the Profile and ProfileManager types for managing
// the engine profiles a session can be started with.
package vpn

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/datagate-shell/common"
)

// Common errors returned by profile operations.
var (
	ErrProfileNotFound = common.ErrProfileNotFound
	ErrInvalidConfig   = common.ErrInvalidConfig
	ErrDuplicateName   = common.ErrDuplicateName
)

// Default local listener the engine exposes for the tunnel client.
const (
	DefaultListenIP   = "127.0.0.1"
	DefaultListenPort = 18080
)

// Profile represents an engine session profile.
// It points at an OpenVPN configuration and carries the local listener
// and certificate policy sent to the engine with StartSession.
type Profile struct {
	// ID is a unique identifier for the profile.
	ID string `json:"id" yaml:"id"`
	// Name is a human-readable name for the profile.
	Name string `json:"name" yaml:"name"`
	// ConfigPath is the path to the OpenVPN configuration file.
	ConfigPath string `json:"config_path" yaml:"config_path"`
	// Username is the optional username for authentication.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	// SavePassword indicates whether the password is kept in the keyring.
	SavePassword bool `json:"save_password" yaml:"save_password"`
	// ListenIP and ListenPort are the engine's local listener.
	ListenIP   string `json:"listen_ip,omitempty" yaml:"listen_ip,omitempty"`
	ListenPort int    `json:"listen_port,omitempty" yaml:"listen_port,omitempty"`
	// VerifyServerCert makes the engine verify the server certificate.
	VerifyServerCert bool `json:"verify_server_cert" yaml:"verify_server_cert"`
	// Server pins a catalog server by ID or host. Empty means best available.
	Server string `json:"server,omitempty" yaml:"server,omitempty"`
	// Created is the timestamp when the profile was created.
	Created time.Time `json:"created" yaml:"created"`
	// LastUsed is the timestamp when the profile was last used.
	LastUsed time.Time `json:"last_used,omitempty" yaml:"last_used,omitempty"`
}

// ProfileManager manages engine profiles.
// It handles loading, saving, and manipulating profiles stored on disk.
type ProfileManager struct {
	mu         sync.RWMutex
	profiles   []*Profile
	configDir  string
	configFile string
}

// NewProfileManager creates a ProfileManager rooted at configDir and loads
// existing profiles.
func NewProfileManager(configDir string) (*ProfileManager, error) {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	pm := &ProfileManager{
		profiles:   make([]*Profile, 0),
		configDir:  configDir,
		configFile: filepath.Join(configDir, common.ProfilesFileName),
	}

	if err := pm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	return pm, nil
}

// NewDefaultProfileManager uses the application config directory.
func NewDefaultProfileManager() (*ProfileManager, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return NewProfileManager(dir)
}

// Load loads profiles from the configuration file.
// Returns nil if the file doesn't exist (no profiles yet).
func (pm *ProfileManager) Load() error {
	data, err := os.ReadFile(pm.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	var profiles []*Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}

	pm.mu.Lock()
	pm.profiles = profiles
	pm.mu.Unlock()
	return nil
}

// Save persists profiles to the configuration file.
func (pm *ProfileManager) Save() error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.saveLocked()
}

func (pm *ProfileManager) saveLocked() error {
	data, err := yaml.Marshal(&pm.profiles)
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}

	if err := os.WriteFile(pm.configFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}

	return nil
}

// Add adds a new profile to the manager.
// It validates the configuration file, generates a unique ID,
// and copies the config file to the application's directory.
func (pm *ProfileManager) Add(profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if err := validateConfigFile(profile.ConfigPath); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, p := range pm.profiles {
		if strings.EqualFold(p.Name, profile.Name) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, profile.Name)
		}
	}

	if profile.ID == "" {
		profile.ID = common.GenerateID()
	}
	if profile.ListenIP == "" {
		profile.ListenIP = DefaultListenIP
	}
	if profile.ListenPort == 0 {
		profile.ListenPort = DefaultListenPort
	}
	profile.Created = time.Now()

	configsDir := filepath.Join(pm.configDir, "configs")
	if err := os.MkdirAll(configsDir, 0700); err != nil {
		return fmt.Errorf("failed to create configs directory: %w", err)
	}

	destPath := filepath.Join(configsDir, profile.ID+".ovpn")
	if err := copyFile(profile.ConfigPath, destPath); err != nil {
		return fmt.Errorf("failed to copy config file: %w", err)
	}

	profile.ConfigPath = destPath
	pm.profiles = append(pm.profiles, profile)

	return pm.saveLocked()
}

// Remove removes a profile by ID and deletes its copied configuration file.
func (pm *ProfileManager) Remove(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i, profile := range pm.profiles {
		if profile.ID == id {
			if err := os.Remove(profile.ConfigPath); err != nil && !os.IsNotExist(err) {
				common.LogWarn("Failed to remove config for profile %s: %v", profile.Name, err)
			}

			pm.profiles = append(pm.profiles[:i], pm.profiles[i+1:]...)
			return pm.saveLocked()
		}
	}
	return ErrProfileNotFound
}

// Get retrieves a copy of a profile by ID.
func (pm *ProfileManager) Get(id string) (*Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for _, profile := range pm.profiles {
		if profile.ID == id {
			cp := *profile
			return &cp, nil
		}
	}
	return nil, ErrProfileNotFound
}

// GetByName retrieves a copy of a profile by name.
func (pm *ProfileManager) GetByName(name string) (*Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for _, profile := range pm.profiles {
		if profile.Name == name {
			cp := *profile
			return &cp, nil
		}
	}
	return nil, ErrProfileNotFound
}

// List returns copies of all profiles.
func (pm *ProfileManager) List() []*Profile {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]*Profile, len(pm.profiles))
	for i, p := range pm.profiles {
		cp := *p
		out[i] = &cp
	}
	return out
}

// Update updates an existing profile.
func (pm *ProfileManager) Update(profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	for i, p := range pm.profiles {
		if p.ID == profile.ID {
			cp := *profile
			pm.profiles[i] = &cp
			return pm.saveLocked()
		}
	}
	return ErrProfileNotFound
}

// MarkUsed updates the LastUsed timestamp for a profile.
func (pm *ProfileManager) MarkUsed(id string) error {
	profile, err := pm.Get(id)
	if err != nil {
		return err
	}
	profile.LastUsed = time.Now()
	return pm.Update(profile)
}

// validateConfigFile checks if the given file is a valid OpenVPN configuration.
func validateConfigFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}

	if info.IsDir() {
		return ErrInvalidConfig
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ovpn" && ext != ".conf" {
		return fmt.Errorf("%w: expected .ovpn or .conf extension", ErrInvalidConfig)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	requiredDirectives := []string{"remote", "client"}
	hasRequired := false
	for _, directive := range requiredDirectives {
		if strings.Contains(content, directive) {
			hasRequired = true
			break
		}
	}

	if !hasRequired {
		return fmt.Errorf("%w: missing required OpenVPN directives", ErrInvalidConfig)
	}

	return nil
}

// copyFile copies a file from src to dst with secure permissions.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	return nil
}

// ToJSON converts the profile to a JSON string.
// Useful for debugging and logging.
func (p *Profile) ToJSON() string {
	data, _ := json.MarshalIndent(p, "", "  ")
	return string(data)
}

// Validate checks if the profile has all required fields.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: profile name is required", common.ErrInvalidProfile)
	}
	if p.ConfigPath == "" {
		return fmt.Errorf("%w: config path is required", common.ErrInvalidProfile)
	}
	if p.ListenIP != "" && net.ParseIP(p.ListenIP) == nil {
		return fmt.Errorf("%w: listen ip %q", common.ErrInvalidProfile, p.ListenIP)
	}
	if p.ListenPort < 0 || p.ListenPort > 65535 {
		return fmt.Errorf("%w: listen port %d", common.ErrInvalidProfile, p.ListenPort)
	}
	return nil
}

var errNoActiveProfile = errors.New("no active profile")
