// Package vpn provides VPN session management functionality.
// This file contains the StartSession payload builder.
package vpn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/yllada/datagate-shell/common"
)

// StartSessionPayload is the body of a StartSession command.
type StartSessionPayload struct {
	OvpnContent      string `json:"ovpnContent"`
	Host             string `json:"host"`
	Port             string `json:"port"`
	Path             string `json:"path"`
	SNI              string `json:"sni"`
	ListenIP         string `json:"listenIp"`
	ListenPort       int    `json:"listenPort"`
	VerifyServerCert bool   `json:"verifyServerCert"`
	Username         string `json:"username,omitempty"`
	Password         string `json:"password,omitempty"`
}

// ProfileLookup finds profiles by ID or name.
type ProfileLookup interface {
	Get(id string) (*Profile, error)
	GetByName(name string) (*Profile, error)
}

// PayloadBuilder assembles StartSession payloads from the active profile,
// the server catalog, and the credential store.
type PayloadBuilder struct {
	profiles    ProfileLookup
	servers     *ServerSelector
	credentials common.CredentialStore
	active      func() string
}

// NewPayloadBuilder creates a builder. active returns the ID or name of the
// profile to start; credentials may be nil when no profile saves a password.
func NewPayloadBuilder(profiles ProfileLookup, servers *ServerSelector, credentials common.CredentialStore, active func() string) *PayloadBuilder {
	return &PayloadBuilder{
		profiles:    profiles,
		servers:     servers,
		credentials: credentials,
		active:      active,
	}
}

// Build returns the payload, or nil when a prerequisite is missing.
func (b *PayloadBuilder) Build(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profile, err := b.activeProfile()
	if err != nil {
		common.LogWarn("Cannot build session payload: %v", err)
		return nil, nil
	}

	content, err := os.ReadFile(profile.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			common.LogWarn("Profile %s config file missing: %s", profile.Name, profile.ConfigPath)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profile config: %w", err)
	}

	if b.servers == nil {
		common.LogWarn("Cannot build session payload: %v", common.ErrNoServer)
		return nil, nil
	}
	server, ok := b.servers.Pick(profile.Server)
	if !ok {
		if profile.Server != "" {
			common.LogWarn("Pinned server %q not in catalog", profile.Server)
		} else {
			common.LogWarn("Cannot build session payload: %v", common.ErrNoServer)
		}
		return nil, nil
	}

	payload := StartSessionPayload{
		OvpnContent:      string(content),
		Host:             server.Host,
		Port:             strconv.Itoa(server.Port),
		Path:             server.Path,
		SNI:              server.SNI,
		ListenIP:         profile.ListenIP,
		ListenPort:       profile.ListenPort,
		VerifyServerCert: profile.VerifyServerCert,
	}
	if payload.ListenIP == "" {
		payload.ListenIP = DefaultListenIP
	}
	if payload.ListenPort == 0 {
		payload.ListenPort = DefaultListenPort
	}

	if profile.SavePassword && profile.Username != "" {
		if b.credentials == nil {
			common.LogWarn("Profile %s saves a password but no credential store is set", profile.Name)
			return nil, nil
		}
		password, err := b.credentials.Get(profile.ID)
		if err != nil {
			if errors.Is(err, common.ErrCredentialsNotFound) {
				common.LogWarn("No saved password for profile %s", profile.Name)
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read credentials: %w", err)
		}
		payload.Username = profile.Username
		payload.Password = password
	}

	common.LogInfo("Session payload: profile=%s server=%s:%d%s", profile.Name, server.Host, server.Port, server.Path)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

func (b *PayloadBuilder) activeProfile() (*Profile, error) {
	key := ""
	if b.active != nil {
		key = b.active()
	}
	if key == "" || b.profiles == nil {
		return nil, errNoActiveProfile
	}
	if p, err := b.profiles.Get(key); err == nil {
		return p, nil
	}
	p, err := b.profiles.GetByName(key)
	if err != nil {
		return nil, fmt.Errorf("active profile %q: %w", key, err)
	}
	return p, nil
}
