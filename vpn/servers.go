// Package vpn provides VPN session management functionality.
// This file contains the server catalog and the WSS server selector used
// to pick the relay host a session is started against.
package vpn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"

	"github.com/yllada/datagate-shell/common"
)

// Defaults applied to catalog entries that leave fields empty.
const (
	DefaultServerPort = 443
	DefaultServerPath = "/api/proxy"
)

// Server is one relay server known to the shell.
type Server struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
	SNI     string `json:"sni"`
	WSS     bool   `json:"wss"`
	Online  bool   `json:"online"`
	Clients int    `json:"clients"`
}

// ServerCatalog holds the servers read from servers.jsonc.
type ServerCatalog struct {
	Servers []Server `json:"servers"`
}

// DefaultServersPath returns the catalog location under the config directory.
func DefaultServersPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ServersFileName), nil
}

// LoadServerCatalog reads a catalog file. Comments and trailing commas are
// allowed. A missing file yields an empty catalog.
func LoadServerCatalog(path string) (*ServerCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ServerCatalog{}, nil
		}
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}
	return ParseServerCatalog(data)
}

// ParseServerCatalog decodes catalog content in JSON-with-comments form.
func ParseServerCatalog(data []byte) (*ServerCatalog, error) {
	var catalog ServerCatalog
	if err := json.Unmarshal(jsonc.ToJSON(data), &catalog); err != nil {
		return nil, fmt.Errorf("%w: servers file: %v", common.ErrConfigLoad, err)
	}

	for i := range catalog.Servers {
		s := &catalog.Servers[i]
		if s.ID == "" {
			s.ID = s.Host
		}
		if s.Port == 0 {
			s.Port = DefaultServerPort
		}
		if s.Path == "" {
			s.Path = DefaultServerPath
		}
		if s.SNI == "" {
			s.SNI = s.Host
		}
	}
	return &catalog, nil
}

// Find returns the server whose ID or host matches key.
func (c *ServerCatalog) Find(key string) (Server, bool) {
	for _, s := range c.Servers {
		if s.ID == key || strings.EqualFold(s.Host, key) {
			return s, true
		}
	}
	return Server{}, false
}

// Ranked returns the WSS-enabled servers, online first, then by client count.
func (c *ServerCatalog) Ranked() []Server {
	ranked := make([]Server, 0, len(c.Servers))
	for _, s := range c.Servers {
		if s.WSS && s.Host != "" {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Online != ranked[j].Online {
			return ranked[i].Online
		}
		return ranked[i].Clients > ranked[j].Clients
	})
	return ranked
}

// ServerSelector picks a WSS server, rotating through the ranked list on
// every call so repeated reconnects spread over the available servers.
type ServerSelector struct {
	mu      sync.Mutex
	catalog *ServerCatalog
	lastID  string
}

// NewServerSelector creates a selector over catalog.
func NewServerSelector(catalog *ServerCatalog) *ServerSelector {
	return &ServerSelector{catalog: catalog}
}

// SetCatalog swaps the catalog, keeping the rotation position by server ID.
func (s *ServerSelector) SetCatalog(catalog *ServerCatalog) {
	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
}

// Pick returns the pinned server when pinned is set, else the next best one.
func (s *ServerSelector) Pick(pinned string) (Server, bool) {
	if pinned == "" {
		return s.Best()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog == nil {
		return Server{}, false
	}
	return s.catalog.Find(pinned)
}

// Best returns the next server to use, or false when no WSS server exists.
func (s *ServerSelector) Best() (Server, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.catalog == nil {
		return Server{}, false
	}
	ranked := s.catalog.Ranked()
	if len(ranked) == 0 {
		return Server{}, false
	}

	index := 0
	if s.lastID != "" && len(ranked) > 1 {
		for i, srv := range ranked {
			if srv.ID == s.lastID {
				index = (i + 1) % len(ranked)
				break
			}
		}
	}

	selected := ranked[index]
	s.lastID = selected.ID
	return selected, true
}
