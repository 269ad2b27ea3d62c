// Package config reads and writes the hubsync TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/communityhub/hubsync/internal/model"
)

// Defaults applied by Load when a field is absent.
const (
	DefaultSendTimeoutSeconds = 10
	DefaultHistoryPageSize    = 50
)

// Config represents the global ~/.hubsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// Hub server endpoints and credentials.
	ServerURL string `toml:"server_url"` // REST base, e.g. https://hub.example.com/api
	WSURL     string `toml:"ws_url"`     // STOMP websocket, e.g. wss://hub.example.com/ws/websocket
	Token     string `toml:"token"`      // bearer token for REST and STOMP CONNECT

	// Identity and scope for this session.
	UserID      model.UserID `toml:"user_id"`
	CommunityID int64        `toml:"community_id"`

	// Tunables.
	SendTimeoutSeconds int `toml:"send_timeout_seconds"`
	HistoryPageSize    int `toml:"history_page_size"`
}

// Load reads config from the given path and fills defaults for absent
// tunables. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.SendTimeoutSeconds <= 0 {
		cfg.SendTimeoutSeconds = DefaultSendTimeoutSeconds
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = DefaultHistoryPageSize
	}
	return &cfg, nil
}

// Validate checks the fields required to run a session daemon.
func (c *Config) Validate() error {
	switch {
	case c.ServerURL == "":
		return fmt.Errorf("config: server_url is required")
	case c.WSURL == "":
		return fmt.Errorf("config: ws_url is required")
	case c.UserID == 0:
		return fmt.Errorf("config: user_id is required")
	case c.CommunityID == 0:
		return fmt.Errorf("config: community_id is required")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
// The file is written 0600 since it carries the bearer token.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
