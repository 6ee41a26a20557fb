// Package config loads patrolctl configuration from a YAML file and applies
// defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML file shape. Durations are strings ("30s", "10m").
type FileConfig struct {
	// ServerURL is the monitoring server base URL
	ServerURL string `yaml:"server_url"`
	// APIToken authenticates against the server (empty disables auth)
	APIToken string `yaml:"api_token,omitempty"`
	// StreamURL overrides the derived WebSocket endpoint
	StreamURL string `yaml:"stream_url,omitempty"`

	Poll struct {
		// Full is the coarse full-refresh interval
		Full string `yaml:"full,omitempty"`
		// Approvals is the fine pending-approvals interval
		Approvals string `yaml:"approvals,omitempty"`
	} `yaml:"poll,omitempty"`

	// SafetyTimeout bounds how long a manual run may await stream confirmation
	SafetyTimeout string `yaml:"safety_timeout,omitempty"`
	// BlockedFreshness is how long a server-reported blocked reason is honored
	BlockedFreshness string `yaml:"blocked_freshness,omitempty"`
	// HistoryLimit caps fetched run history length
	HistoryLimit int `yaml:"history_limit,omitempty"`
}

// Config is the resolved runtime configuration.
type Config struct {
	ServerURL         string
	APIToken          string
	StreamURL         string
	FullInterval      time.Duration
	ApprovalsInterval time.Duration
	SafetyTimeout     time.Duration
	BlockedFreshness  time.Duration
	HistoryLimit      int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerURL:         "http://localhost:7655",
		FullInterval:      30 * time.Second,
		ApprovalsInterval: 5 * time.Second,
		SafetyTimeout:     15 * time.Second,
		BlockedFreshness:  10 * time.Minute,
		HistoryLimit:      50,
	}
}

// Load reads a YAML config file and overlays it on the defaults. An empty
// path returns the defaults with a derived stream URL.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		var fc FileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return cfg, fmt.Errorf("parsing YAML: %w", err)
		}
		if err := fc.overlay(&cfg); err != nil {
			return cfg, err
		}
	}
	if cfg.StreamURL == "" {
		streamURL, err := DeriveStreamURL(cfg.ServerURL)
		if err != nil {
			return cfg, err
		}
		cfg.StreamURL = streamURL
	}
	return cfg, nil
}

func (fc *FileConfig) overlay(cfg *Config) error {
	if fc.ServerURL != "" {
		cfg.ServerURL = strings.TrimRight(fc.ServerURL, "/")
	}
	if fc.APIToken != "" {
		cfg.APIToken = fc.APIToken
	}
	if fc.StreamURL != "" {
		cfg.StreamURL = fc.StreamURL
	}
	if fc.HistoryLimit > 0 {
		cfg.HistoryLimit = fc.HistoryLimit
	}

	for _, d := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{fc.Poll.Full, "poll.full", &cfg.FullInterval},
		{fc.Poll.Approvals, "poll.approvals", &cfg.ApprovalsInterval},
		{fc.SafetyTimeout, "safety_timeout", &cfg.SafetyTimeout},
		{fc.BlockedFreshness, "blocked_freshness", &cfg.BlockedFreshness},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("invalid %s %q: must be positive", d.name, d.raw)
		}
		*d.dst = parsed
	}
	return nil
}

// DeriveStreamURL maps the server base URL onto the patrol lifecycle
// WebSocket endpoint (http → ws, https → wss).
func DeriveStreamURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme %q", serverURL, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ai/patrol/stream"
	return u.String(), nil
}
