// Package config handles snatch configuration from YAML files and the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/snatch/engine"
)

// Environment overrides.
const (
	EnvConfig       = "SNATCH_CONFIG"
	EnvControlAddr  = "SNATCH_CONTROL_ADDR"
	EnvControlToken = "SNATCH_CONTROL_TOKEN"
)

// Config is the top-level snatch configuration.
type Config struct {
	Browser       BrowserConfig       `yaml:"browser"`
	Page          PageConfig          `yaml:"page"`
	Engine        engine.Config       `yaml:"engine"`
	Store         StoreConfig         `yaml:"store"`
	Control       ControlConfig       `yaml:"control"`
	Sinks         []SinkConfig        `yaml:"sinks"`
	Observability ObservabilityConfig `yaml:"observability"`
	LogLevel      string              `yaml:"log_level"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	UserDataDir      string        `yaml:"user_data_dir"` // keeps the messaging login across restarts
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Mode             string        `yaml:"mode"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig names the page the engine runs against.
type PageConfig struct {
	URL         string        `yaml:"url"`
	LoadTimeout time.Duration `yaml:"load_timeout"`
	CallTimeout time.Duration `yaml:"call_timeout"` // per DOM call on the live tab
	WatchPoll   time.Duration `yaml:"watch_poll"`   // reload detection interval
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ControlConfig configures the HTTP and MCP control surface.
type ControlConfig struct {
	Addr      string `yaml:"addr"`
	TokenHash string `yaml:"token_hash"` // bcrypt; empty disables auth
	// Token is a plaintext token, only read from the environment.
	Token string `yaml:"-"`
}

// SinkConfig defines an event output backend.
type SinkConfig struct {
	Type    string            `yaml:"type"` // stdout | webhook | eventlog
	URL     string            `yaml:"url"`  // for webhook
	Headers map[string]string `yaml:"headers"`
	Retries int               `yaml:"retries"`
}

// ObservabilityConfig tunes the SQLite event log and heartbeat.
type ObservabilityConfig struct {
	Heartbeat time.Duration `yaml:"heartbeat"`
	Retention time.Duration `yaml:"retention"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the file named by path, or by SNATCH_CONFIG when path is
// empty, then applies environment overrides. With neither set the
// defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvControlAddr); v != "" {
		c.Control.Addr = v
	}
	if v := getenv(EnvControlToken); v != "" {
		c.Control.Token = v
	}
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headful"
	}
	if c.Page.URL == "" {
		c.Page.URL = "https://web.whatsapp.com"
	}
	if c.Page.LoadTimeout <= 0 {
		c.Page.LoadTimeout = 60 * time.Second
	}
	if c.Page.CallTimeout <= 0 {
		c.Page.CallTimeout = 5 * time.Second
	}
	if c.Page.WatchPoll <= 0 {
		c.Page.WatchPoll = 2 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = "snatch.db"
	}
	if c.Control.Addr == "" {
		c.Control.Addr = "127.0.0.1:8765"
	}
	if c.Observability.Heartbeat <= 0 {
		c.Observability.Heartbeat = 30 * time.Second
	}
	if c.Observability.Retention <= 0 {
		c.Observability.Retention = 30 * 24 * time.Hour
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Sinks {
		c.Sinks[i].Type = strings.ToLower(c.Sinks[i].Type)
		if c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

func (c *Config) validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout", "eventlog":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
