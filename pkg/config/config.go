// Package config loads relayprobe settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codeGROOVE-dev/relayprobe/pkg/nip11"
	"github.com/codeGROOVE-dev/relayprobe/pkg/probe"
	"github.com/codeGROOVE-dev/relayprobe/pkg/req"
)

// Environment overrides.
const (
	EnvKeyFile  = "RELAYPROBE_KEY_FILE"
	EnvLogLevel = "RELAYPROBE_LOG_LEVEL"
)

const dirName = "relayprobe"

// Config holds every tunable of the CLI.
type Config struct {
	KeyFile           string        `yaml:"key_file"`
	LogLevel          string        `yaml:"log_level"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	MetadataTimeout   time.Duration `yaml:"metadata_timeout"`
	InboxCapacity     int           `yaml:"inbox_capacity"`
	MaxAuthChallenges int           `yaml:"max_auth_challenges"`
	Color             bool          `yaml:"color"`
}

// Default returns the built-in settings.
func Default() *Config {
	cfg := &Config{
		LogLevel:          "warn",
		ConnectTimeout:    probe.DefaultConnectTimeout,
		PingInterval:      probe.DefaultPingInterval,
		MetadataTimeout:   nip11.DefaultTimeout,
		InboxCapacity:     probe.DefaultCapacity,
		MaxAuthChallenges: req.DefaultMaxChallenges,
		Color:             true,
	}
	if dir, err := os.UserConfigDir(); err == nil {
		cfg.KeyFile = filepath.Join(dir, dirName, "epk")
	}
	return cfg
}

// DefaultPath is the config file location, under os.UserConfigDir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dirName, "config.yaml"), nil
}

// Load reads path over the defaults. A missing file, or an empty path, is
// not an error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv(EnvKeyFile); v != "" {
		cfg.KeyFile = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the probe cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	case c.PingInterval <= 0:
		return fmt.Errorf("ping_interval must be positive, got %s", c.PingInterval)
	case c.MetadataTimeout <= 0:
		return fmt.Errorf("metadata_timeout must be positive, got %s", c.MetadataTimeout)
	case c.InboxCapacity <= 0:
		return fmt.Errorf("inbox_capacity must be positive, got %d", c.InboxCapacity)
	case c.MaxAuthChallenges <= 0:
		return fmt.Errorf("max_auth_challenges must be positive, got %d", c.MaxAuthChallenges)
	}
	return nil
}
