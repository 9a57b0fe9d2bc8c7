// Package config loads the small bootstrap configuration needed before
// the Store is open. Everything else — the mutable Settings singleton
// described in spec.md §3 — lives in the Store and is only ever
// changed at runtime via POST /api/settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HTTPConfig configures the Web Surface listener.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig locates the bbolt database file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// BootstrapConfig seeds the Settings singleton on first boot only; it
// has no effect once a settings row already exists in the Store.
type BootstrapConfig struct {
	DiskBaseDir         string `yaml:"disk_base_dir"`
	DetectionFramesPath string `yaml:"detection_frames_path"`
}

// Config is the top-level bootstrap configuration file shape.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	LogLevel  string          `yaml:"log_level"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// Load reads and parses a single YAML config file, applying defaults
// for anything left unset.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/nvr.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Bootstrap.DiskBaseDir == "" {
		cfg.Bootstrap.DiskBaseDir = "data/disk"
	}
	if cfg.Bootstrap.DetectionFramesPath == "" {
		cfg.Bootstrap.DetectionFramesPath = "frames"
	}

	return cfg, nil
}
