// Package config loads the YAML configuration for the capnweb CLI's serve
// command, grounded on the KiwiAgentConfig parser pattern used elsewhere in
// the example corpus.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level serve configuration.
type Config struct {
	Listen      string        `yaml:"listen"`
	Transport   string        `yaml:"transport"` // "tcp", "ws", or "batch"
	LogPath     string        `yaml:"log_path"`
	MetricsAddr string        `yaml:"metrics_addr"`
	CallTimeout time.Duration `yaml:"-"`
}

// rawConfig mirrors Config but keeps call_timeout as the string yaml.v3
// decodes it to, since time.Duration has no YAML unmarshaler of its own.
type rawConfig struct {
	Listen      string `yaml:"listen"`
	Transport   string `yaml:"transport"`
	LogPath     string `yaml:"log_path"`
	MetricsAddr string `yaml:"metrics_addr"`
	CallTimeout string `yaml:"call_timeout"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Listen:      ":9090",
		Transport:   "tcp",
		CallTimeout: 30 * time.Second,
	}
}

// Parse reads and validates a Config from f, the pattern mirrored from
// KiwiConfigParser: open the file, decode the YAML, apply defaults for
// anything left zero.
func Parse(f *os.File) (*Config, error) {
	cfg := Default()
	raw := rawConfig{Listen: cfg.Listen, Transport: cfg.Transport, CallTimeout: cfg.CallTimeout.String()}

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", f.Name(), err)
	}

	cfg.Listen = raw.Listen
	cfg.Transport = raw.Transport
	cfg.LogPath = raw.LogPath
	cfg.MetricsAddr = raw.MetricsAddr
	if raw.CallTimeout != "" {
		d, err := time.ParseDuration(raw.CallTimeout)
		if err != nil {
			return nil, fmt.Errorf("config: invalid call_timeout %q: %w", raw.CallTimeout, err)
		}
		cfg.CallTimeout = d
	}

	if cfg.Transport != "tcp" && cfg.Transport != "ws" && cfg.Transport != "batch" {
		return nil, fmt.Errorf("config: unsupported transport %q", cfg.Transport)
	}
	return cfg, nil
}

// Load opens path and parses it as a Config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}
