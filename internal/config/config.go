package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the typetag.yaml configuration.
type Config struct {
	// Bottom is the name of the bottom type marker.
	Bottom string `yaml:"bottom,omitempty"`

	// Top is the name of the top type marker.
	Top string `yaml:"top,omitempty"`

	// MaxVisited caps the number of (self, other) pairs a subtype query may
	// keep on its visited stack before giving up with false.
	MaxVisited int `yaml:"max_visited,omitempty"`

	// Cache enables the append-only result cache of the subtype engine.
	Cache *bool `yaml:"cache,omitempty"`

	// Trace logs every subtype step to stderr.
	Trace bool `yaml:"trace,omitempty"`

	// Store is the path of the SQLite database used by save/load.
	Store string `yaml:"store,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FindConfig searches dir and its parents for typetag.yaml (or .yml).
// Returns "" without error when none exists up to the filesystem root.
func FindConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}
	alt := strings.TrimSuffix(DefaultConfigFile, ".yaml") + ".yml"
	for {
		for _, name := range []string{DefaultConfigFile, alt} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// ParseConfig parses YAML config bytes, applies defaults and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bottom == "" {
		c.Bottom = NothingTypeName
	}
	if c.Top == "" {
		c.Top = AnyTypeName
	}
	if c.MaxVisited == 0 {
		c.MaxVisited = DefaultMaxVisited
	}
	if c.Cache == nil {
		on := true
		c.Cache = &on
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.MaxVisited < 0 {
		return fmt.Errorf("max_visited must be positive, got %d", c.MaxVisited)
	}
	if c.Bottom == c.Top {
		return fmt.Errorf("bottom and top markers must differ (both %q)", c.Bottom)
	}
	return nil
}

// CacheEnabled reports whether the result cache is on.
func (c *Config) CacheEnabled() bool {
	return c.Cache == nil || *c.Cache
}
