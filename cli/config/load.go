package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands environment variables, and
// validates the document before returning it. A structurally broken
// config fails at load time rather than mid-pipeline.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the YAML schema cannot
// express. Model versions and checksums are validated later when the
// descriptor is built; this catches what would otherwise surface as a
// confusing pipeline abort.
func (c *Config) Validate() error {
	for name, m := range c.Models {
		if m.Source == "" {
			return fmt.Errorf("config: model %q has no source", name)
		}
	}
	if c.Retention.MaxBackups < 0 {
		return fmt.Errorf("config: retention.max_backups must be >= 0, got %d", c.Retention.MaxBackups)
	}
	switch c.Adapter.Type {
	case "", "redis", "webhook":
	default:
		return fmt.Errorf("config: unknown adapter type %q", c.Adapter.Type)
	}
	return nil
}
