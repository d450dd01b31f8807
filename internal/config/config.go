// Package config loads the runtime configuration file. Each app owns the
// schema of its own section; the loader keeps sections as raw YAML nodes
// and apps decode them on startup.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the parsed configuration file.
type Config struct {
	Timezone  string  `yaml:"timezone"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`

	HTTP struct {
		Port int `yaml:"port"`
	} `yaml:"http"`

	Cache struct {
		Path string `yaml:"path"`
	} `yaml:"cache"`

	// Apps maps app name to its raw configuration section.
	Apps map[string]yaml.Node `yaml:"apps"`

	location *time.Location
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string, logger *zap.Logger) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("No config file found, using defaults", zap.String("path", path))
			return cfg.applyDefaults()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	logger.Info("Configuration loaded",
		zap.String("path", path),
		zap.Int("app_sections", len(cfg.Apps)))

	return cfg.applyDefaults()
}

func (c *Config) applyDefaults() (*Config, error) {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8126
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "data/cache.db"
	}
	if c.Apps == nil {
		c.Apps = make(map[string]yaml.Node)
	}

	if c.Timezone == "" {
		c.location = time.Local
	} else {
		location, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
		c.location = location
	}

	return c, nil
}

// Location returns the configured timezone.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// AppSection decodes an app's configuration section into dest. Returns
// false when the section is absent, leaving dest untouched so the app's
// defaults apply.
func (c *Config) AppSection(name string, dest interface{}) (bool, error) {
	node, ok := c.Apps[name]
	if !ok || node.IsZero() {
		return false, nil
	}
	if err := node.Decode(dest); err != nil {
		return false, fmt.Errorf("invalid %s config: %w", name, err)
	}
	return true, nil
}

// Duration is a time.Duration that decodes from either a Go duration
// string ("90s", "5m") or a bare number of seconds, matching the host
// framework's convention.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var seconds float64
	if err := node.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}

	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ClockTime is an "HH:MM" wall-clock time.
type ClockTime struct {
	Hour   int
	Minute int
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ClockTime) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("invalid clock time %q", node.Value)
	}
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		return fmt.Errorf("invalid clock time %q: %w", raw, err)
	}
	t.Hour = parsed.Hour()
	t.Minute = parsed.Minute()
	return nil
}
