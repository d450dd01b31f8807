package security

import (
	"time"

	"homeapps/internal/config"
)

// Config for the security monitor app.
type Config struct {
	Enabled          *bool           `yaml:"enabled"`
	MoistureEntity   string          `yaml:"moisture_entity"`
	MoistureThrottle config.Duration `yaml:"moisture_throttle"`
}

// DefaultConfig alerts at most once per five minutes.
func DefaultConfig() Config {
	return Config{
		MoistureEntity:   "binary_sensor.basement_floor_wet",
		MoistureThrottle: config.Duration(5 * time.Minute),
	}
}

func (c *Config) enabled() bool {
	return c.Enabled == nil || *c.Enabled
}
