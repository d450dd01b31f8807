package climate

import (
	"time"

	"homeapps/internal/config"
)

// Config for the climate app.
type Config struct {
	Enabled       *bool           `yaml:"enabled"`
	TempThreshold float64         `yaml:"temp_threshold"`
	ACSwitch      string          `yaml:"ac_switch"`
	ClimateEntity string          `yaml:"climate_entity"`
	CheckInterval config.Duration `yaml:"check_interval"`
}

// DefaultConfig returns the demo-entity defaults.
func DefaultConfig() Config {
	return Config{
		TempThreshold: 24.0,
		ACSwitch:      "switch.ac",
		ClimateEntity: "climate.hvac",
		CheckInterval: config.Duration(5 * time.Minute),
	}
}

func (c *Config) enabled() bool {
	return c.Enabled == nil || *c.Enabled
}
