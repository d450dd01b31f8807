package covers

import (
	"homeapps/internal/config"
)

// Config for the cover scheduler app.
type Config struct {
	Enabled     *bool            `yaml:"enabled"`
	MorningOpen config.ClockTime `yaml:"morning_open"`
	NightClose  config.ClockTime `yaml:"night_close"`
}

// DefaultConfig opens at 07:30 on weekdays and closes at 22:00.
func DefaultConfig() Config {
	return Config{
		MorningOpen: config.ClockTime{Hour: 7, Minute: 30},
		NightClose:  config.ClockTime{Hour: 22, Minute: 0},
	}
}

func (c *Config) enabled() bool {
	return c.Enabled == nil || *c.Enabled
}
