package presence

import (
	"fmt"
	"time"

	"homeapps/internal/config"
)

// InstanceConfig configures presence tracking for one person.
type InstanceConfig struct {
	TrackerEntity  string          `yaml:"tracker_entity"`
	PersonName     string          `yaml:"person_name"`
	StatusInterval config.Duration `yaml:"status_interval"`
}

// DefaultInstance returns the demo-entity defaults.
func DefaultInstance() InstanceConfig {
	return InstanceConfig{
		TrackerEntity:  "device_tracker.demo_paulus",
		PersonName:     "Unknown",
		StatusInterval: config.Duration(2 * time.Minute),
	}
}

func (c *InstanceConfig) normalize(index int) error {
	defaults := DefaultInstance()
	if c.TrackerEntity == "" {
		c.TrackerEntity = defaults.TrackerEntity
	}
	if c.PersonName == "" {
		c.PersonName = fmt.Sprintf("person%d", index)
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = defaults.StatusInterval
	}
	return nil
}
