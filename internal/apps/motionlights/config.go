package motionlights

import (
	"fmt"
	"time"

	"homeapps/internal/config"
)

// InstanceConfig configures one motion sensor / light pairing.
type InstanceConfig struct {
	Name              string          `yaml:"name"`
	MotionEntity      string          `yaml:"motion_entity"`
	LightEntity       string          `yaml:"light_entity"`
	BoostBrightness   int             `yaml:"boost_brightness"`
	DefaultBrightness int             `yaml:"default_brightness"`
	OffDelay          config.Duration `yaml:"off_delay"`
}

// DefaultInstance returns the demo-entity defaults.
func DefaultInstance() InstanceConfig {
	return InstanceConfig{
		Name:              "default",
		MotionEntity:      "binary_sensor.movement_backyard",
		LightEntity:       "light.kitchen_lights",
		BoostBrightness:   255,
		DefaultBrightness: 100,
		OffDelay:          config.Duration(60 * time.Second),
	}
}

// normalize fills defaults and validates one instance.
func (c *InstanceConfig) normalize(index int) error {
	defaults := DefaultInstance()
	if c.Name == "" {
		c.Name = fmt.Sprintf("instance%d", index)
	}
	if c.MotionEntity == "" {
		c.MotionEntity = defaults.MotionEntity
	}
	if c.LightEntity == "" {
		c.LightEntity = defaults.LightEntity
	}
	if c.BoostBrightness == 0 {
		c.BoostBrightness = defaults.BoostBrightness
	}
	if c.DefaultBrightness == 0 {
		c.DefaultBrightness = defaults.DefaultBrightness
	}
	if c.OffDelay == 0 {
		c.OffDelay = defaults.OffDelay
	}
	if c.BoostBrightness < 0 || c.BoostBrightness > 255 {
		return fmt.Errorf("instance %s: boost_brightness %d out of range", c.Name, c.BoostBrightness)
	}
	return nil
}
