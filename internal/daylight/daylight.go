// Package daylight computes sunrise and sunset for the configured site.
// Apps use it when the host's sun entity is missing or lacks the
// attribute they need.
package daylight

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Calculator computes sun times for a fixed location.
type Calculator struct {
	latitude  float64
	longitude float64
}

// NewCalculator creates a calculator for the given coordinates.
func NewCalculator(latitude, longitude float64) *Calculator {
	return &Calculator{latitude: latitude, longitude: longitude}
}

// SunTimes returns sunrise and sunset for the day containing t, in t's
// location.
func (c *Calculator) SunTimes(t time.Time) (time.Time, time.Time) {
	rise, set := sunrise.SunriseSunset(c.latitude, c.longitude, t.Year(), t.Month(), t.Day())
	return rise.In(t.Location()), set.In(t.Location())
}

// NextSetting returns the first sunset after t.
func (c *Calculator) NextSetting(t time.Time) time.Time {
	_, set := c.SunTimes(t)
	if set.After(t) {
		return set
	}
	_, set = c.SunTimes(t.AddDate(0, 0, 1))
	return set
}

// IsDaylight reports whether t falls between sunrise and sunset.
func (c *Calculator) IsDaylight(t time.Time) bool {
	rise, set := c.SunTimes(t)
	return t.After(rise) && t.Before(set)
}
