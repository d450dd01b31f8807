package app

import (
	"time"

	"homeapps/internal/bus"
	"homeapps/internal/cache"
	"homeapps/internal/config"
	"homeapps/internal/daylight"
	"homeapps/internal/ha"
	"homeapps/internal/scheduler"
	"homeapps/internal/store"

	"go.uber.org/zap"
)

// Context provides runtime services to apps during creation. Apps should
// take what they need in their constructor rather than hold the Context.
type Context struct {
	// HA issues commands against the automation host.
	HA ha.HAClient

	// Bus registers event subscriptions.
	Bus *bus.Bus

	// Scheduler registers named time-based jobs.
	Scheduler *scheduler.Scheduler

	// Store reads current entity state without a host round trip.
	Store *store.Store

	// Cache persists small values across restarts.
	Cache *cache.Cache

	// Config exposes per-app configuration sections.
	Config *config.Config

	// Daylight computes sunrise/sunset for the configured site.
	Daylight *daylight.Calculator

	// Logger is the root logger; apps should use Logger.Named(app).
	Logger *zap.Logger

	// ReadOnly makes apps log intended commands without issuing them.
	ReadOnly bool

	// Timezone for wall-clock logic.
	Timezone *time.Location
}
