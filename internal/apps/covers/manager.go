// Package covers automates cover positions on a daily schedule: weekday
// morning opens, nightly closes, hourly position logging, and a one-time
// sun report shortly after startup. Last-known positions persist across
// restarts through the cache.
package covers

import (
	"errors"
	"fmt"
	"time"

	"homeapps/internal/bus"
	"homeapps/internal/cache"
	"homeapps/internal/daylight"
	"homeapps/internal/ha"
	"homeapps/internal/scheduler"
	"homeapps/internal/store"

	"go.uber.org/zap"
)

const (
	appName = "covers"

	// cacheKeyPositions is where last-known cover positions persist.
	cacheKeyPositions = "last_cover_positions"

	sunEntity = "sun.sun"
)

// Manager schedules cover open/close and tracks positions.
type Manager struct {
	haClient ha.HAClient
	eventBus *bus.Bus
	jobs     *scheduler.Scheduler
	snapshot *store.Store
	kv       *cache.Cache
	sun      *daylight.Calculator
	logger   *zap.Logger
	cfg      Config
	readOnly bool
	subs     []*bus.Subscription
}

// NewManager creates a cover scheduler.
func NewManager(haClient ha.HAClient, eventBus *bus.Bus, jobs *scheduler.Scheduler, snapshot *store.Store, kv *cache.Cache, sun *daylight.Calculator, cfg Config, logger *zap.Logger, readOnly bool) *Manager {
	return &Manager{
		haClient: haClient,
		eventBus: eventBus,
		jobs:     jobs,
		snapshot: snapshot,
		kv:       kv,
		sun:      sun,
		logger:   logger.Named(appName),
		cfg:      cfg,
		readOnly: readOnly,
	}
}

// Name implements app.App.
func (m *Manager) Name() string {
	return appName
}

// Start restores cached positions and registers schedules and
// subscriptions.
func (m *Manager) Start() error {
	m.logger.Info("Starting cover scheduler")

	var cached map[string]string
	err := m.kv.Get(cacheKeyPositions, &cached)
	switch {
	case err == nil:
		m.logger.Info("Restored cached cover positions", zap.Any("positions", cached))
	case errors.Is(err, cache.ErrNotFound):
		m.logger.Debug("No cached cover positions")
	default:
		m.logger.Warn("Failed to read cached cover positions", zap.Error(err))
	}

	err = m.jobs.RunCron("morning_open", scheduler.CronSpec{
		Minute:    m.cfg.MorningOpen.Minute,
		Hour:      m.cfg.MorningOpen.Hour,
		DayOfWeek: "1-5",
	}, m.openAllCovers)
	if err != nil {
		return fmt.Errorf("failed to schedule morning open: %w", err)
	}

	if err := m.jobs.RunDaily("night_close", m.cfg.NightClose.Hour, m.cfg.NightClose.Minute, m.closeAllCovers); err != nil {
		return fmt.Errorf("failed to schedule night close: %w", err)
	}

	if err := m.jobs.RunHourly("position_log", m.logPositions); err != nil {
		return fmt.Errorf("failed to schedule position log: %w", err)
	}

	if err := m.jobs.RunIn("startup_sun_report", 10*time.Second, m.reportSunState); err != nil {
		return fmt.Errorf("failed to schedule sun report: %w", err)
	}

	sub, err := m.eventBus.Subscribe("cover.*", m.onCoverChange, bus.Owner(appName))
	if err != nil {
		return fmt.Errorf("failed to subscribe to cover changes: %w", err)
	}
	m.subs = append(m.subs, sub)

	// Fires exactly once, on the sun entity's first transition.
	sub, err = m.eventBus.Subscribe(sunEntity, m.onSunFirstChange, bus.Once(), bus.Owner(appName))
	if err != nil {
		return fmt.Errorf("failed to subscribe to sun changes: %w", err)
	}
	m.subs = append(m.subs, sub)

	return nil
}

// Stop persists positions and tears down schedules and subscriptions.
func (m *Manager) Stop() {
	positions := m.coverPositions()
	if err := m.kv.Set(cacheKeyPositions, positions); err != nil {
		m.logger.Error("Failed to persist cover positions", zap.Error(err))
	} else {
		m.logger.Info("Saved cover positions to cache", zap.Any("positions", positions))
	}

	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.subs = nil

	for _, job := range []string{"morning_open", "night_close", "position_log", "startup_sun_report"} {
		m.jobs.Cancel(job)
	}
	m.logger.Info("Cover scheduler stopped")
}

// openAllCovers opens every cover the host knows about.
func (m *Manager) openAllCovers() {
	m.logger.Info("Opening all covers (weekday morning schedule)")
	for _, cover := range m.snapshot.Domain("cover") {
		m.logger.Info("Opening cover",
			zap.String("entity_id", cover.EntityID),
			zap.String("current", cover.State))
		m.callCoverService("open_cover", cover.EntityID)
	}
}

// closeAllCovers closes every cover.
func (m *Manager) closeAllCovers() {
	m.logger.Info("Closing all covers (nightly schedule)")
	for _, cover := range m.snapshot.Domain("cover") {
		m.logger.Info("Closing cover",
			zap.String("entity_id", cover.EntityID),
			zap.String("current", cover.State))
		m.callCoverService("close_cover", cover.EntityID)
	}
}

func (m *Manager) callCoverService(service, entityID string) {
	if m.readOnly {
		m.logger.Info("Read-only mode: would call cover service",
			zap.String("service", service),
			zap.String("entity_id", entityID))
		return
	}
	if err := m.haClient.CallService("cover", service, nil, entityID); err != nil {
		m.logger.Error("Cover service call failed",
			zap.String("service", service),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

// logPositions logs current positions and writes them through to the cache.
func (m *Manager) logPositions() {
	positions := m.coverPositions()
	m.logger.Info("Hourly cover positions", zap.Any("positions", positions))

	if err := m.kv.Set(cacheKeyPositions, positions); err != nil {
		m.logger.Error("Failed to cache cover positions", zap.Error(err))
	}
}

// reportSunState logs the sun entity once, shortly after startup. When the
// host doesn't report the next setting, it is computed for the configured
// site instead.
func (m *Manager) reportSunState() {
	sun, ok := m.snapshot.Get(sunEntity)
	if !ok {
		m.logger.Warn("Sun entity not found", zap.String("entity_id", sunEntity))
		return
	}

	elevation, _ := sun.NumericAttr("elevation")
	rising, _ := sun.Attr("rising").(bool)

	nextSetting, _ := sun.Attr("next_setting").(string)
	computed := false
	if nextSetting == "" && m.sun != nil {
		nextSetting = m.sun.NextSetting(time.Now()).Format(time.RFC3339)
		computed = true
	}

	m.logger.Info("Sun state",
		zap.String("state", sun.State),
		zap.Float64("elevation", elevation),
		zap.Bool("rising", rising),
		zap.String("next_setting", nextSetting),
		zap.Bool("next_setting_computed", computed))
}

// onCoverChange logs any cover state transition.
func (m *Manager) onCoverChange(change bus.StateChange) {
	old := "none"
	if change.Old != nil {
		old = change.Old.State
	}
	m.logger.Info("Cover changed",
		zap.String("entity_id", change.EntityID),
		zap.String("old", old),
		zap.String("new", change.New.State))
}

// onSunFirstChange logs the sun entity's first transition.
func (m *Manager) onSunFirstChange(change bus.StateChange) {
	old := "none"
	if change.Old != nil {
		old = change.Old.State
	}
	m.logger.Info("Sun transitioned",
		zap.String("old", old),
		zap.String("new", change.New.State))
}

// coverPositions collects current cover states by entity id.
func (m *Manager) coverPositions() map[string]string {
	positions := make(map[string]string)
	for _, cover := range m.snapshot.Domain("cover") {
		positions[cover.EntityID] = cover.State
	}
	return positions
}
