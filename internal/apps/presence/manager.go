// Package presence tracks a person's device tracker, mirrors it into a
// custom presence sensor on the host, and watches home-zone occupancy
// while the person is away. One instance per tracked person.
package presence

import (
	"fmt"
	"strings"
	"sync"

	"homeapps/internal/bus"
	"homeapps/internal/ha"
	"homeapps/internal/scheduler"
	"homeapps/internal/store"

	"go.uber.org/zap"
)

const appName = "presence"

// Manager tracks one person.
type Manager struct {
	haClient ha.HAClient
	eventBus *bus.Bus
	jobs     *scheduler.Scheduler
	snapshot *store.Store
	logger   *zap.Logger
	cfg      InstanceConfig
	readOnly bool
	subs     []*bus.Subscription

	// zoneSub is live only while the person is away.
	zoneSub *bus.Subscription
	zoneMu  sync.Mutex
}

// NewManager creates a presence manager for one person.
func NewManager(haClient ha.HAClient, eventBus *bus.Bus, jobs *scheduler.Scheduler, snapshot *store.Store, cfg InstanceConfig, logger *zap.Logger, readOnly bool) *Manager {
	return &Manager{
		haClient: haClient,
		eventBus: eventBus,
		jobs:     jobs,
		snapshot: snapshot,
		logger:   logger.Named(appName).With(zap.String("person", cfg.PersonName)),
		cfg:      cfg,
		readOnly: readOnly,
	}
}

// Name implements app.App.
func (m *Manager) Name() string {
	return appName + "/" + m.cfg.PersonName
}

// Start publishes the initial presence sensor and registers subscriptions.
func (m *Manager) Start() error {
	m.logger.Info("Tracking presence", zap.String("tracker_entity", m.cfg.TrackerEntity))

	sub, err := m.eventBus.Subscribe(m.cfg.TrackerEntity, m.onTrackerChange, bus.Owner(m.Name()))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.cfg.TrackerEntity, err)
	}
	m.subs = append(m.subs, sub)

	if err := m.jobs.RunEvery(m.statusJobName(), m.cfg.StatusInterval.Std(), m.logStatus); err != nil {
		return fmt.Errorf("failed to schedule status log: %w", err)
	}

	status := "away"
	if tracker, ok := m.snapshot.Get(m.cfg.TrackerEntity); ok && tracker.State == "home" {
		status = "home"
	}
	m.publishPresence(status)
	m.logger.Info("Created presence sensor",
		zap.String("entity_id", m.sensorEntity()),
		zap.String("status", status))

	if status == "away" {
		m.subscribeToZone()
	}

	return nil
}

// Stop cancels subscriptions and the status job.
func (m *Manager) Stop() {
	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.subs = nil

	m.zoneMu.Lock()
	if m.zoneSub != nil {
		m.zoneSub.Cancel()
		m.zoneSub = nil
	}
	m.zoneMu.Unlock()

	m.jobs.Cancel(m.statusJobName())
	m.logger.Info("Presence tracker stopped")
}

// onTrackerChange mirrors the tracker into the presence sensor and manages
// the dynamic zone subscription.
func (m *Manager) onTrackerChange(change bus.StateChange) {
	old := "none"
	if change.Old != nil {
		old = change.Old.State
	}
	m.logger.Info("Tracker changed",
		zap.String("old", old),
		zap.String("new", change.New.State))

	status := "away"
	if change.New.State == "home" {
		status = "home"
	}
	m.publishPresence(status)

	m.zoneMu.Lock()
	defer m.zoneMu.Unlock()

	if status == "away" && m.zoneSub == nil {
		m.logger.Info("Person left home, subscribing to zone occupancy")
		m.subscribeToZoneLocked()
	} else if status == "home" && m.zoneSub != nil {
		m.logger.Info("Person returned home, cancelling zone subscription")
		m.zoneSub.Cancel()
		m.zoneSub = nil
	}
}

func (m *Manager) subscribeToZone() {
	m.zoneMu.Lock()
	defer m.zoneMu.Unlock()
	m.subscribeToZoneLocked()
}

// subscribeToZoneLocked registers the zone.home occupancy subscription.
// Caller holds zoneMu.
func (m *Manager) subscribeToZoneLocked() {
	sub, err := m.eventBus.Subscribe("zone.home", m.onZoneOccupancyIncreased,
		bus.Increased(), bus.Owner(m.Name()))
	if err != nil {
		m.logger.Error("Failed to subscribe to zone occupancy", zap.Error(err))
		return
	}
	m.zoneSub = sub
	m.logger.Info("Subscribed to zone.home occupancy changes")
}

// onZoneOccupancyIncreased logs someone arriving home while this person
// is away.
func (m *Manager) onZoneOccupancyIncreased(change bus.StateChange) {
	old := "none"
	if change.Old != nil {
		old = change.Old.State
	}
	m.logger.Info("Home zone occupancy increased",
		zap.String("old", old),
		zap.String("new", change.New.State))
}

// logStatus periodically logs the tracker's state and position.
func (m *Manager) logStatus() {
	tracker, ok := m.snapshot.Get(m.cfg.TrackerEntity)
	if !ok {
		m.logger.Warn("Tracker entity not found", zap.String("entity_id", m.cfg.TrackerEntity))
		return
	}

	latitude, _ := tracker.NumericAttr("latitude")
	longitude, _ := tracker.NumericAttr("longitude")
	m.logger.Info("Presence status",
		zap.String("state", tracker.State),
		zap.Float64("latitude", latitude),
		zap.Float64("longitude", longitude))
}

// publishPresence writes the presence sensor to the host.
func (m *Manager) publishPresence(status string) {
	if m.readOnly {
		m.logger.Info("Read-only mode: would set presence sensor",
			zap.String("entity_id", m.sensorEntity()),
			zap.String("status", status))
		return
	}

	attributes := map[string]interface{}{
		"friendly_name": m.cfg.PersonName + " Presence",
		"source":        m.cfg.TrackerEntity,
	}
	if err := m.haClient.SetState(m.sensorEntity(), status, attributes); err != nil {
		m.logger.Error("Failed to set presence sensor", zap.Error(err))
	}
}

// sensorEntity derives the presence sensor's entity id from the person name.
func (m *Manager) sensorEntity() string {
	name := strings.ToLower(m.cfg.PersonName)
	name = strings.ReplaceAll(name, " ", "_")
	return "sensor." + name + "_presence"
}

func (m *Manager) statusJobName() string {
	return m.cfg.PersonName + "_status"
}
