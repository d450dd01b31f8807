// Package motionlights turns a light on when motion is detected and off
// once motion has been clear for a debounce period. The same manager
// drives any number of sensor/light pairings configured as instances.
package motionlights

import (
	"fmt"

	"homeapps/internal/bus"
	"homeapps/internal/ha"
	"homeapps/internal/store"

	"go.uber.org/zap"
)

const appName = "motion_lights"

// Manager drives one motion sensor / light pairing.
type Manager struct {
	haClient ha.HAClient
	eventBus *bus.Bus
	snapshot *store.Store
	logger   *zap.Logger
	cfg      InstanceConfig
	readOnly bool
	subs     []*bus.Subscription
}

// NewManager creates a motion-lights manager for one instance.
func NewManager(haClient ha.HAClient, eventBus *bus.Bus, snapshot *store.Store, cfg InstanceConfig, logger *zap.Logger, readOnly bool) *Manager {
	return &Manager{
		haClient: haClient,
		eventBus: eventBus,
		snapshot: snapshot,
		logger:   logger.Named(appName).With(zap.String("instance", cfg.Name)),
		cfg:      cfg,
		readOnly: readOnly,
	}
}

// Name implements app.App.
func (m *Manager) Name() string {
	return appName + "/" + m.cfg.Name
}

// Start registers the motion subscriptions.
func (m *Manager) Start() error {
	m.logger.Info("Watching motion sensor",
		zap.String("motion_entity", m.cfg.MotionEntity),
		zap.String("light_entity", m.cfg.LightEntity),
		zap.Int("boost_brightness", m.cfg.BoostBrightness))

	// Motion detected: react immediately.
	sub, err := m.eventBus.Subscribe(m.cfg.MotionEntity, m.onMotionDetected,
		bus.ChangedTo("on"), bus.Owner(m.Name()))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.cfg.MotionEntity, err)
	}
	m.subs = append(m.subs, sub)

	// Motion cleared: wait out the debounce so brief gaps don't flicker
	// the light.
	sub, err = m.eventBus.Subscribe(m.cfg.MotionEntity, m.onMotionCleared,
		bus.ChangedTo("off"), bus.Debounce(m.cfg.OffDelay.Std()), bus.Owner(m.Name()))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.cfg.MotionEntity, err)
	}
	m.subs = append(m.subs, sub)

	if state, ok := m.snapshot.Get(m.cfg.MotionEntity); ok {
		m.logger.Info("Current motion state", zap.String("state", state.State))
	}

	return nil
}

// Stop cancels the subscriptions.
func (m *Manager) Stop() {
	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.subs = nil
	m.logger.Info("Motion lights stopped")
}

// onMotionDetected turns the light on at boost brightness.
func (m *Manager) onMotionDetected(change bus.StateChange) {
	m.logger.Info("Motion detected", zap.String("entity_id", change.EntityID))

	if m.readOnly {
		m.logger.Info("Read-only mode: would turn on light",
			zap.String("entity_id", m.cfg.LightEntity),
			zap.Int("brightness", m.cfg.BoostBrightness))
		return
	}

	data := map[string]interface{}{"brightness": m.cfg.BoostBrightness}
	if err := m.haClient.TurnOn(m.cfg.LightEntity, data); err != nil {
		m.logger.Error("Failed to turn on light", zap.Error(err))
		return
	}
	m.logger.Info("Turned on light",
		zap.String("entity_id", m.cfg.LightEntity),
		zap.Int("brightness", m.cfg.BoostBrightness))

	// Re-read so the log reflects what the host actually applied.
	if updated, err := m.haClient.GetState(m.cfg.LightEntity); err == nil {
		brightness, _ := updated.NumericAttr("brightness")
		m.logger.Debug("Light state after turn on",
			zap.String("state", updated.State),
			zap.Float64("brightness", brightness))
	}
}

// onMotionCleared turns the light off if it is still on.
func (m *Manager) onMotionCleared(change bus.StateChange) {
	m.logger.Info("Motion cleared", zap.String("entity_id", change.EntityID))

	light, ok := m.snapshot.Get(m.cfg.LightEntity)
	if !ok || light.State != "on" {
		m.logger.Debug("Light is already off", zap.String("entity_id", m.cfg.LightEntity))
		return
	}

	if m.readOnly {
		m.logger.Info("Read-only mode: would turn off light", zap.String("entity_id", m.cfg.LightEntity))
		return
	}

	m.logger.Info("Turning off light", zap.String("entity_id", m.cfg.LightEntity))
	if err := m.haClient.TurnOff(m.cfg.LightEntity); err != nil {
		m.logger.Error("Failed to turn off light", zap.Error(err))
	}
}
