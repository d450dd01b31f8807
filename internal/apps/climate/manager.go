// Package climate watches temperature sensors and drives an AC switch
// around a threshold.
package climate

import (
	"fmt"
	"strconv"
	"strings"

	"homeapps/internal/bus"
	"homeapps/internal/ha"
	"homeapps/internal/scheduler"
	"homeapps/internal/store"

	"go.uber.org/zap"
)

const appName = "climate"

// Manager reacts to temperature changes and controls the AC switch.
type Manager struct {
	haClient ha.HAClient
	eventBus *bus.Bus
	jobs     *scheduler.Scheduler
	snapshot *store.Store
	logger   *zap.Logger
	cfg      Config
	readOnly bool
	subs     []*bus.Subscription
}

// NewManager creates a climate manager.
func NewManager(haClient ha.HAClient, eventBus *bus.Bus, jobs *scheduler.Scheduler, snapshot *store.Store, cfg Config, logger *zap.Logger, readOnly bool) *Manager {
	return &Manager{
		haClient: haClient,
		eventBus: eventBus,
		jobs:     jobs,
		snapshot: snapshot,
		logger:   logger.Named(appName),
		cfg:      cfg,
		readOnly: readOnly,
	}
}

// Name implements app.App.
func (m *Manager) Name() string {
	return appName
}

// Start registers subscriptions and the periodic summary job.
func (m *Manager) Start() error {
	m.logger.Info("Starting climate manager",
		zap.Float64("threshold", m.cfg.TempThreshold),
		zap.String("ac_switch", m.cfg.ACSwitch))

	// Watch every temperature sensor via glob pattern.
	sub, err := m.eventBus.Subscribe("sensor.*temperature*", m.onTempIncreased,
		bus.Increased(), bus.Owner(appName))
	if err != nil {
		return fmt.Errorf("failed to subscribe to temperature increases: %w", err)
	}
	m.subs = append(m.subs, sub)

	// The from-present filter keeps an entity's first appearance from
	// reading as a decrease.
	sub, err = m.eventBus.Subscribe("sensor.*temperature*", m.onTempDecreased,
		bus.Decreased(), bus.FromPresent(), bus.Owner(appName))
	if err != nil {
		return fmt.Errorf("failed to subscribe to temperature decreases: %w", err)
	}
	m.subs = append(m.subs, sub)

	sub, err = m.eventBus.SubscribeAttribute(m.cfg.ClimateEntity, "current_temperature",
		m.onHVACTempChange, bus.Owner(appName))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.cfg.ClimateEntity, err)
	}
	m.subs = append(m.subs, sub)

	if err := m.jobs.RunEvery("climate_summary", m.cfg.CheckInterval.Std(), m.logSummary); err != nil {
		return fmt.Errorf("failed to schedule climate summary: %w", err)
	}

	return nil
}

// Stop cancels subscriptions and jobs.
func (m *Manager) Stop() {
	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.subs = nil
	m.jobs.Cancel("climate_summary")
	m.logger.Info("Climate manager stopped")
}

// onTempIncreased handles a temperature sensor going up.
func (m *Manager) onTempIncreased(change bus.StateChange) {
	m.logger.Info("Temperature increased",
		zap.String("entity_id", change.EntityID),
		zap.String("old", stateValue(change.Old)),
		zap.String("new", stateValue(change.New)))

	temp, ok := parseTemp(change.New)
	if !ok {
		return
	}

	if temp > m.cfg.TempThreshold {
		m.logger.Info("Temperature exceeds threshold, turning on AC",
			zap.Float64("temperature", temp),
			zap.Float64("threshold", m.cfg.TempThreshold))
		m.turnOnAC()
	}
}

// onTempDecreased handles a temperature sensor going down.
func (m *Manager) onTempDecreased(change bus.StateChange) {
	m.logger.Info("Temperature decreased",
		zap.String("entity_id", change.EntityID),
		zap.String("old", stateValue(change.Old)),
		zap.String("new", stateValue(change.New)))

	temp, ok := parseTemp(change.New)
	if !ok {
		return
	}

	if temp <= m.cfg.TempThreshold {
		m.logger.Info("Temperature at or below threshold, turning off AC",
			zap.Float64("temperature", temp),
			zap.Float64("threshold", m.cfg.TempThreshold))
		m.turnOffAC()
	}
}

// onHVACTempChange handles the HVAC unit reporting a new current
// temperature attribute.
func (m *Manager) onHVACTempChange(entityID string, _, newValue interface{}) {
	temp, ok := asFloat(newValue)
	if !ok {
		m.logger.Debug("HVAC current_temperature not numeric", zap.Any("value", newValue))
		return
	}

	m.logger.Info("HVAC current temperature changed",
		zap.String("entity_id", entityID),
		zap.Float64("current_temperature", temp))

	if temp > m.cfg.TempThreshold {
		m.logger.Info("HVAC reports temperature above threshold, ensuring AC is on",
			zap.Float64("temperature", temp))
		m.turnOnAC()
	}
}

// logSummary logs the current climate-related entity states.
func (m *Manager) logSummary() {
	outside := "unknown"
	if state, ok := m.snapshot.Get("sensor.outside_temperature"); ok {
		outside = state.State
	}

	hvac, hvacCurrent := "unknown", "unknown"
	if state, ok := m.snapshot.Get(m.cfg.ClimateEntity); ok {
		hvac = state.State
		if temp, ok := state.NumericAttr("current_temperature"); ok {
			hvacCurrent = strconv.FormatFloat(temp, 'f', 1, 64)
		}
	}

	ac := "unknown"
	if state, ok := m.snapshot.Get(m.cfg.ACSwitch); ok {
		ac = state.State
	}

	m.logger.Info("Climate summary",
		zap.String("outside", outside),
		zap.String("hvac", hvac),
		zap.String("hvac_current", hvacCurrent),
		zap.String("ac", ac))
}

func (m *Manager) turnOnAC() {
	if m.readOnly {
		m.logger.Info("Read-only mode: would turn on AC", zap.String("entity_id", m.cfg.ACSwitch))
		return
	}
	if err := m.haClient.TurnOn(m.cfg.ACSwitch, nil); err != nil {
		m.logger.Error("Failed to turn on AC", zap.Error(err))
	}
}

func (m *Manager) turnOffAC() {
	if m.readOnly {
		m.logger.Info("Read-only mode: would turn off AC", zap.String("entity_id", m.cfg.ACSwitch))
		return
	}
	if err := m.haClient.TurnOff(m.cfg.ACSwitch); err != nil {
		m.logger.Error("Failed to turn off AC", zap.Error(err))
	}
}

// parseTemp coerces a state value to a temperature. Unparsable values are
// treated as absent.
func parseTemp(state *ha.State) (float64, bool) {
	if state == nil {
		return 0, false
	}
	temp, err := strconv.ParseFloat(strings.TrimSpace(state.State), 64)
	if err != nil {
		return 0, false
	}
	return temp, true
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func stateValue(state *ha.State) string {
	if state == nil {
		return "none"
	}
	return state.State
}
