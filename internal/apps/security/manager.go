// Package security intercepts lock service calls and raises throttled
// moisture alerts with a lock-state report attached.
package security

import (
	"fmt"

	"homeapps/internal/bus"
	"homeapps/internal/ha"
	"homeapps/internal/store"

	"go.uber.org/zap"
)

const appName = "security"

// Manager monitors locks and the moisture sensor.
type Manager struct {
	eventBus *bus.Bus
	snapshot *store.Store
	logger   *zap.Logger
	cfg      Config
	subs     []*bus.Subscription
}

// NewManager creates a security monitor.
func NewManager(eventBus *bus.Bus, snapshot *store.Store, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		eventBus: eventBus,
		snapshot: snapshot,
		logger:   logger.Named(appName),
		cfg:      cfg,
	}
}

// Name implements app.App.
func (m *Manager) Name() string {
	return appName
}

// Start registers the interceptor and the moisture subscription.
func (m *Manager) Start() error {
	m.logger.Info("Starting security monitor",
		zap.Duration("moisture_throttle", m.cfg.MoistureThrottle.Std()))

	sub, err := m.eventBus.SubscribeServiceCalls("lock", m.onLockServiceCalled, bus.Owner(appName))
	if err != nil {
		return fmt.Errorf("failed to subscribe to lock service calls: %w", err)
	}
	m.subs = append(m.subs, sub)

	sub, err = m.eventBus.Subscribe(m.cfg.MoistureEntity, m.onMoistureDetected,
		bus.ChangedTo("on"), bus.Throttle(m.cfg.MoistureThrottle.Std()), bus.Owner(appName))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.cfg.MoistureEntity, err)
	}
	m.subs = append(m.subs, sub)

	for _, lock := range m.snapshot.Domain("lock") {
		m.logger.Info("Lock state",
			zap.String("entity_id", lock.EntityID),
			zap.String("state", lock.State))
	}

	return nil
}

// Stop cancels the subscriptions.
func (m *Manager) Stop() {
	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.subs = nil
	m.logger.Info("Security monitor stopped")
}

// onLockServiceCalled logs every lock service invocation, whoever made it.
func (m *Manager) onLockServiceCalled(event ha.CallServiceEvent) {
	m.logger.Info("Lock service called",
		zap.String("domain", event.Domain),
		zap.String("service", event.Service),
		zap.Any("service_data", event.ServiceData))
}

// onMoistureDetected raises the alert and reports lock states. Throttled
// by the subscription, so repeated triggers within the window are dropped.
func (m *Manager) onMoistureDetected(change bus.StateChange) {
	m.logger.Warn("Moisture detected on basement floor, immediate attention required",
		zap.String("entity_id", change.EntityID))

	m.logger.Info("Current lock states during moisture alert")
	for _, lock := range m.snapshot.Domain("lock") {
		m.logger.Info("Lock state",
			zap.String("entity_id", lock.EntityID),
			zap.String("state", lock.State))
	}
}
