package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient for testing. It holds an in-memory entity
// table, records every command issued, and lets tests inject events.
type MockClient struct {
	states   map[string]*State
	statesMu sync.RWMutex

	stateHandlers []StateChangedHandler
	callHandlers  []CallServiceHandler
	handlersMu    sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	serviceCalls []ServiceCall
	setStates    []SetStateCall
	callsMu      sync.Mutex
}

// ServiceCall records a service call for testing
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Target  []string
	Time    time.Time
}

// SetStateCall records a SetState invocation for testing
type SetStateCall struct {
	EntityID   string
	State      string
	Attributes map[string]interface{}
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states:       make(map[string]*State),
		serviceCalls: make([]ServiceCall, 0),
	}
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// OnStateChanged registers a state_changed handler
func (m *MockClient) OnStateChanged(handler StateChangedHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.stateHandlers = append(m.stateHandlers, handler)
}

// OnCallService registers a call_service handler
func (m *MockClient) OnCallService(handler CallServiceHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.callHandlers = append(m.callHandlers, handler)
}

// GetState retrieves a mock state
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return state, nil
}

// GetAllStates retrieves all mock states
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	return states, nil
}

// CallService records a service call and mirrors the obvious ones
// (turn_on/turn_off) into the entity table.
func (m *MockClient) CallService(domain, service string, data map[string]interface{}, target ...string) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Target:  append([]string(nil), target...),
		Time:    time.Now(),
	})
	m.callsMu.Unlock()

	switch service {
	case "turn_on":
		for _, entityID := range target {
			m.SetEntityState(entityID, "on", data)
		}
	case "turn_off":
		for _, entityID := range target {
			m.SetEntityState(entityID, "off", nil)
		}
	case "open_cover":
		for _, entityID := range target {
			m.SetEntityState(entityID, "open", nil)
		}
	case "close_cover":
		for _, entityID := range target {
			m.SetEntityState(entityID, "closed", nil)
		}
	}

	m.fanOutCallService(CallServiceEvent{
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})

	return nil
}

// TurnOn turns a mock entity on
func (m *MockClient) TurnOn(entityID string, data map[string]interface{}) error {
	return m.CallService("homeassistant", "turn_on", data, entityID)
}

// TurnOff turns a mock entity off
func (m *MockClient) TurnOff(entityID string) error {
	return m.CallService("homeassistant", "turn_off", nil, entityID)
}

// SetState records the call and updates the entity table
func (m *MockClient) SetState(entityID, state string, attributes map[string]interface{}) error {
	m.callsMu.Lock()
	m.setStates = append(m.setStates, SetStateCall{
		EntityID:   entityID,
		State:      state,
		Attributes: attributes,
	})
	m.callsMu.Unlock()

	m.SetEntityState(entityID, state, attributes)
	return nil
}

// SetEntityState updates an entity in the mock table and notifies
// state_changed handlers, as the real host would.
func (m *MockClient) SetEntityState(entityID, stateValue string, attributes map[string]interface{}) {
	m.statesMu.Lock()
	oldState := m.states[entityID]

	now := time.Now()
	if attributes == nil {
		if oldState != nil {
			attributes = oldState.Attributes
		} else {
			attributes = make(map[string]interface{})
		}
	}

	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.fanOutStateChanged(StateChangedEvent{
		EntityID: entityID,
		OldState: oldState,
		NewState: newState,
	})
}

// SeedState inserts an entity without firing an event, for test setup.
func (m *MockClient) SeedState(entityID, stateValue string, attributes map[string]interface{}) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()

	if attributes == nil {
		attributes = make(map[string]interface{})
	}
	now := time.Now()
	m.states[entityID] = &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
}

// SimulateCallService injects a call_service event as if another client
// had invoked the service.
func (m *MockClient) SimulateCallService(domain, service string, data map[string]interface{}) {
	m.fanOutCallService(CallServiceEvent{
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
}

// GetServiceCalls returns all recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// GetSetStateCalls returns all recorded SetState invocations
func (m *MockClient) GetSetStateCalls() []SetStateCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]SetStateCall, len(m.setStates))
	copy(calls, m.setStates)
	return calls
}

// ClearServiceCalls clears the service call history
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = m.serviceCalls[:0]
	m.setStates = m.setStates[:0]
}

func (m *MockClient) fanOutStateChanged(event StateChangedEvent) {
	m.handlersMu.RLock()
	handlers := append([]StateChangedHandler(nil), m.stateHandlers...)
	m.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (m *MockClient) fanOutCallService(event CallServiceEvent) {
	m.handlersMu.RLock()
	handlers := append([]CallServiceHandler(nil), m.callHandlers...)
	m.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
