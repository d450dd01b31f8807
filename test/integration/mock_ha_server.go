// Package integration exercises the full stack against a mock Home
// Assistant server speaking the real WebSocket protocol.
package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the wire frame exchanged with clients.
type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *wsEvent        `json:"event,omitempty"`
}

type wsEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// EntityState mirrors the host's state object on the wire.
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// RecordedCall is one service call received by the server.
type RecordedCall struct {
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data"`
	Target      struct {
		EntityID []string `json:"entity_id"`
	} `json:"target"`
}

type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) writeJSON(msg interface{}) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteJSON(msg)
}

// MockHAServer simulates a Home Assistant host: WebSocket API with auth,
// get_states, subscribe_events and call_service, plus the REST states
// endpoint used for set_state.
type MockHAServer struct {
	httpServer *httptest.Server
	token      string

	statesMu sync.RWMutex
	states   map[string]*EntityState

	connsMu sync.Mutex
	conns   []*connWrapper

	callsMu sync.Mutex
	calls   []RecordedCall
}

// NewMockHAServer starts a mock server on an ephemeral port.
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:  token,
		states: make(map[string]*EntityState),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	mux.HandleFunc("/api/states/", s.handleRESTSetState)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// WebSocketURL returns the endpoint clients should dial.
func (s *MockHAServer) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/api/websocket"
}

// Stop shuts the server down.
func (s *MockHAServer) Stop() {
	s.connsMu.Lock()
	for _, w := range s.conns {
		w.conn.Close()
	}
	s.conns = nil
	s.connsMu.Unlock()
	s.httpServer.Close()
}

// SetState updates an entity and broadcasts a state_changed event, as the
// real host would.
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	s.statesMu.Lock()
	oldState := s.states[entityID]
	if attributes == nil {
		attributes = make(map[string]interface{})
	}
	now := time.Now()
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	s.states[entityID] = newState
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, newState)
}

// GetState returns the server's view of an entity.
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// FindCall returns the most recent service call matching domain and
// service, or nil.
func (s *MockHAServer) FindCall(domain, service string) *RecordedCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].Domain == domain && s.calls[i].Service == service {
			call := s.calls[i]
			return &call
		}
	}
	return nil
}

// CountCalls counts service calls matching domain and service.
func (s *MockHAServer) CountCalls(domain, service string) int {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	count := 0
	for _, call := range s.calls {
		if call.Domain == domain && call.Service == service {
			count++
		}
	}
	return count
}

// ClearCalls resets the recorded call log.
func (s *MockHAServer) ClearCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.calls = nil
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wrapper := &connWrapper{conn: conn}

	s.connsMu.Lock()
	s.conns = append(s.conns, wrapper)
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, c := range s.conns {
			if c == wrapper {
				s.conns = append(s.conns[:i], s.conns[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.writeJSON(wsMessage{Type: "auth_required"})

	var auth struct {
		Type        string `json:"type"`
		AccessToken string `json:"access_token"`
	}
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.writeJSON(wsMessage{Type: "auth_invalid"})
		return
	}
	wrapper.writeJSON(wsMessage{Type: "auth_ok"})

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			return
		}

		var base struct {
			ID   int    `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "subscribe_events":
			s.writeResult(wrapper, base.ID, nil)

		case "get_states":
			s.statesMu.RLock()
			states := make([]*EntityState, 0, len(s.states))
			for _, state := range s.states {
				states = append(states, state)
			}
			s.statesMu.RUnlock()
			payload, _ := json.Marshal(states)
			s.writeResult(wrapper, base.ID, payload)

		case "call_service":
			var call RecordedCall
			if err := json.Unmarshal(raw, &call); err != nil {
				continue
			}
			s.callsMu.Lock()
			s.calls = append(s.calls, call)
			s.callsMu.Unlock()

			s.applyCall(call)
			s.writeResult(wrapper, base.ID, nil)

			// Echo the call back as a call_service event so
			// interceptors see it like any other client's call.
			s.broadcastCallService(call)
		}
	}
}

// applyCall mirrors the obvious service calls into the entity table so
// follow-up events flow as they would on a real host.
func (s *MockHAServer) applyCall(call RecordedCall) {
	var newState string
	switch call.Service {
	case "turn_on":
		newState = "on"
	case "turn_off":
		newState = "off"
	case "open_cover":
		newState = "open"
	case "close_cover":
		newState = "closed"
	default:
		return
	}

	for _, entityID := range call.Target.EntityID {
		s.statesMu.RLock()
		old := s.states[entityID]
		s.statesMu.RUnlock()

		attributes := map[string]interface{}{}
		if old != nil {
			attributes = old.Attributes
		}
		if call.Service == "turn_on" {
			for k, v := range call.ServiceData {
				attributes[k] = v
			}
		}
		s.SetState(entityID, newState, attributes)
	}
}

func (s *MockHAServer) handleRESTSetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var body struct {
		State      string                 `json:"state"`
		Attributes map[string]interface{} `json:"attributes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	entityID := strings.TrimPrefix(r.URL.Path, "/api/states/")
	s.SetState(entityID, body.State, body.Attributes)
	w.WriteHeader(http.StatusCreated)
}

func (s *MockHAServer) writeResult(w *connWrapper, id int, result json.RawMessage) {
	success := true
	w.writeJSON(wsMessage{ID: id, Type: "result", Success: &success, Result: result})
}

func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *EntityState) {
	data, _ := json.Marshal(map[string]interface{}{
		"entity_id": entityID,
		"old_state": oldState,
		"new_state": newState,
	})
	s.broadcast(wsMessage{
		Type: "event",
		Event: &wsEvent{
			EventType: "state_changed",
			Data:      data,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	})
}

func (s *MockHAServer) broadcastCallService(call RecordedCall) {
	data, _ := json.Marshal(map[string]interface{}{
		"domain":       call.Domain,
		"service":      call.Service,
		"service_data": call.ServiceData,
	})
	s.broadcast(wsMessage{
		Type: "event",
		Event: &wsEvent{
			EventType: "call_service",
			Data:      data,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	})
}

func (s *MockHAServer) broadcast(msg wsMessage) {
	s.connsMu.Lock()
	conns := make([]*connWrapper, len(s.conns))
	copy(conns, s.conns)
	s.connsMu.Unlock()

	for _, w := range conns {
		w.writeJSON(msg)
	}
}
