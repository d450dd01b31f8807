package ha

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer is a minimal Home Assistant stand-in speaking the WebSocket
// protocol plus the REST states endpoint.
type testServer struct {
	*httptest.Server
	token string

	mu           sync.Mutex
	conn         *websocket.Conn
	writeMu      sync.Mutex
	states       []*State
	serviceCalls []CallServiceRequest
	setStates    []string
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	s := &testServer{token: token}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	mux.HandleFunc("/api/states/", s.handleRESTSetState)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// wsURL returns the websocket endpoint for the client.
func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/api/websocket"
}

func (s *testServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.writeJSON(Message{Type: "auth_required"})

	var auth AuthMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		s.writeJSON(Message{Type: "auth_invalid"})
		conn.Close()
		return
	}
	s.writeJSON(Message{Type: "auth_ok"})

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
			s.writeResult(base.ID, nil)
		case "get_states":
			s.mu.Lock()
			payload, _ := json.Marshal(s.states)
			s.mu.Unlock()
			s.writeResult(base.ID, payload)
		case "call_service":
			var req CallServiceRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				continue
			}
			s.mu.Lock()
			s.serviceCalls = append(s.serviceCalls, req)
			s.mu.Unlock()
			s.writeResult(base.ID, nil)
		}
	}
}

func (s *testServer) handleRESTSetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	io.Copy(io.Discard, r.Body)

	entityID := strings.TrimPrefix(r.URL.Path, "/api/states/")
	s.mu.Lock()
	s.setStates = append(s.setStates, entityID)
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}

func (s *testServer) writeResult(id int, result json.RawMessage) {
	success := true
	s.writeJSON(Message{ID: id, Type: "result", Success: &success, Result: result})
}

func (s *testServer) writeJSON(msg interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.WriteJSON(msg)
	}
}

// sendEvent pushes an event frame to the connected client.
func (s *testServer) sendEvent(eventType string, data interface{}) {
	payload, _ := json.Marshal(data)
	s.writeJSON(Message{
		Type: "event",
		Event: &Event{
			EventType: eventType,
			Data:      payload,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	})
}

func (s *testServer) lastServiceCall() *CallServiceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.serviceCalls) == 0 {
		return nil
	}
	return &s.serviceCalls[len(s.serviceCalls)-1]
}

// TestClient_ConnectAndAuth tests the auth handshake
func TestClient_ConnectAndAuth(t *testing.T) {
	server := newTestServer(t, "secret")

	client := NewClient(server.wsURL(), "secret", zap.NewNop())
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	if !client.IsConnected() {
		t.Error("Expected client to report connected")
	}

	// Connecting twice is an error.
	if err := client.Connect(); err == nil {
		t.Error("Expected error on double connect")
	}
}

// TestClient_BadToken tests auth rejection
func TestClient_BadToken(t *testing.T) {
	server := newTestServer(t, "secret")

	client := NewClient(server.wsURL(), "wrong", zap.NewNop())
	if err := client.Connect(); err == nil {
		client.Disconnect()
		t.Fatal("Expected auth failure, got nil")
	}
	if client.IsConnected() {
		t.Error("Expected client to stay disconnected after auth failure")
	}
}

// TestClient_GetAllStates tests the get_states round trip
func TestClient_GetAllStates(t *testing.T) {
	server := newTestServer(t, "secret")
	server.states = []*State{
		{EntityID: "light.kitchen", State: "on"},
		{EntityID: "sensor.temperature", State: "21.5"},
	}

	client := NewClient(server.wsURL(), "secret", zap.NewNop())
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	states, err := client.GetAllStates()
	if err != nil {
		t.Fatalf("Failed to get states: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("Expected 2 states, got %d", len(states))
	}

	state, err := client.GetState("light.kitchen")
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}
	if state.State != "on" {
		t.Errorf("Expected on, got %s", state.State)
	}

	if _, err := client.GetState("light.nonexistent"); err == nil {
		t.Error("Expected error for unknown entity")
	}
}

// TestClient_CallService tests command delivery including targets
func TestClient_CallService(t *testing.T) {
	server := newTestServer(t, "secret")

	client := NewClient(server.wsURL(), "secret", zap.NewNop())
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	err := client.CallService("cover", "open_cover", nil, "cover.bedroom")
	if err != nil {
		t.Fatalf("Failed to call service: %v", err)
	}

	call := server.lastServiceCall()
	if call == nil {
		t.Fatal("Expected a recorded service call")
	}
	if call.Domain != "cover" || call.Service != "open_cover" {
		t.Errorf("Unexpected call: %s.%s", call.Domain, call.Service)
	}
	if call.Target == nil || len(call.Target.EntityID) != 1 || call.Target.EntityID[0] != "cover.bedroom" {
		t.Errorf("Unexpected target: %+v", call.Target)
	}
}

// TestClient_TurnOnOff tests the homeassistant.turn_on/turn_off shortcuts
func TestClient_TurnOnOff(t *testing.T) {
	server := newTestServer(t, "secret")

	client := NewClient(server.wsURL(), "secret", zap.NewNop())
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	if err := client.TurnOn("light.hallway", map[string]interface{}{"brightness": 255}); err != nil {
		t.Fatalf("Failed to turn on: %v", err)
	}
	call := server.lastServiceCall()
	if call.Domain != "homeassistant" || call.Service != "turn_on" {
		t.Errorf("Unexpected call: %s.%s", call.Domain, call.Service)
	}
	if call.ServiceData["brightness"] != float64(255) {
		t.Errorf("Expected brightness in service data, got %v", call.ServiceData)
	}

	if err := client.TurnOff("light.hallway"); err != nil {
		t.Fatalf("Failed to turn off: %v", err)
	}
	if call := server.lastServiceCall(); call.Service != "turn_off" {
		t.Errorf("Expected turn_off, got %s", call.Service)
	}
}

// TestClient_EventDelivery tests that event frames reach registered handlers
func TestClient_EventDelivery(t *testing.T) {
	server := newTestServer(t, "secret")

	client := NewClient(server.wsURL(), "secret", zap.NewNop())

	stateEvents := make(chan StateChangedEvent, 10)
	client.OnStateChanged(func(event StateChangedEvent) {
		stateEvents <- event
	})
	callEvents := make(chan CallServiceEvent, 10)
	client.OnCallService(func(event CallServiceEvent) {
		callEvents <- event
	})

	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	server.sendEvent("state_changed", StateChangedEvent{
		EntityID: "light.kitchen",
		OldState: &State{EntityID: "light.kitchen", State: "off"},
		NewState: &State{EntityID: "light.kitchen", State: "on"},
	})

	select {
	case event := <-stateEvents:
		if event.EntityID != "light.kitchen" || event.NewState.State != "on" {
			t.Errorf("Unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected state_changed event to be delivered")
	}

	server.sendEvent("call_service", CallServiceEvent{
		Domain:  "lock",
		Service: "unlock",
	})

	select {
	case event := <-callEvents:
		if event.Domain != "lock" || event.Service != "unlock" {
			t.Errorf("Unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected call_service event to be delivered")
	}
}

// TestClient_CommandFromEventHandler tests that a handler can issue a
// command and get its response while events keep flowing: dispatch must not
// hold up the goroutine that reads command responses
func TestClient_CommandFromEventHandler(t *testing.T) {
	server := newTestServer(t, "secret")

	client := NewClient(server.wsURL(), "secret", zap.NewNop())

	result := make(chan error, 1)
	client.OnStateChanged(func(event StateChangedEvent) {
		if event.EntityID != "binary_sensor.motion" {
			return
		}
		result <- client.TurnOn("light.hallway", nil)
	})

	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	server.sendEvent("state_changed", StateChangedEvent{
		EntityID: "binary_sensor.motion",
		OldState: &State{EntityID: "binary_sensor.motion", State: "off"},
		NewState: &State{EntityID: "binary_sensor.motion", State: "on"},
	})

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Command from handler failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Command issued from an event handler never completed")
	}

	if call := server.lastServiceCall(); call == nil || call.Service != "turn_on" {
		t.Errorf("Expected recorded turn_on call, got %+v", call)
	}
}

// TestClient_SetState tests the REST fallback for state writes
func TestClient_SetState(t *testing.T) {
	server := newTestServer(t, "secret")

	client := NewClient(server.wsURL(), "secret", zap.NewNop())
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	err := client.SetState("sensor.alice_presence", "home", map[string]interface{}{
		"friendly_name": "Alice Presence",
	})
	if err != nil {
		t.Fatalf("Failed to set state: %v", err)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.setStates) != 1 || server.setStates[0] != "sensor.alice_presence" {
		t.Errorf("Expected REST write for sensor.alice_presence, got %v", server.setStates)
	}
}

// TestClient_Disconnect tests teardown
func TestClient_Disconnect(t *testing.T) {
	server := newTestServer(t, "secret")

	client := NewClient(server.wsURL(), "secret", zap.NewNop())
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Failed to disconnect: %v", err)
	}
	if client.IsConnected() {
		t.Error("Expected client to report disconnected")
	}

	// Disconnecting again is a no-op.
	if err := client.Disconnect(); err != nil {
		t.Errorf("Expected idempotent disconnect, got: %v", err)
	}
}

func TestRestBaseURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"ws://hass:8123/api/websocket", "http://hass:8123"},
		{"wss://hass.example.com/api/websocket", "https://hass.example.com"},
	}
	for _, tt := range tests {
		c := &Client{url: tt.url}
		if got := c.restBaseURL(); got != tt.want {
			t.Errorf("restBaseURL(%s) = %s, want %s", tt.url, got, tt.want)
		}
	}
}
