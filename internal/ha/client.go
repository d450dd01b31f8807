package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HAClient defines the interface for the Home Assistant connection used by
// the runtime. The bus registers event handlers; apps issue commands.
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetState(entityID string) (*State, error)
	GetAllStates() ([]*State, error)
	CallService(domain, service string, data map[string]interface{}, target ...string) error
	TurnOn(entityID string, data map[string]interface{}) error
	TurnOff(entityID string) error
	SetState(entityID, state string, attributes map[string]interface{}) error
	OnStateChanged(handler StateChangedHandler)
	OnCallService(handler CallServiceHandler)
}

// Client implements HAClient over the Home Assistant WebSocket API, plus the
// REST API for the one operation (set_state) the WebSocket API does not offer.
type Client struct {
	url        string
	token      string
	logger     *zap.Logger
	httpClient *http.Client

	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex // protects websocket writes

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	stateHandlers []StateChangedHandler
	callHandlers  []CallServiceHandler
	handlersMu    sync.RWMutex

	// Events are dispatched off the receive goroutine so a handler that
	// issues a command does not block the reader of its own response.
	eventMu    sync.Mutex
	eventQueue []*Message
	eventKick  chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool
}

// NewClient creates a new Home Assistant client. url is the websocket
// endpoint, e.g. ws://hass:8123/api/websocket.
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:        url,
		token:      token,
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pending:    make(map[int]chan Message),
		eventKick:  make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		reconnect:  true,
	}
}

// OnStateChanged registers a handler for every state_changed event.
// Handlers persist across reconnects.
func (c *Client) OnStateChanged(handler StateChangedHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.stateHandlers = append(c.stateHandlers, handler)
}

// OnCallService registers a handler for every call_service event.
func (c *Client) OnCallService(handler CallServiceHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.callHandlers = append(c.callHandlers, handler)
}

// Connect establishes the WebSocket connection, authenticates, and
// subscribes to the event types the runtime consumes.
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	c.conn = conn

	if err := c.authenticate(); err != nil {
		c.conn.Close()
		c.connMu.Unlock()
		return err
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant")

	go c.receiveMessages(c.ctx)
	go c.dispatchEvents(c.ctx)

	// Release lock before issuing requests to avoid deadlock
	c.connMu.Unlock()

	for _, eventType := range []string{"state_changed", "call_service"} {
		if err := c.subscribeEvents(eventType); err != nil {
			c.logger.Warn("Failed to subscribe to events",
				zap.String("event_type", eventType),
				zap.Error(err))
		}
	}

	return nil
}

// authenticate runs the auth_required/auth/auth_ok handshake.
// Caller holds connMu.
func (c *Client) authenticate() error {
	var authRequired Message
	if err := c.conn.ReadJSON(&authRequired); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if authRequired.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	authMsg := AuthMessage{Type: "auth", AccessToken: c.token}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(authMsg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResponse Message
	if err := c.conn.ReadJSON(&authResponse); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if authResponse.Type == "auth_invalid" {
		return fmt.Errorf("authentication failed: invalid token")
	}
	if authResponse.Type != "auth_ok" {
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}

	return nil
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage sends a request and waits for the matching response.
func (c *Client) sendMessage(msgID int, msg interface{}) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, fmt.Errorf("not connected")
	}
	// Snapshot the connection context under the lock; Connect replaces it
	// on reconnect.
	ctx := c.ctx
	c.connMu.RUnlock()

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages handles incoming messages in the background. It only
// reads: events are queued for dispatchEvents and responses are routed to
// their waiters, so the loop is never blocked by a slow handler.
func (c *Client) receiveMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect(ctx)
			return
		}

		if msg.Type == "event" {
			event := msg
			c.enqueueEvent(&event)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// enqueueEvent appends an event to the dispatch queue. The queue is
// unbounded so the read loop never blocks behind handlers.
func (c *Client) enqueueEvent(msg *Message) {
	c.eventMu.Lock()
	c.eventQueue = append(c.eventQueue, msg)
	c.eventMu.Unlock()

	select {
	case c.eventKick <- struct{}{}:
	default:
	}
}

// dispatchEvents drains the event queue in order. Handlers run here, off
// the receive goroutine, so they may issue commands and wait for the
// responses.
func (c *Client) dispatchEvents(ctx context.Context) {
	for {
		c.eventMu.Lock()
		if len(c.eventQueue) == 0 {
			c.eventMu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-c.eventKick:
			}
			continue
		}
		msg := c.eventQueue[0]
		c.eventQueue = c.eventQueue[1:]
		c.eventMu.Unlock()

		c.handleEvent(msg)
	}
}

// handleEvent decodes event messages and fans them out to registered handlers.
func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil {
		return
	}

	switch msg.Event.EventType {
	case "state_changed":
		var eventData StateChangedEvent
		if err := json.Unmarshal(msg.Event.Data, &eventData); err != nil {
			c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
			return
		}
		c.handlersMu.RLock()
		handlers := append([]StateChangedHandler(nil), c.stateHandlers...)
		c.handlersMu.RUnlock()
		for _, handler := range handlers {
			handler(eventData)
		}

	case "call_service":
		var eventData CallServiceEvent
		if err := json.Unmarshal(msg.Event.Data, &eventData); err != nil {
			c.logger.Error("Failed to unmarshal call_service event", zap.Error(err))
			return
		}
		c.handlersMu.RLock()
		handlers := append([]CallServiceHandler(nil), c.callHandlers...)
		c.handlersMu.RUnlock()
		for _, handler := range handlers {
			handler(eventData)
		}
	}
}

// handleDisconnect handles connection loss
func (c *Client) handleDisconnect(ctx context.Context) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if !c.reconnect {
		return
	}

	go c.attemptReconnect(ctx)
}

// attemptReconnect tries to reconnect with exponential backoff. ctx is the
// context of the connection that was lost; Disconnect cancels it.
func (c *Client) attemptReconnect(ctx context.Context) {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect...")

		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

func (c *Client) subscribeEvents(eventType string) error {
	msgID := c.nextMsgID()
	req := &SubscribeEventsRequest{
		ID:        msgID,
		Type:      "subscribe_events",
		EventType: eventType,
	}

	_, err := c.sendMessage(msgID, req)
	return err
}

// GetState retrieves the state of an entity
func (c *Client) GetState(entityID string) (*State, error) {
	states, err := c.GetAllStates()
	if err != nil {
		return nil, err
	}

	for _, state := range states {
		if state.EntityID == entityID {
			return state, nil
		}
	}

	return nil, fmt.Errorf("entity %s not found", entityID)
}

// GetAllStates retrieves all entity states
func (c *Client) GetAllStates() ([]*State, error) {
	msgID := c.nextMsgID()
	req := &GetStatesRequest{
		ID:   msgID,
		Type: "get_states",
	}

	resp, err := c.sendMessage(msgID, req)
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}

	return states, nil
}

// CallService calls a Home Assistant service, optionally targeted at
// specific entities.
func (c *Client) CallService(domain, service string, data map[string]interface{}, target ...string) error {
	msgID := c.nextMsgID()
	req := &CallServiceRequest{
		ID:          msgID,
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	}
	if len(target) > 0 {
		req.Target = &ServiceTarget{EntityID: target}
	}

	_, err := c.sendMessage(msgID, req)
	return err
}

// TurnOn turns an entity on. data carries extra service data such as
// brightness for lights.
func (c *Client) TurnOn(entityID string, data map[string]interface{}) error {
	return c.CallService("homeassistant", "turn_on", data, entityID)
}

// TurnOff turns an entity off.
func (c *Client) TurnOff(entityID string) error {
	return c.CallService("homeassistant", "turn_off", nil, entityID)
}

// SetState creates or updates an entity's state representation directly.
// The WebSocket API has no set_state command, so this goes through the
// REST API on the same host.
func (c *Client) SetState(entityID, state string, attributes map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"state":      state,
		"attributes": attributes,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal state body: %w", err)
	}

	url := fmt.Sprintf("%s/api/states/%s", c.restBaseURL(), entityID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build set_state request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("set_state request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("set_state failed for %s: status %d", entityID, resp.StatusCode)
	}

	return nil
}

// restBaseURL derives the REST endpoint from the websocket URL.
func (c *Client) restBaseURL() string {
	base := strings.TrimSuffix(c.url, "/api/websocket")
	base = strings.Replace(base, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)
	return base
}
