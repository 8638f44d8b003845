package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	responseTimeout  = 10 * time.Second
	reconnectInitial = time.Second
	reconnectMax     = 30 * time.Second
)

// HAClient defines the interface for Home Assistant WebSocket client
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetState(entityID string) (*State, error)
	GetAllStates() ([]*State, error)
	CallService(domain, service string, data map[string]interface{}) error
	CallServiceWithTarget(domain, service string, data map[string]interface{}, entityIDs []string) error
	FireEvent(eventType string, data map[string]interface{}) error
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error)
	SetInputText(name string, value string) error
}

// Client implements HAClient over the Home Assistant WebSocket API
type Client struct {
	url         string
	token       string
	logger      *zap.Logger
	conn        *websocket.Conn
	connected   bool
	connMu      sync.RWMutex
	msgID       int
	msgIDMu     sync.Mutex
	pending     map[int]chan Message
	pendingMu   sync.Mutex
	subscribers map[string][]subscriberEntry
	subsMu      sync.RWMutex
	nextSubID   int
	nextSubIDMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	reconnect   bool
	writeMu     sync.Mutex // Protects websocket writes
}

// NewClient creates a new Home Assistant WebSocket client
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:         url,
		token:       token,
		logger:      logger.Named("ha"),
		pending:     make(map[int]chan Message),
		subscribers: make(map[string][]subscriberEntry),
		ctx:         ctx,
		cancel:      cancel,
		reconnect:   true,
	}
}

func (c *Client) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Connect establishes WebSocket connection and authenticates
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	if err := c.dialAndAuthLocked(); err != nil {
		c.connMu.Unlock()
		return err
	}

	c.resetContextLocked()
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to Home Assistant")

	go c.receiveMessages(c.ctx, c.conn)

	// Release lock before subscribing; sendMessage takes the read lock
	c.connMu.Unlock()

	if err := c.subscribeToStateChanges(); err != nil {
		c.logger.Warn("Failed to subscribe to state changes", zap.Error(err))
	}

	return nil
}

// dialAndAuthLocked performs the auth_required/auth/auth_ok handshake.
// connMu must be held.
func (c *Client) dialAndAuthLocked() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	var authRequired Message
	if err := conn.ReadJSON(&authRequired); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if authRequired.Type != "auth_required" {
		conn.Close()
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	c.writeMu.Lock()
	err = conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.token})
	c.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResponse Message
	if err := conn.ReadJSON(&authResponse); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	switch authResponse.Type {
	case "auth_ok":
	case "auth_invalid":
		conn.Close()
		return fmt.Errorf("authentication failed: invalid token")
	default:
		conn.Close()
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}

	c.conn = conn
	return nil
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.reconnect = false
	c.cancel()

	if !c.connected {
		return nil
	}
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.subsMu.Lock()
	c.subscribers = make(map[string][]subscriberEntry)
	c.subsMu.Unlock()

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

// sendMessage sends a request and waits for its result message
func (c *Client) sendMessage(msgID int, msg interface{}) (*Message, error) {
	c.connMu.RLock()
	if !c.connected {
		c.connMu.RUnlock()
		return nil, fmt.Errorf("not connected")
	}
	conn := c.conn
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
	err := conn.WriteJSON(msg)
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
	case <-time.After(responseTimeout):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages handles incoming messages in the background
func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect()
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
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

// handleEvent dispatches state_changed events to per-entity subscribers
func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" {
		return
	}

	var eventData StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &eventData); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}

	c.subsMu.RLock()
	entries := append([]subscriberEntry(nil), c.subscribers[eventData.EntityID]...)
	c.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(eventData.EntityID, eventData.OldState, eventData.NewState)
	}
}

func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	shouldReconnect := c.reconnect
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if shouldReconnect {
		go c.attemptReconnect()
	}
}

// attemptReconnect tries to reconnect with exponential backoff
func (c *Client) attemptReconnect() {
	backoff := reconnectInitial

	for {
		c.connMu.RLock()
		stop := !c.reconnect
		c.connMu.RUnlock()
		if stop {
			return
		}

		time.Sleep(backoff)

		c.logger.Info("Attempting to reconnect...")
		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err), zap.Duration("backoff", backoff))
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

func (c *Client) subscribeToStateChanges() error {
	msgID := c.nextMsgID()
	_, err := c.sendMessage(msgID, &SubscribeEventsRequest{
		ID:        msgID,
		Type:      "subscribe_events",
		EventType: "state_changed",
	})
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
	resp, err := c.sendMessage(msgID, &GetStatesRequest{
		ID:   msgID,
		Type: "get_states",
	})
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}

	return states, nil
}

// CallService calls a Home Assistant service
func (c *Client) CallService(domain, service string, data map[string]interface{}) error {
	return c.CallServiceWithTarget(domain, service, data, nil)
}

// CallServiceWithTarget calls a service and addresses it to the given entities
// through the request target rather than service_data.
func (c *Client) CallServiceWithTarget(domain, service string, data map[string]interface{}, entityIDs []string) error {
	msgID := c.nextMsgID()
	req := &CallServiceRequest{
		ID:          msgID,
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	}
	if len(entityIDs) > 0 {
		req.Target = &ServiceTarget{EntityID: entityIDs}
	}

	_, err := c.sendMessage(msgID, req)
	return err
}

// FireEvent fires a custom event on the Home Assistant event bus
func (c *Client) FireEvent(eventType string, data map[string]interface{}) error {
	msgID := c.nextMsgID()
	_, err := c.sendMessage(msgID, &FireEventRequest{
		ID:        msgID,
		Type:      "fire_event",
		EventType: eventType,
		EventData: data,
	})
	return err
}

// SubscribeStateChanges subscribes to state changes for a specific entity
func (c *Client) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	c.nextSubIDMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.nextSubIDMu.Unlock()

	c.subsMu.Lock()
	c.subscribers[entityID] = append(c.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	c.subsMu.Unlock()

	return &subscription{
		entityID: entityID,
		subID:    subID,
		client:   c,
	}, nil
}

func (c *Client) unsubscribe(entityID string, subID int) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subscribers[entityID] = removeSubscriber(c.subscribers[entityID], subID)
	if len(c.subscribers[entityID]) == 0 {
		delete(c.subscribers, entityID)
	}
	return nil
}

func removeSubscriber(entries []subscriberEntry, subID int) []subscriberEntry {
	for i, entry := range entries {
		if entry.subID == subID {
			out := make([]subscriberEntry, 0, len(entries)-1)
			out = append(out, entries[:i]...)
			return append(out, entries[i+1:]...)
		}
	}
	return entries
}

// SetInputText sets the value of an input_text
func (c *Client) SetInputText(name string, value string) error {
	return c.CallService("input_text", "set_value", map[string]interface{}{
		"entity_id": fmt.Sprintf("input_text.%s", name),
		"value":     value,
	})
}
