// Package testutil provides testing utilities for the climate coordinator.
// This package contains a mock Home Assistant WebSocket server and helpers
// for writing integration tests.
package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg interface{}) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.WriteJSON(msg)
}

// MockHAServer simulates a Home Assistant WebSocket server
type MockHAServer struct {
	server       *http.Server
	listener     net.Listener
	addr         string
	states       map[string]*EntityState
	statesMu     sync.RWMutex
	connections  []*connWrapper
	connsMu      sync.Mutex
	eventDelay   time.Duration // Simulates network latency
	token        string
	serviceCalls []ServiceCall // Track all service calls for verification
	firedEvents  []FiredEvent
	failing      map[string]bool
	callsMu      sync.Mutex // Protects serviceCalls, firedEvents and failing
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// FiredEvent records a fire_event request
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *errorBody      `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Event represents a Home Assistant event
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

type request struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
	Target      *struct {
		EntityID []string `json:"entity_id"`
	} `json:"target,omitempty"`
	EventType string                 `json:"event_type,omitempty"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

// NewMockHAServer creates a new mock HA server. Use port 0 in addr to pick a free port.
func NewMockHAServer(addr, token string) *MockHAServer {
	return &MockHAServer{
		addr:         addr,
		states:       make(map[string]*EntityState),
		connections:  make([]*connWrapper, 0),
		eventDelay:   10 * time.Millisecond,
		token:        token,
		serviceCalls: make([]ServiceCall, 0),
		failing:      make(map[string]bool),
	}
}

// SetEventDelay sets the delay for broadcasting events
func (s *MockHAServer) SetEventDelay(delay time.Duration) {
	s.eventDelay = delay
}

// Start starts the mock server
func (s *MockHAServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Mock HA server error: %v", err)
		}
	}()
	return nil
}

// URL returns the WebSocket URL clients connect to
func (s *MockHAServer) URL() string {
	return fmt.Sprintf("ws://%s/api/websocket", s.addr)
}

// Stop stops the mock server
func (s *MockHAServer) Stop() error {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// SetState sets a state and broadcasts change event
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	s.statesMu.Lock()
	oldState := s.states[entityID]

	now := time.Now()
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	if newState.Attributes == nil {
		newState.Attributes = map[string]interface{}{}
	}

	s.states[entityID] = newState
	s.statesMu.Unlock()

	if s.eventDelay > 0 {
		time.Sleep(s.eventDelay)
	}
	s.broadcastStateChange(entityID, oldState, newState)
}

// SetStateQuietly replaces a state without broadcasting an event
func (s *MockHAServer) SetStateQuietly(entityID, state string) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	attrs := map[string]interface{}{}
	if old := s.states[entityID]; old != nil {
		attrs = old.Attributes
	}
	now := time.Now()
	s.states[entityID] = &EntityState{EntityID: entityID, State: state, Attributes: attrs, LastChanged: now, LastUpdated: now}
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// FailService makes calls to domain.service return an error result
func (s *MockHAServer) FailService(domain, service string) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.failing[domain+"."+service] = true
}

// handleWebSocket handles WebSocket connections
func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	wrapper := &connWrapper{conn: conn}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, w := range s.connections {
			if w.conn == conn {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.write(Message{Type: "auth_required"})

	var authMsg AuthMessage
	if err := conn.ReadJSON(&authMsg); err != nil {
		return
	}
	if authMsg.AccessToken != s.token {
		wrapper.write(Message{Type: "auth_invalid"})
		return
	}
	wrapper.write(Message{Type: "auth_ok"})

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch req.Type {
		case "subscribe_events":
			wrapper.write(result(req.ID, nil))
		case "get_states":
			s.handleGetStates(wrapper, req)
		case "call_service":
			s.handleCallService(wrapper, req)
		case "fire_event":
			s.callsMu.Lock()
			s.firedEvents = append(s.firedEvents, FiredEvent{EventType: req.EventType, Data: req.EventData})
			s.callsMu.Unlock()
			wrapper.write(result(req.ID, nil))
		default:
			wrapper.write(failure(req.ID, "unknown_command", "Unknown command."))
		}
	}
}

func result(id int, data json.RawMessage) Message {
	success := true
	return Message{ID: id, Type: "result", Success: &success, Result: data}
}

func failure(id int, code, message string) Message {
	success := false
	return Message{ID: id, Type: "result", Success: &success, Error: &errorBody{Code: code, Message: message}}
}

func (s *MockHAServer) handleGetStates(wrapper *connWrapper, req request) {
	s.statesMu.RLock()
	states := make([]*EntityState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	s.statesMu.RUnlock()

	statesJSON, _ := json.Marshal(states)
	wrapper.write(result(req.ID, statesJSON))
}

// handleCallService records the call and applies the effect of the climate
// and input helpers a coordinator uses.
func (s *MockHAServer) handleCallService(wrapper *connWrapper, req request) {
	call := ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	}
	if req.Target != nil {
		call.Target = req.Target.EntityID
	}

	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, call)
	failing := s.failing[req.Domain+"."+req.Service]
	s.callsMu.Unlock()

	if failing {
		wrapper.write(failure(req.ID, "service_validation_error", "Service call failed."))
		return
	}
	// Reply before applying the effect so that a state_changed broadcast
	// never delays the caller waiting for its result.
	wrapper.write(result(req.ID, nil))

	for _, entityID := range call.EntityIDs() {
		s.apply(entityID, req.Domain, req.Service, req.ServiceData)
	}
}

func (s *MockHAServer) apply(entityID, domain, service string, data map[string]interface{}) {
	old := s.GetState(entityID)
	if old == nil {
		return
	}
	attrs := make(map[string]interface{}, len(old.Attributes))
	for k, v := range old.Attributes {
		attrs[k] = v
	}
	newState := old.State

	switch domain {
	case "input_boolean":
		newState = "off"
		if service == "turn_on" {
			newState = "on"
		}
	case "input_text":
		if value, ok := data["value"].(string); ok {
			newState = value
		}
	case "climate":
		switch service {
		case "set_temperature":
			if t, ok := data["temperature"]; ok {
				attrs["temperature"] = t
			}
			if mode, ok := data["hvac_mode"].(string); ok {
				newState = mode
			}
		case "set_hvac_mode":
			if mode, ok := data["hvac_mode"].(string); ok {
				newState = mode
			}
		case "set_preset_mode":
			if preset, ok := data["preset_mode"]; ok {
				attrs["preset_mode"] = preset
			}
		case "turn_off":
			newState = "off"
		case "turn_on":
			newState = "heat"
		}
	default:
		return
	}

	s.SetState(entityID, newState, attrs)
}

// broadcastStateChange broadcasts a state change event to all connections
func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *EntityState) {
	eventDataJSON, _ := json.Marshal(StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})

	msg := Message{
		Type: "event",
		Event: &Event{
			EventType: "state_changed",
			Data:      eventDataJSON,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	wrappers := make([]*connWrapper, len(s.connections))
	copy(wrappers, s.connections)
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		wrapper.write(msg)
	}
}

// GetServiceCalls returns all service calls since last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// GetFiredEvents returns all fired events since last clear
func (s *MockHAServer) GetFiredEvents() []FiredEvent {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return append([]FiredEvent(nil), s.firedEvents...)
}

// ClearServiceCalls resets the service call and event log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
	s.firedEvents = nil
}

// FindServiceCall finds the most recent service call matching criteria.
// An empty entityID matches on domain/service only.
func (s *MockHAServer) FindServiceCall(domain, service string, entityID string) *ServiceCall {
	return FindServiceCallWithEntityID(s.GetServiceCalls(), domain, service, entityID)
}

// CountServiceCalls counts service calls matching criteria
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	return len(FilterServiceCalls(s.GetServiceCalls(), domain, service))
}
