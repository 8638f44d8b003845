package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient interface for testing
type MockClient struct {
	states       map[string]*State
	statesMu     sync.RWMutex
	subscribers  map[string][]subscriberEntry
	subsMu       sync.RWMutex
	nextSubID    int
	nextSubIDMu  sync.Mutex
	connected    bool
	connMu       sync.RWMutex
	serviceCalls []ServiceCall
	events       []FiredEvent
	failing      map[string]bool
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

// FiredEvent records a FireEvent call for testing
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
}

type mockSubscription struct {
	entityID string
	subID    int
	mock     *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	return s.mock.unsubscribe(s.entityID, s.subID)
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states:       make(map[string]*State),
		subscribers:  make(map[string][]subscriberEntry),
		serviceCalls: make([]ServiceCall, 0),
		failing:      make(map[string]bool),
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
	m.connected = false
	m.connMu.Unlock()

	m.subsMu.Lock()
	m.subscribers = make(map[string][]subscriberEntry)
	m.subsMu.Unlock()
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
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

// CallService records a service call
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	return m.CallServiceWithTarget(domain, service, data, nil)
}

// CallServiceWithTarget records a service call together with its target entities.
// Calls to services registered with FailService are recorded and then fail.
func (m *MockClient) CallServiceWithTarget(domain, service string, data map[string]interface{}, entityIDs []string) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Target:  entityIDs,
		Time:    time.Now(),
	})
	fail := m.failing[domain+"."+service]
	m.callsMu.Unlock()

	if fail {
		return fmt.Errorf("HA error: service %s.%s failed", domain, service)
	}

	if entityID, ok := data["entity_id"].(string); ok && domain == "input_text" {
		if value, ok := data["value"].(string); ok {
			m.SimulateStateChange(entityID, value)
		}
	}

	return nil
}

// FailService makes every subsequent call to domain.service return an error
func (m *MockClient) FailService(domain, service string) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.failing[domain+"."+service] = true
}

// FireEvent records a fired event
func (m *MockClient) FireEvent(eventType string, data map[string]interface{}) error {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.events = append(m.events, FiredEvent{EventType: eventType, Data: data})
	return nil
}

// GetFiredEvents returns all recorded events
func (m *MockClient) GetFiredEvents() []FiredEvent {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	events := make([]FiredEvent, len(m.events))
	copy(events, m.events)
	return events
}

// SubscribeStateChanges subscribes to state changes
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.nextSubIDMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.nextSubIDMu.Unlock()

	m.subsMu.Lock()
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockSubscription{
		entityID: entityID,
		subID:    subID,
		mock:     m,
	}, nil
}

func (m *MockClient) unsubscribe(entityID string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subscribers[entityID] = removeSubscriber(m.subscribers[entityID], subID)
	if len(m.subscribers[entityID]) == 0 {
		delete(m.subscribers, entityID)
	}
	return nil
}

// SubscriberCount returns how many handlers are registered for an entity
func (m *MockClient) SubscriberCount(entityID string) int {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	return len(m.subscribers[entityID])
}

// SetInputText sets a mock input_text
func (m *MockClient) SetInputText(name string, value string) error {
	return m.CallService("input_text", "set_value", map[string]interface{}{
		"entity_id": fmt.Sprintf("input_text.%s", name),
		"value":     value,
	})
}

// SetState sets a mock state and notifies subscribers
func (m *MockClient) SetState(entityID string, stateValue string, attributes map[string]interface{}) {
	m.statesMu.Lock()
	now := time.Now()
	oldState := m.states[entityID]
	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// SetStateQuietly replaces a state without notifying subscribers, as when a
// sensor value changes while nobody is listening.
func (m *MockClient) SetStateQuietly(entityID string, stateValue string) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()

	newState := &State{EntityID: entityID, State: stateValue, Attributes: map[string]interface{}{}}
	if old := m.states[entityID]; old != nil {
		newState.Attributes = old.Attributes
	}
	m.states[entityID] = newState
}

// SimulateStateChange simulates a state change event keeping existing attributes
func (m *MockClient) SimulateStateChange(entityID string, newStateValue string) {
	m.statesMu.Lock()
	oldState := m.states[entityID]

	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       newStateValue,
		Attributes:  make(map[string]interface{}),
		LastChanged: now,
		LastUpdated: now,
	}

	if oldState != nil {
		newState.Attributes = oldState.Attributes
	}

	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// SimulateAttributeChange emits a state_changed event whose state value is
// unchanged, as HA does when only attributes (e.g. GPS accuracy) move.
func (m *MockClient) SimulateAttributeChange(entityID string, attributes map[string]interface{}) {
	m.statesMu.Lock()
	oldState := m.states[entityID]
	value := ""
	if oldState != nil {
		value = oldState.State
	}
	newState := &State{EntityID: entityID, State: value, Attributes: attributes, LastUpdated: time.Now()}
	if oldState != nil {
		newState.LastChanged = oldState.LastChanged
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// GetServiceCalls returns all recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ClearServiceCalls clears the service call and event history
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = make([]ServiceCall, 0)
	m.events = nil
}

func (m *MockClient) notifySubscribers(entityID string, oldState, newState *State) {
	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}
