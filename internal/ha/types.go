package ha

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Home Assistant reports these instead of a real value when an entity has no reading.
const (
	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
)

// Message represents a base WebSocket message to/from Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error represents an error response from Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event represents an event message from Home Assistant
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State represents an entity state
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// IsAvailable reports whether the entity carries a usable value.
func (s *State) IsAvailable() bool {
	return s != nil && s.State != StateUnavailable && s.State != StateUnknown
}

// Attribute returns the raw attribute value, or nil when absent.
func (s *State) Attribute(name string) interface{} {
	if s == nil || s.Attributes == nil {
		return nil
	}
	return s.Attributes[name]
}

// FloatAttribute reads a numeric attribute, accepting JSON numbers and numeric
// strings. Missing, non-numeric or non-finite values yield def.
func (s *State) FloatAttribute(name string, def float64) float64 {
	var f float64
	switch v := s.Attribute(name).(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return def
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

// CallServiceRequest represents a call_service request
type CallServiceRequest struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
	Target      *ServiceTarget         `json:"target,omitempty"`
}

// ServiceTarget represents service call target
type ServiceTarget struct {
	EntityID []string `json:"entity_id,omitempty"`
}

// GetStatesRequest represents a get_states request
type GetStatesRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// SubscribeEventsRequest represents a subscribe_events request
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// FireEventRequest represents a fire_event request
type FireEventRequest struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

// StateChangeHandler is called when a state change event is received
type StateChangeHandler func(entityID string, oldState, newState *State)

// Subscription represents an active event subscription
type Subscription interface {
	Unsubscribe() error
}

// subscriberEntry holds a handler with its unique subscription ID
type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// subscription implements Subscription for Client
type subscription struct {
	entityID string
	subID    int
	client   *Client
}

func (s *subscription) Unsubscribe() error {
	return s.client.unsubscribe(s.entityID, s.subID)
}
