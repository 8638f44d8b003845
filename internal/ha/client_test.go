package ha

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockHAServer creates a mock Home Assistant WebSocket server
func mockHAServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("Failed to upgrade connection: %v", err)
		}
		defer conn.Close()

		handler(conn)
	}))
}

// standardAuthFlow handles the standard authentication flow
func standardAuthFlow(t *testing.T, conn *websocket.Conn, token string) {
	// Send auth_required
	err := conn.WriteJSON(Message{Type: "auth_required"})
	require.NoError(t, err)

	// Receive auth message
	var authMsg AuthMessage
	err = conn.ReadJSON(&authMsg)
	require.NoError(t, err)
	assert.Equal(t, "auth", authMsg.Type)
	assert.Equal(t, token, authMsg.AccessToken)

	// Send auth_ok
	err = conn.WriteJSON(Message{Type: "auth_ok"})
	require.NoError(t, err)
}

func TestClient_Connect(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	t.Run("successful connection", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)

			// Receive subscribe_events message
			var subMsg SubscribeEventsRequest
			conn.ReadJSON(&subMsg)

			// Send success response
			success := true
			conn.WriteJSON(Message{
				ID:      subMsg.ID,
				Type:    "result",
				Success: &success,
			})

			// Keep connection open
			time.Sleep(100 * time.Millisecond)
		})
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		client := NewClient(url, token, logger)

		err := client.Connect()
		assert.NoError(t, err)
		assert.True(t, client.IsConnected())

		client.Disconnect()
	})

	t.Run("invalid token", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			// Send auth_required
			conn.WriteJSON(Message{Type: "auth_required"})

			// Receive auth message
			var authMsg AuthMessage
			conn.ReadJSON(&authMsg)

			// Send auth_invalid
			conn.WriteJSON(Message{Type: "auth_invalid"})
		})
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		client := NewClient(url, "wrong_token", logger)

		err := client.Connect()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "authentication failed")
		assert.False(t, client.IsConnected())
	})

	t.Run("already connected", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)

			// Receive subscribe_events
			var subMsg SubscribeEventsRequest
			conn.ReadJSON(&subMsg)
			success := true
			conn.WriteJSON(Message{
				ID:      subMsg.ID,
				Type:    "result",
				Success: &success,
			})

			time.Sleep(100 * time.Millisecond)
		})
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		client := NewClient(url, token, logger)

		err := client.Connect()
		require.NoError(t, err)

		err = client.Connect()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already connected")

		client.Disconnect()
	})
}

func TestClient_GetAllStates(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		// Handle subscribe_events
		var subMsg SubscribeEventsRequest
		conn.ReadJSON(&subMsg)
		success := true
		conn.WriteJSON(Message{
			ID:      subMsg.ID,
			Type:    "result",
			Success: &success,
		})

		// Handle get_states request
		var statesReq GetStatesRequest
		conn.ReadJSON(&statesReq)

		states := []*State{
			{
				EntityID: "input_boolean.test",
				State:    "on",
				Attributes: map[string]interface{}{
					"friendly_name": "Test Boolean",
				},
			},
			{
				EntityID: "input_number.test",
				State:    "42.5",
				Attributes: map[string]interface{}{
					"friendly_name": "Test Number",
				},
			},
		}

		statesJSON, _ := json.Marshal(states)
		conn.WriteJSON(Message{
			ID:      statesReq.ID,
			Type:    "result",
			Success: &success,
			Result:  statesJSON,
		})

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)

	err := client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	states, err := client.GetAllStates()
	assert.NoError(t, err)
	assert.Len(t, states, 2)
	assert.Equal(t, "input_boolean.test", states[0].EntityID)
	assert.Equal(t, "on", states[0].State)
}

func TestClient_GetState(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		// Handle subscribe_events
		var subMsg SubscribeEventsRequest
		conn.ReadJSON(&subMsg)
		success := true
		conn.WriteJSON(Message{
			ID:      subMsg.ID,
			Type:    "result",
			Success: &success,
		})

		// Handle get_states request
		var statesReq GetStatesRequest
		conn.ReadJSON(&statesReq)

		states := []*State{
			{
				EntityID: "input_boolean.test",
				State:    "on",
			},
		}

		statesJSON, _ := json.Marshal(states)
		conn.WriteJSON(Message{
			ID:      statesReq.ID,
			Type:    "result",
			Success: &success,
			Result:  statesJSON,
		})

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)

	err := client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	state, err := client.GetState("input_boolean.test")
	assert.NoError(t, err)
	assert.Equal(t, "input_boolean.test", state.EntityID)
	assert.Equal(t, "on", state.State)

	_, err = client.GetState("nonexistent")
	assert.Error(t, err)
}

func TestClient_CallService(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		// Handle subscribe_events
		var subMsg SubscribeEventsRequest
		conn.ReadJSON(&subMsg)
		success := true
		conn.WriteJSON(Message{
			ID:      subMsg.ID,
			Type:    "result",
			Success: &success,
		})

		// Handle call_service request
		var serviceReq CallServiceRequest
		conn.ReadJSON(&serviceReq)

		assert.Equal(t, "input_boolean", serviceReq.Domain)
		assert.Equal(t, "turn_on", serviceReq.Service)
		assert.Equal(t, "input_boolean.test", serviceReq.ServiceData["entity_id"])

		conn.WriteJSON(Message{
			ID:      serviceReq.ID,
			Type:    "result",
			Success: &success,
		})

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)

	err := client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	err = client.CallService("input_boolean", "turn_on", map[string]interface{}{
		"entity_id": "input_boolean.test",
	})
	assert.NoError(t, err)
}

func TestClient_SetInputText(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		// Handle subscribe_events
		var subMsg SubscribeEventsRequest
		conn.ReadJSON(&subMsg)
		success := true
		conn.WriteJSON(Message{
			ID:      subMsg.ID,
			Type:    "result",
			Success: &success,
		})

		// Handle service call
		var serviceReq CallServiceRequest
		conn.ReadJSON(&serviceReq)

		assert.Equal(t, "input_text", serviceReq.Domain)
		assert.Equal(t, "set_value", serviceReq.Service)
		assert.Equal(t, "test_value", serviceReq.ServiceData["value"])

		conn.WriteJSON(Message{
			ID:      serviceReq.ID,
			Type:    "result",
			Success: &success,
		})

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)

	err := client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	err = client.SetInputText("test", "test_value")
	assert.NoError(t, err)
}

// acceptSubscribe answers the subscribe_events request sent during Connect
func acceptSubscribe(conn *websocket.Conn) {
	var subMsg SubscribeEventsRequest
	conn.ReadJSON(&subMsg)
	success := true
	conn.WriteJSON(Message{
		ID:      subMsg.ID,
		Type:    "result",
		Success: &success,
	})
}

func TestClient_CallServiceWithTarget(t *testing.T) {
	logger := zap.NewNop()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		acceptSubscribe(conn)

		var serviceReq CallServiceRequest
		conn.ReadJSON(&serviceReq)

		assert.Equal(t, "climate", serviceReq.Domain)
		assert.Equal(t, "set_temperature", serviceReq.Service)
		assert.Equal(t, 21.5, serviceReq.ServiceData["temperature"])
		if assert.NotNil(t, serviceReq.Target) {
			assert.Equal(t, []string{"climate.living", "climate.kitchen"}, serviceReq.Target.EntityID)
		}

		success := true
		conn.WriteJSON(Message{ID: serviceReq.ID, Type: "result", Success: &success})
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	err := client.CallServiceWithTarget("climate", "set_temperature",
		map[string]interface{}{"temperature": 21.5},
		[]string{"climate.living", "climate.kitchen"})
	assert.NoError(t, err)
}

func TestClient_CallServiceError(t *testing.T) {
	logger := zap.NewNop()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		acceptSubscribe(conn)

		var serviceReq CallServiceRequest
		conn.ReadJSON(&serviceReq)

		failed := false
		conn.WriteJSON(Message{
			ID:      serviceReq.ID,
			Type:    "result",
			Success: &failed,
			Error:   &Error{Code: "not_found", Message: "Service climate.nope not found"},
		})
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	err := client.CallService("climate", "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")
}

func TestClient_FireEvent(t *testing.T) {
	logger := zap.NewNop()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		acceptSubscribe(conn)

		var req FireEventRequest
		conn.ReadJSON(&req)

		assert.Equal(t, "fire_event", req.Type)
		assert.Equal(t, "climacore_scenario_update", req.EventType)
		assert.Equal(t, "Dag - Koud", req.EventData["scenario"])

		success := true
		conn.WriteJSON(Message{ID: req.ID, Type: "result", Success: &success})
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	err := client.FireEvent("climacore_scenario_update", map[string]interface{}{"scenario": "Dag - Koud"})
	assert.NoError(t, err)
}

func TestClient_StateChangedDispatch(t *testing.T) {
	logger := zap.NewNop()
	token := "test_token"

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		acceptSubscribe(conn)

		// Give the test time to register its handler
		time.Sleep(50 * time.Millisecond)

		data, _ := json.Marshal(StateChangedEvent{
			EntityID: "binary_sensor.window_living",
			OldState: &State{EntityID: "binary_sensor.window_living", State: "off"},
			NewState: &State{EntityID: "binary_sensor.window_living", State: "on"},
		})
		conn.WriteJSON(Message{
			Type:  "event",
			Event: &Event{EventType: "state_changed", Data: data},
		})
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	received := make(chan string, 1)
	_, err := client.SubscribeStateChanges("binary_sensor.window_living", func(entityID string, oldState, newState *State) {
		received <- oldState.State + "->" + newState.State
	})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "off->on", got)
	case <-time.After(2 * time.Second):
		t.Fatal("state_changed event was not dispatched")
	}
}

func TestState_Helpers(t *testing.T) {
	var nilState *State
	assert.False(t, nilState.IsAvailable())
	assert.Equal(t, 15.0, nilState.FloatAttribute("temperature", 15.0))

	s := &State{
		EntityID: "weather.home",
		State:    "cloudy",
		Attributes: map[string]interface{}{
			"temperature": 4.5,
			"humidity":    "87",
			"pressure":    "n/a",
			"dew_point":   "nan",
			"wind_speed":  "+Inf",
			"visibility":  math.Inf(-1),
		},
	}
	assert.True(t, s.IsAvailable())
	assert.Equal(t, 4.5, s.FloatAttribute("temperature", 15.0))
	assert.Equal(t, 87.0, s.FloatAttribute("humidity", 50))
	assert.Equal(t, 1013.0, s.FloatAttribute("pressure", 1013))
	assert.Equal(t, 0.0, s.FloatAttribute("missing", 0))
	assert.Equal(t, 2.0, s.FloatAttribute("dew_point", 2))
	assert.Equal(t, 3.0, s.FloatAttribute("wind_speed", 3))
	assert.Equal(t, 10.0, s.FloatAttribute("visibility", 10))

	assert.False(t, (&State{State: StateUnavailable}).IsAvailable())
	assert.False(t, (&State{State: StateUnknown}).IsAvailable())
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()

	t.Run("connection", func(t *testing.T) {
		assert.False(t, mock.IsConnected())

		err := mock.Connect()
		assert.NoError(t, err)
		assert.True(t, mock.IsConnected())

		err = mock.Connect()
		assert.Error(t, err)

		err = mock.Disconnect()
		assert.NoError(t, err)
		assert.False(t, mock.IsConnected())
	})

	t.Run("state management", func(t *testing.T) {
		mock.SetState("binary_sensor.window", "on", map[string]interface{}{
			"friendly_name": "Window",
		})

		state, err := mock.GetState("binary_sensor.window")
		assert.NoError(t, err)
		assert.Equal(t, "on", state.State)

		_, err = mock.GetState("nonexistent")
		assert.Error(t, err)
	})

	t.Run("service calls", func(t *testing.T) {
		mock.ClearServiceCalls()

		err := mock.CallServiceWithTarget("climate", "set_hvac_mode",
			map[string]interface{}{"hvac_mode": "heat"}, []string{"climate.living"})
		assert.NoError(t, err)

		calls := mock.GetServiceCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "climate", calls[0].Domain)
		assert.Equal(t, "set_hvac_mode", calls[0].Service)
		assert.Equal(t, []string{"climate.living"}, calls[0].Target)
	})

	t.Run("injected failure", func(t *testing.T) {
		mock.ClearServiceCalls()
		mock.FailService("climate", "set_temperature")

		err := mock.CallServiceWithTarget("climate", "set_temperature", nil, []string{"climate.bath"})
		assert.Error(t, err)
		// Failed calls are still recorded
		assert.Len(t, mock.GetServiceCalls(), 1)
	})

	t.Run("events", func(t *testing.T) {
		require.NoError(t, mock.FireEvent("climacore_scenario_update", map[string]interface{}{"scenario": "Afwezig"}))
		events := mock.GetFiredEvents()
		require.Len(t, events, 1)
		assert.Equal(t, "Afwezig", events[0].Data["scenario"])
	})

	t.Run("subscriptions", func(t *testing.T) {
		callCount := 0
		handler := func(entityID string, oldState, newState *State) {
			callCount++
			assert.Equal(t, "binary_sensor.window", entityID)
			assert.Equal(t, "off", newState.State)
		}

		sub, err := mock.SubscribeStateChanges("binary_sensor.window", handler)
		assert.NoError(t, err)

		mock.SimulateStateChange("binary_sensor.window", "off")
		assert.Equal(t, 1, callCount)

		require.NoError(t, sub.Unsubscribe())
		mock.SimulateStateChange("binary_sensor.window", "on")
		assert.Equal(t, 1, callCount)
	})
}
