// Package testutil provides testing utilities for the climate coordinator.
// This file provides a TestEnv for integration testing against the mock server.
package testutil

import (
	"fmt"

	"go.uber.org/zap"

	"climacore/internal/ha"
)

// TestEnv bundles a mock HA server and a real client connected to it.
type TestEnv struct {
	Server   *MockHAServer
	HAClient *ha.Client
	Logger   *zap.Logger
}

// NewTestEnv starts a mock HA server on addr, seeds it with the climate
// fixtures and connects a client.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv("127.0.0.1:0", "test_token")
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
func NewTestEnv(addr, token string) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockHAServer(addr, token)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mock server: %w", err)
	}
	server.SetEventDelay(0)
	server.InitializeClimateStates()

	client := ha.NewClient(server.URL(), token, logger)
	if err := client.Connect(); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	return &TestEnv{
		Server:   server,
		HAClient: client,
		Logger:   logger,
	}, nil
}

// InitializeClimateStates seeds a two-zone house: a living room with two
// thermostats and a window, and a bathroom.
func (s *MockHAServer) InitializeClimateStates() {
	s.SetState("weather.home", "cloudy", map[string]interface{}{"temperature": 4.5, "humidity": 87.0})
	s.SetState("input_boolean.gasten", "off", nil)
	s.SetState("input_boolean.onderweg", "off", nil)
	s.SetState("person.anna", "home", map[string]interface{}{"gps_accuracy": 10.0})
	s.SetState("person.bram", "not_home", nil)
	s.SetState("binary_sensor.living_window", "off", nil)
	s.SetState("climate.living", "heat", map[string]interface{}{"current_temperature": 19.5, "temperature": 19.0})
	s.SetState("climate.kitchen", "heat", map[string]interface{}{"current_temperature": 19.0, "temperature": 19.0})
	s.SetState("climate.bathroom", "heat", map[string]interface{}{"current_temperature": 20.0, "temperature": 18.0})
	s.SetState("input_text.climacore_scenario", "", nil)
	s.SetState("input_text.climacore_background_url", "", nil)
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.HAClient != nil {
		e.HAClient.Disconnect()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}

// GetServiceCalls returns all service calls made to the mock server.
func (e *TestEnv) GetServiceCalls() []ServiceCall {
	return e.Server.GetServiceCalls()
}

// ClearServiceCalls clears the recorded service calls.
func (e *TestEnv) ClearServiceCalls() {
	e.Server.ClearServiceCalls()
}
