package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"climacore/internal/brain"
	"climacore/internal/clock"
	"climacore/internal/config"
	"climacore/internal/ha"
)

const testOptionsYAML = `weather_entity: weather.home
gasten_entity: input_boolean.gasten
onderweg_entity: input_boolean.onderweg
person_entities: [person.anna, person.bram]
presence_sensors: [binary_sensor.tag_keys]
home_wifi_ssid: Thuis
wifi_tracker_sensors: [sensor.anna_wifi]
zones:
  zone_1:
    zone_name: Woonkamer
    climate_entities: [climate.living, climate.kitchen]
    window_sensors: [binary_sensor.living_window, binary_sensor.kitchen_window]
  zone_2:
    zone_name: Badkamer
    climate_entities: [climate.bathroom]
    lookup_prefix: badkamer
    day_start: "07:00:00"
    night_start: "21:30:00"
  zone_3:
    climate_entities: [climate.bedroom]
    lookup_prefix: slaapkamer_1
  zone_4:
    zone_name: Zolder
setpoints:
  temp_woonkamer_dag_koud: 22.0
`

const (
	livingWindow  = "binary_sensor.living_window"
	kitchenWindow = "binary_sensor.kitchen_window"
)

// fakeBrain records requests and returns canned responses. When block is set,
// MainLogic signals entered and waits for block to close.
type fakeBrain struct {
	mu             sync.Mutex
	mainCalls      []*Payload
	proactiveCalls []ProactivePayload

	mainResp      *brain.MainLogicResponse
	mainErr       error
	proactiveResp *brain.ProactiveStartResponse
	proactiveErr  error

	block   chan struct{}
	entered chan struct{}
}

func (f *fakeBrain) MainLogic(ctx context.Context, payload interface{}) (*brain.MainLogicResponse, error) {
	f.mu.Lock()
	f.mainCalls = append(f.mainCalls, payload.(*Payload))
	block, entered := f.block, f.entered
	resp, err := f.mainResp, f.mainErr
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &brain.MainLogicResponse{}, nil
	}
	return resp, nil
}

func (f *fakeBrain) ProactiveStart(_ context.Context, payload interface{}) (*brain.ProactiveStartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proactiveCalls = append(f.proactiveCalls, payload.(ProactivePayload))
	if f.proactiveErr != nil {
		return nil, f.proactiveErr
	}
	if f.proactiveResp == nil {
		return &brain.ProactiveStartResponse{}, nil
	}
	return f.proactiveResp, nil
}

func (f *fakeBrain) MainCalls() []*Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Payload(nil), f.mainCalls...)
}

type recordingSink struct {
	mu        sync.Mutex
	scenarios []string
}

func (s *recordingSink) Set(scenario string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append(s.scenarios, scenario)
}

func (s *recordingSink) Scenarios() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scenarios...)
}

type testEnv struct {
	coord *Coordinator
	mock  *ha.MockClient
	brain *fakeBrain
	clock *clock.MockClock
	opts  *config.Options
}

func at(hour, min, sec int) time.Time {
	return time.Date(2026, 1, 5, hour, min, sec, 0, time.UTC)
}

func mustOptions(t *testing.T, yaml string) *config.Options {
	t.Helper()
	opts, err := config.ParseOptions([]byte(yaml))
	require.NoError(t, err)
	return opts
}

func newTestEnv(t *testing.T, start time.Time) *testEnv {
	t.Helper()
	return newTestEnvWithOptions(t, start, mustOptions(t, testOptionsYAML), false)
}

func newTestEnvWithOptions(t *testing.T, start time.Time, opts *config.Options, readOnly bool) *testEnv {
	t.Helper()

	mock := ha.NewMockClient()
	seedStates(mock)
	fb := &fakeBrain{}
	clk := clock.NewMockClock(start)

	coord := NewCoordinator(mock, fb, opts, zap.NewNop(), readOnly)
	coord.SetClock(clk)
	coord.SetLocation(time.UTC)
	t.Cleanup(coord.Stop)

	return &testEnv{coord: coord, mock: mock, brain: fb, clock: clk, opts: opts}
}

func seedStates(mock *ha.MockClient) {
	mock.SetState("weather.home", "cloudy", map[string]interface{}{"temperature": 4.5, "humidity": 87.0})
	mock.SetState("input_boolean.gasten", "on", nil)
	mock.SetState("input_boolean.onderweg", ha.StateUnavailable, nil)
	mock.SetState("person.anna", "home", nil)
	mock.SetState("person.bram", "not_home", nil)
	mock.SetState("binary_sensor.tag_keys", "off", nil)
	mock.SetState("sensor.anna_wifi", "OtherNet", nil)
	mock.SetState(livingWindow, "off", nil)
	mock.SetState(kitchenWindow, ha.StateUnavailable, nil)
	mock.SetState("climate.living", "heat", map[string]interface{}{"current_temperature": 19.5})
	mock.SetState("climate.kitchen", "heat", nil)
	mock.SetState("climate.bathroom", "heat", nil)
	mock.SetState("climate.bedroom", "heat", nil)
}

// waitForTimers blocks until n clock timers are pending.
func waitForTimers(t *testing.T, clk *clock.MockClock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return clk.PendingTimers() == n },
		2*time.Second, 5*time.Millisecond, "expected %d pending timers", n)
}

func state(entityID, value string) *ha.State {
	return &ha.State{EntityID: entityID, State: value}
}

func (f *fakeBrain) ProactiveCalls() []ProactivePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ProactivePayload(nil), f.proactiveCalls...)
}
