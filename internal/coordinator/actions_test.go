package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climacore/internal/brain"
	"climacore/internal/ha"
)

func TestExecuteActions_BestEffort(t *testing.T) {
	env := newTestEnv(t, at(10, 0, 0))
	env.mock.FailService("climate", "set_preset_mode")
	env.brain.mainResp = &brain.MainLogicResponse{Actions: []brain.Action{
		{Service: "climate.set_temperature", Entity: "Woonkamer", Data: map[string]interface{}{"temperature": 21.5}},
		{Service: "climate.set_hvac_mode", Entity: "Zolder", Data: map[string]interface{}{"hvac_mode": "heat"}},
		{Service: "climate.set_preset_mode", Entity: "Badkamer", Data: map[string]interface{}{"preset_mode": "eco"}},
		{Service: "persistent_notification.create", Data: map[string]interface{}{"message": "Raam open in Woonkamer"}},
		{Service: "bogus", Entity: "Woonkamer"},
		{Service: "climate.turn_off", Entity: "Badkamer"},
		{Service: ""},
		{Service: "climate.turn_on"},
	}}

	record, err := env.coord.TriggerMainLogic(context.Background(), Trigger{Source: SourceTime})
	require.NoError(t, err)

	assert.Equal(t, 3, record.ActionsRun)
	assert.Equal(t, 2, record.ActionsFailed)
	assert.Equal(t, 3, record.ActionsSkipped)

	calls := env.mock.GetServiceCalls()
	require.Len(t, calls, 4)

	assert.Equal(t, ha.ServiceCall{
		Domain:  "climate",
		Service: "set_temperature",
		Data: map[string]interface{}{
			"entity_id":   []string{"climate.living", "climate.kitchen"},
			"temperature": 21.5,
		},
		Time: calls[0].Time,
	}, calls[0])

	assert.Equal(t, "set_preset_mode", calls[1].Service)

	assert.Equal(t, "persistent_notification", calls[2].Domain)
	assert.Equal(t, "create", calls[2].Service)
	assert.Equal(t, map[string]interface{}{"message": "Raam open in Woonkamer"}, calls[2].Data)

	assert.Equal(t, "turn_off", calls[3].Service)
	assert.Equal(t, []string{"climate.bathroom"}, calls[3].Data["entity_id"])
}

func TestExecuteActions_DataOverridesTargets(t *testing.T) {
	env := newTestEnv(t, at(10, 0, 0))
	env.brain.mainResp = &brain.MainLogicResponse{Actions: []brain.Action{
		{Service: "climate.set_temperature", Entity: "Woonkamer", Data: map[string]interface{}{
			"entity_id":   "climate.living",
			"temperature": 20.0,
		}},
	}}

	_, err := env.coord.TriggerMainLogic(context.Background(), Trigger{Source: SourceTime})
	require.NoError(t, err)

	calls := env.mock.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "climate.living", calls[0].Data["entity_id"])
}

func TestExecuteActions_Delay(t *testing.T) {
	env := newTestEnv(t, at(10, 0, 0))
	env.brain.mainResp = &brain.MainLogicResponse{Actions: []brain.Action{
		{Service: "climate.set_hvac_mode", Entity: "Woonkamer", Data: map[string]interface{}{"hvac_mode": "heat"}},
		{Service: "delay", Data: map[string]interface{}{"seconds": 30.0}},
		{Service: "climate.set_temperature", Entity: "Woonkamer", Data: map[string]interface{}{"temperature": 21.0}},
	}}

	done := triggerInBackground(env, Trigger{Source: SourceTime})

	waitForTimers(t, env.clock, 1)
	require.Len(t, env.mock.GetServiceCalls(), 1, "second call waits for the delay")

	env.clock.Advance(29 * time.Second)
	assert.Len(t, env.mock.GetServiceCalls(), 1)
	env.clock.Advance(time.Second)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 3, res.record.ActionsRun)
	assert.Len(t, env.mock.GetServiceCalls(), 2)
}

func TestExecuteActions_ReadOnly(t *testing.T) {
	env := newTestEnvWithOptions(t, at(10, 0, 0), mustOptions(t, testOptionsYAML), true)
	env.brain.mainResp = &brain.MainLogicResponse{Actions: []brain.Action{
		{Service: "climate.set_temperature", Entity: "Woonkamer", Data: map[string]interface{}{"temperature": 21.5}},
		{Service: "persistent_notification.create", Data: map[string]interface{}{"message": "hi"}},
	}}

	record, err := env.coord.TriggerMainLogic(context.Background(), Trigger{Source: SourceTime})
	require.NoError(t, err)
	assert.Equal(t, 2, record.ActionsSkipped)
	assert.Empty(t, env.mock.GetServiceCalls())
}

func TestDelayDuration(t *testing.T) {
	assert.Equal(t, time.Second, delayDuration(nil))
	assert.Equal(t, 2500*time.Millisecond, delayDuration(map[string]interface{}{"seconds": 2.5}))
	assert.Equal(t, 3*time.Second, delayDuration(map[string]interface{}{"seconds": 3}))
	assert.Equal(t, 4*time.Second, delayDuration(map[string]interface{}{"seconds": "4"}))
	assert.Equal(t, time.Second, delayDuration(map[string]interface{}{"seconds": "soon"}))
	assert.Equal(t, time.Duration(0), delayDuration(map[string]interface{}{"seconds": -5.0}))
	assert.Equal(t, time.Second, delayDuration(map[string]interface{}{"seconds": "nan"}))
	assert.Equal(t, maxDelay, delayDuration(map[string]interface{}{"seconds": 1e12}))
	assert.Equal(t, maxDelay, delayDuration(map[string]interface{}{"seconds": "+Inf"}))
	assert.Equal(t, maxDelay, delayDuration(map[string]interface{}{"seconds": 3600}))
}
