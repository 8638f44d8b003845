package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"climacore/internal/clock"
	"climacore/internal/config"
	"climacore/internal/metrics"
)

// LivingRoomPrefix is the setpoint group whose zone drives the pre-heat calculation.
const LivingRoomPrefix = "woonkamer"

// ErrNoLivingZone is returned when no zone with climate entities uses the living room group.
var ErrNoLivingZone = errors.New("no climate entity configured for the woonkamer setpoint group")

// Living room day setpoints sent with the proactive request. Values come from
// the same table as the main payload config.
var proactiveSetpointKeys = []string{
	"temp_woonkamer_dag_fris",
	"temp_woonkamer_dag_koud",
	"temp_woonkamer_dag_mild_warm",
}

// ProactivePayload is the proactive start request body.
type ProactivePayload struct {
	Sensors ProactiveSensors       `json:"sensors"`
	Config  map[string]interface{} `json:"config"`
}

// ProactiveSensors is the sensor part of the proactive start request.
type ProactiveSensors struct {
	OutdoorTemp       float64 `json:"outdoor_temp"`
	OutdoorHumidity   float64 `json:"outdoor_humidity"`
	CurrentIndoorTemp float64 `json:"current_indoor_temp"`
}

// TriggerProactiveStart asks the Brain when to start pre-heating. On a future
// start time it installs a boost window ending at the proactive target time
// and schedules a one-shot main logic trigger at the start.
func (c *Coordinator) TriggerProactiveStart(ctx context.Context) error {
	metrics.RecordTrigger(SourceProactive)
	opts := c.options()
	c.logger.Info("Proactive start calculation triggered")

	zone, ok := opts.ZoneByPrefix(LivingRoomPrefix)
	if !ok {
		c.logger.Error("Proactive start cancelled", zap.Error(ErrNoLivingZone))
		return ErrNoLivingZone
	}

	snap, err := c.snapshot()
	if err != nil {
		c.logger.Error("Proactive start cancelled", zap.Error(err))
		return err
	}
	payload := buildProactivePayload(opts, snap, zone.ClimateEntities[0])

	resp, err := c.brain.ProactiveStart(ctx, payload)
	if err != nil {
		c.logger.Error("Proactive start request failed", zap.Error(err))
		return fmt.Errorf("failed to call proactive start: %w", err)
	}

	if resp.CalculatedStartTime == "" {
		c.logger.Error("Proactive start returned no start time", zap.ByteString("info", resp.Info))
		return fmt.Errorf("proactive start returned no start time")
	}
	c.logger.Info("Proactive start calculated",
		zap.String("start_time", resp.CalculatedStartTime),
		zap.ByteString("info", resp.Info))

	startTOD, err := clock.ParseTimeOfDay(resp.CalculatedStartTime)
	if err != nil {
		c.logger.Error("Proactive start returned an invalid start time", zap.Error(err))
		return fmt.Errorf("failed to parse start time: %w", err)
	}
	targetTOD, err := clock.ParseTimeOfDay(opts.ProactiveTarget)
	if err != nil {
		return fmt.Errorf("failed to parse proactive target time: %w", err)
	}

	now := c.now()
	start := startTOD.On(now)
	if start.Before(now) {
		c.logger.Warn("Calculated start time is in the past, skipping",
			zap.String("start_time", resp.CalculatedStartTime))
		return nil
	}
	end := targetTOD.On(now)

	c.setBoostWindow(start, end)

	c.mu.Lock()
	if c.proactiveTimer != nil {
		c.proactiveTimer.Stop()
	}
	c.proactiveTimer = c.clock.AfterFunc(start.Sub(now), func() {
		c.mu.Lock()
		c.proactiveTimer = nil
		c.mu.Unlock()
		c.dispatch(Trigger{Source: SourceProactive})
	})
	c.mu.Unlock()

	c.logger.Info("Scheduled proactive main logic trigger",
		zap.Time("start", start),
		zap.Time("boost_end", end))
	return nil
}

func buildProactivePayload(opts *config.Options, snap stateSnapshot, climateEntity string) ProactivePayload {
	cfg := map[string]interface{}{
		"proactive_target_time": opts.ProactiveTarget,
		"minutes_per_degree":    opts.MinutesPerDegree,
	}
	setpoints := opts.SetpointConfig()
	for _, key := range proactiveSetpointKeys {
		cfg[key] = setpoints[key]
	}

	return ProactivePayload{
		Sensors: ProactiveSensors{
			OutdoorTemp:       snap.floatAttr(opts.WeatherEntity, "temperature", DefaultOutdoorTemp),
			OutdoorHumidity:   snap.floatAttr(opts.WeatherEntity, "humidity", DefaultOutdoorHumidity),
			CurrentIndoorTemp: snap.floatAttr(climateEntity, "current_temperature", DefaultIndoorTemp),
		},
		Config: cfg,
	}
}
