package coordinator

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"climacore/internal/brain"
	"climacore/internal/metrics"
)

const (
	serviceDelay        = "delay"
	notificationDomain  = "persistent_notification"
	defaultDelaySeconds = 1.0
	maxDelay            = time.Hour
)

type actionResult struct {
	executed int
	failed   int
	skipped  int
}

func (r *actionResult) record(outcome string) {
	metrics.RecordAction(outcome)
	switch outcome {
	case metrics.ActionExecuted:
		r.executed++
	case metrics.ActionFailed:
		r.failed++
	default:
		r.skipped++
	}
}

// executeActions applies the Brain's actions in order. Each action stands on
// its own: failures and unknown zones are logged and the next action runs.
func (c *Coordinator) executeActions(ctx context.Context, logger *zap.Logger, actions []brain.Action, zones map[string]ZonePayload) actionResult {
	var result actionResult
	logger.Debug("Executing actions", zap.Int("count", len(actions)))

	for i, action := range actions {
		if ctx.Err() != nil {
			logger.Warn("Cycle cancelled, abandoning remaining actions", zap.Int("remaining", len(actions)-i))
			break
		}
		result.record(c.executeAction(ctx, logger.With(zap.Int("action", i)), action, zones))
	}
	return result
}

func (c *Coordinator) executeAction(ctx context.Context, logger *zap.Logger, action brain.Action, zones map[string]ZonePayload) string {
	if action.Service == "" {
		return metrics.ActionSkipped
	}

	if action.Service == serviceDelay {
		d := delayDuration(action.Data)
		logger.Debug("Action: delay", zap.Duration("duration", d))
		select {
		case <-c.clock.After(d):
			return metrics.ActionExecuted
		case <-ctx.Done():
			return metrics.ActionSkipped
		}
	}

	domain, service, ok := action.SplitService()
	if !ok {
		logger.Error("Action has malformed service name", zap.String("service", action.Service))
		return metrics.ActionFailed
	}

	if domain == notificationDomain {
		return c.callService(logger, domain, service, copyData(action.Data))
	}

	if action.Entity == "" {
		logger.Debug("Action without zone, skipping", zap.String("service", action.Service))
		return metrics.ActionSkipped
	}

	zone, ok := zones[action.Entity]
	if !ok {
		logger.Warn("Action skipped: zone not found",
			zap.String("zone", action.Entity),
			zap.String("service", action.Service))
		return metrics.ActionSkipped
	}
	if len(zone.AllClimateEntities) == 0 {
		return metrics.ActionSkipped
	}

	data := map[string]interface{}{"entity_id": zone.AllClimateEntities}
	for k, v := range action.Data {
		data[k] = v
	}

	logger.Debug("Action: calling service",
		zap.String("zone", action.Entity),
		zap.String("service", action.Service),
		zap.Any("data", action.Data))
	return c.callService(logger, domain, service, data)
}

func (c *Coordinator) callService(logger *zap.Logger, domain, service string, data map[string]interface{}) string {
	if c.readOnly {
		logger.Info("READ-ONLY: Would call service",
			zap.String("service", domain+"."+service),
			zap.Any("data", data))
		return metrics.ActionSkipped
	}

	if err := c.haClient.CallService(domain, service, data); err != nil {
		logger.Error("Action failed, continuing with next action",
			zap.String("service", domain+"."+service),
			zap.Error(err))
		return metrics.ActionFailed
	}
	return metrics.ActionExecuted
}

// delayDuration reads data.seconds, accepting numbers and numeric strings.
// The result is capped at maxDelay.
func delayDuration(data map[string]interface{}) time.Duration {
	seconds := defaultDelaySeconds
	switch v := data["seconds"].(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			seconds = f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			seconds = f
		}
	}
	switch {
	case math.IsNaN(seconds):
		seconds = defaultDelaySeconds
	case seconds < 0:
		seconds = 0
	case seconds > maxDelay.Seconds():
		return maxDelay
	}
	return time.Duration(seconds * float64(time.Second))
}

func copyData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
