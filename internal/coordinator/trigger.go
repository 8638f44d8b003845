package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"climacore/internal/brain"
	"climacore/internal/metrics"
)

// CycleRecord summarizes one decision cycle.
type CycleRecord struct {
	ID             string    `json:"id"`
	Trigger        string    `json:"trigger"`
	EntityID       string    `json:"entity_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Outcome        string    `json:"outcome"`
	Scenario       string    `json:"scenario,omitempty"`
	ActionsRun     int       `json:"actions_run"`
	ActionsFailed  int       `json:"actions_failed"`
	ActionsSkipped int       `json:"actions_skipped"`
	Error          string    `json:"error,omitempty"`
}

// TriggerMainLogic runs the trigger pipeline: person filter, window debounce,
// reentrancy guard, then a full decision cycle. It blocks until the cycle is
// done and returns ErrSuppressed or ErrBusy when no cycle ran. Brain failures
// end the cycle and are reported in the record, not as an error.
func (c *Coordinator) TriggerMainLogic(ctx context.Context, t Trigger) (*CycleRecord, error) {
	metrics.RecordTrigger(t.Source)
	logger := c.logger.With(zap.String("trigger", t.Source))
	if t.EntityID != "" {
		logger = logger.With(zap.String("entity_id", t.EntityID))
	}

	if isAttributeOnlyPersonUpdate(t) {
		logger.Debug("Ignoring person update without state change")
		metrics.RecordSuppressed(metrics.SuppressedPersonAttributeOnly)
		return nil, fmt.Errorf("%w: attribute-only person update", ErrSuppressed)
	}

	if t.EntityID != "" && c.options().IsWindowSensor(t.EntityID) {
		if err := c.debounceWindow(ctx, logger, t); err != nil {
			return nil, err
		}
	}

	if !c.running.CompareAndSwap(false, true) {
		logger.Warn("Trigger skipped: a decision cycle is already running")
		metrics.RecordSuppressed(metrics.SuppressedBusy)
		return nil, ErrBusy
	}
	defer c.running.Store(false)

	return c.runCycle(ctx, t), nil
}

// TriggerAsync acquires the guard immediately and runs the cycle in the
// background. It skips the person filter and window debounce, which only
// apply to entity events.
func (c *Coordinator) TriggerAsync(t Trigger) (string, error) {
	ctx, ok := c.track()
	if !ok {
		return "", ErrStopped
	}
	metrics.RecordTrigger(t.Source)
	if !c.running.CompareAndSwap(false, true) {
		c.wg.Done()
		metrics.RecordSuppressed(metrics.SuppressedBusy)
		return "", ErrBusy
	}

	id := uuid.NewString()
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Unexpected panic in decision cycle", zap.Any("panic", r))
			}
		}()
		c.runCycleWithID(ctx, id, t)
	}()
	return id, nil
}

func isAttributeOnlyPersonUpdate(t Trigger) bool {
	return strings.HasPrefix(t.EntityID, "person.") &&
		t.OldState != nil && t.NewState != nil &&
		t.OldState.State == t.NewState.State
}

// debounceWindow waits out the quiet period and suppresses the trigger when
// the sensor flipped back.
func (c *Coordinator) debounceWindow(ctx context.Context, logger *zap.Logger, t Trigger) error {
	newValue := "unknown"
	if t.NewState != nil {
		newValue = t.NewState.State
	}
	oldValue := ""
	if t.OldState != nil {
		oldValue = t.OldState.State
	}

	logger.Debug("Window sensor changed, waiting for debounce",
		zap.String("new_state", newValue),
		zap.Duration("debounce", WindowDebounce))

	select {
	case <-c.clock.After(WindowDebounce):
	case <-ctx.Done():
		return ctx.Err()
	}

	current := ""
	if st, err := c.haClient.GetState(t.EntityID); err == nil && st.IsAvailable() {
		current = st.State
	}

	if reverted(oldValue, newValue, current) {
		logger.Info("Window flapped back during debounce, ignoring",
			zap.String("new_state", newValue),
			zap.String("current_state", current))
		metrics.RecordSuppressed(metrics.SuppressedWindowFlap)
		return fmt.Errorf("%w: window flap", ErrSuppressed)
	}

	logger.Debug("Window state confirmed", zap.String("current_state", current))
	return nil
}

// reverted reports whether a sensor that moved to newValue is back at its
// previous value. An unreadable current value never counts as reverted.
func reverted(oldValue, newValue, current string) bool {
	if current == "" || current == newValue {
		return false
	}
	if oldValue != "" && current == oldValue {
		return true
	}
	return (newValue == "on" && current == "off") || (newValue == "off" && current == "on")
}

func (c *Coordinator) runCycle(ctx context.Context, t Trigger) *CycleRecord {
	return c.runCycleWithID(ctx, uuid.NewString(), t)
}

func (c *Coordinator) runCycleWithID(ctx context.Context, id string, t Trigger) *CycleRecord {
	record := &CycleRecord{
		ID:        id,
		Trigger:   t.Source,
		EntityID:  t.EntityID,
		StartedAt: c.now(),
	}
	logger := c.logger.With(zap.String("cycle_id", id), zap.String("trigger", t.Source))

	defer func() {
		record.FinishedAt = c.now()
		metrics.RecordCycle(record.Outcome)
		c.mu.Lock()
		c.lastCycle = record
		c.mu.Unlock()
	}()

	payload, err := c.BuildPayload(t.EntityID)
	if err != nil {
		logger.Error("Failed to build payload", zap.Error(err))
		record.Outcome = metrics.OutcomeError
		record.Error = err.Error()
		return record
	}

	logger.Debug("Calling Brain",
		zap.String("current_time", payload.Context.CurrentTime),
		zap.Int("zones", len(payload.ClimateZones)))

	resp, err := c.brain.MainLogic(ctx, payload)
	if err != nil {
		record.Outcome = outcomeFor(err)
		record.Error = err.Error()
		logger.Error("Brain request failed", zap.String("outcome", record.Outcome), zap.Error(err))
		return record
	}

	result := c.executeActions(ctx, logger, resp.Actions, payload.ClimateZones)
	record.ActionsRun = result.executed
	record.ActionsFailed = result.failed
	record.ActionsSkipped = result.skipped
	record.Outcome = metrics.OutcomeSuccess
	record.Scenario = resp.Scenario

	logger.Info("Decision cycle completed",
		zap.String("scenario", resp.Scenario),
		zap.Int("actions_run", result.executed),
		zap.Int("actions_failed", result.failed),
		zap.Int("actions_skipped", result.skipped))

	if resp.Scenario != "" && c.scenario != nil {
		c.scenario.Set(resp.Scenario)
	}
	return record
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, brain.ErrAuth):
		return metrics.OutcomeAuthError
	case errors.Is(err, brain.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, brain.ErrConnection):
		return metrics.OutcomeConnectionError
	default:
		return metrics.OutcomeError
	}
}
