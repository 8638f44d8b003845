package coordinator

import (
	"time"

	"go.uber.org/zap"

	"climacore/internal/clock"
	"climacore/internal/metrics"
)

// BoostWindow makes the payload report End as the current time while
// Start <= now < End, so the Brain selects day setpoints early.
type BoostWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (b BoostWindow) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// reportedTime returns the time to send to the Brain and clears an expired window.
func (c *Coordinator) reportedTime(now time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.boost == nil {
		return clock.FormatTimeOfDay(now)
	}
	if c.boost.Contains(now) {
		simulated := clock.FormatTimeOfDay(c.boost.End)
		c.logger.Info("Boost window active, reporting simulated time",
			zap.String("actual_time", clock.FormatTimeOfDay(now)),
			zap.String("simulated_time", simulated))
		return simulated
	}
	if !now.Before(c.boost.End) {
		c.logger.Info("Boost window expired", zap.Time("end", c.boost.End))
		c.boost = nil
		metrics.SetBoostWindowActive(false)
	}
	return clock.FormatTimeOfDay(now)
}

// setBoostWindow installs a new window, replacing any existing one.
func (c *Coordinator) setBoostWindow(start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boost = &BoostWindow{Start: start, End: end}
	metrics.SetBoostWindowActive(true)
}

// BoostWindow returns a copy of the installed window, if any.
func (c *Coordinator) BoostWindow() (BoostWindow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.boost == nil {
		return BoostWindow{}, false
	}
	return *c.boost, true
}
