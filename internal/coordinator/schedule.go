package coordinator

import (
	"time"

	"go.uber.org/zap"

	"climacore/internal/clock"
)

// HeartbeatInterval is the period of the unconditional main logic trigger.
const HeartbeatInterval = 10 * time.Minute

var (
	nightTrigger     = clock.MustParseTimeOfDay("23:00:00")
	morningTrigger   = clock.MustParseTimeOfDay("04:59:59")
	proactiveTrigger = clock.MustParseTimeOfDay("04:00:00")
)

// schedule is a re-arming timer. next is the upcoming fire time.
type schedule struct {
	name    string
	timer   clock.Timer
	next    time.Time
	stopped bool
}

func (s *schedule) stop() {
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

// scheduleDailyLocked fires fn every day at tod in the coordinator's location.
func (c *Coordinator) scheduleDailyLocked(name string, tod clock.TimeOfDay, fn func()) {
	s := &schedule{name: name}
	c.schedules[name] = s

	var arm func()
	arm = func() {
		now := c.now()
		s.next = clock.NextOccurrence(now, tod)
		s.timer = c.clock.AfterFunc(s.next.Sub(now), func() {
			if !c.rearm(s, arm) {
				return
			}
			c.logger.Debug("Time trigger fired", zap.String("schedule", name))
			fn()
		})
	}
	arm()
}

// scheduleEveryLocked fires fn every interval.
func (c *Coordinator) scheduleEveryLocked(name string, interval time.Duration, fn func()) {
	s := &schedule{name: name}
	c.schedules[name] = s

	var arm func()
	arm = func() {
		s.next = c.now().Add(interval)
		s.timer = c.clock.AfterFunc(interval, func() {
			if !c.rearm(s, arm) {
				return
			}
			fn()
		})
	}
	arm()
}

// rearm arms the next occurrence unless the schedule was torn down meanwhile.
func (c *Coordinator) rearm(s *schedule, arm func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.stopped || c.schedules[s.name] != s {
		return false
	}
	arm()
	return true
}
