// Package clock provides a time abstraction so the trigger pipeline can be
// driven by a real wall clock in production and a manually advanced one in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is an interface for time operations, allowing time to be mocked in tests.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// After waits for the duration to elapse and then sends the current time on the returned channel
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for the duration to elapse and then calls f in its own goroutine.
	// It returns a Timer that can be used to cancel the call using its Stop method.
	AfterFunc(d time.Duration, f func()) Timer

	// Since returns the time elapsed since t
	Since(t time.Time) time.Duration
}

// Timer represents a single event that can be stopped
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call stops the timer,
	// false if the timer has already expired or been stopped.
	Stop() bool
}

// RealClock implements Clock using the standard time package
type RealClock struct{}

type realTimer struct {
	timer *time.Timer
}

// NewRealClock creates a new RealClock instance
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now returns the current time
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// After waits for the duration to elapse and then sends the current time
func (c *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// AfterFunc waits for the duration to elapse and then calls f
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

// Since returns the time elapsed since t
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}

// MockClock is a Clock whose time only moves when Advance or Set is called.
// Timers registered through After/AfterFunc fire synchronously inside Advance.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
}

type mockTimer struct {
	deadline time.Time
	f        func()
	stopped  bool
	mu       sync.Mutex
}

// NewMockClock creates a new MockClock starting at the given time
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{
		current: start,
		timers:  make([]*mockTimer, 0),
	}
}

// Now returns the mock current time
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that will receive the time after duration d
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.AfterFunc(d, func() {
		ch <- c.Now()
	})
	return ch
}

// AfterFunc schedules f to be called after duration d
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &mockTimer{
		deadline: c.current.Add(d),
		f:        f,
	}
	c.timers = append(c.timers, timer)
	return timer
}

// Since returns the time elapsed since t using the mock current time
func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// PendingTimers returns the number of timers that have not fired or been stopped.
// Tests use it to wait until a goroutine is parked on the clock before advancing.
func (c *MockClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, timer := range c.timers {
		timer.mu.Lock()
		if !timer.stopped {
			n++
		}
		timer.mu.Unlock()
	}
	return n
}

// Advance moves the mock clock forward by duration d and fires any timers that have expired
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	newTime := c.current.Add(d)
	c.current = newTime

	var toFire []*mockTimer
	var remaining []*mockTimer

	for _, timer := range c.timers {
		timer.mu.Lock()
		if !timer.stopped && !timer.deadline.After(newTime) {
			toFire = append(toFire, timer)
		} else if !timer.stopped {
			remaining = append(remaining, timer)
		}
		timer.mu.Unlock()
	}

	c.timers = remaining
	c.mu.Unlock()

	// Fire outside the lock; callbacks may register new timers.
	for _, timer := range toFire {
		timer.mu.Lock()
		if !timer.stopped {
			timer.stopped = true
			f := timer.f
			timer.mu.Unlock()
			f()
		} else {
			timer.mu.Unlock()
		}
	}
}

// Set sets the mock clock to a specific time and fires any expired timers
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	oldTime := c.current
	c.mu.Unlock()

	if t.After(oldTime) {
		c.Advance(t.Sub(oldTime))
		return
	}

	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}
