// Package coordinator turns Home Assistant state changes and scheduled times
// into decision cycles against the Brain and applies the returned actions.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"climacore/internal/brain"
	"climacore/internal/clock"
	"climacore/internal/config"
	"climacore/internal/ha"
)

// Trigger sources
const (
	SourceState     = "state"
	SourceWindow    = "window"
	SourceTime      = "time"
	SourceHeartbeat = "heartbeat"
	SourceProactive = "proactive"
	SourceManual    = "manual"
)

// WindowDebounce is how long a window sensor must hold its new value.
const WindowDebounce = 15 * time.Second

var (
	// ErrBusy is returned when a trigger arrives while a cycle is running.
	ErrBusy = errors.New("decision cycle already running")

	// ErrSuppressed is returned for triggers filtered before the guard.
	ErrSuppressed = errors.New("trigger suppressed")

	// ErrStopped is returned for manual triggers after Stop.
	ErrStopped = errors.New("coordinator stopped")
)

// Trigger describes what started a decision cycle. EntityID and the states
// are empty for time based triggers.
type Trigger struct {
	Source   string
	EntityID string
	OldState *ha.State
	NewState *ha.State
}

// ScenarioSink receives the scenario reported by the Brain.
type ScenarioSink interface {
	Set(scenario string)
}

// Status is a point-in-time view of the coordinator for the API.
type Status struct {
	Running       bool                 `json:"running"`
	BoostWindow   *BoostWindow         `json:"boost_window,omitempty"`
	LastCycle     *CycleRecord         `json:"last_cycle,omitempty"`
	Subscriptions int                  `json:"subscriptions"`
	NextRuns      map[string]time.Time `json:"next_runs"`
}

// Coordinator owns the trigger pipeline. At most one decision cycle runs at a time.
type Coordinator struct {
	haClient ha.HAClient
	brain    brain.API
	logger   *zap.Logger
	readOnly bool
	clock    clock.Clock
	location *time.Location
	scenario ScenarioSink

	optsMu sync.RWMutex
	opts   *config.Options

	running atomic.Bool

	// lifecycleMu serializes Start and Stop.
	lifecycleMu sync.Mutex

	mu             sync.Mutex
	started        bool
	subscriptions  []ha.Subscription
	schedules      map[string]*schedule
	proactiveTimer clock.Timer
	boost          *BoostWindow
	lastCycle      *CycleRecord

	// ctx and cancel are replaced by Start after a Stop; guarded by mu.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. Call Start to register listeners.
func NewCoordinator(haClient ha.HAClient, brainAPI brain.API, opts *config.Options, logger *zap.Logger, readOnly bool) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		haClient:  haClient,
		brain:     brainAPI,
		logger:    logger.Named("coordinator"),
		readOnly:  readOnly,
		clock:     clock.NewRealClock(),
		location:  time.Local,
		opts:      opts,
		schedules: make(map[string]*schedule),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetClock sets the clock implementation (for testing)
func (c *Coordinator) SetClock(clk clock.Clock) {
	c.clock = clk
}

// SetLocation sets the time zone used for schedules and the reported time.
func (c *Coordinator) SetLocation(loc *time.Location) {
	c.location = loc
}

// SetScenarioSink registers where reported scenarios are sent.
func (c *Coordinator) SetScenarioSink(s ScenarioSink) {
	c.scenario = s
}

func (c *Coordinator) now() time.Time {
	return c.clock.Now().In(c.location)
}

func (c *Coordinator) options() *config.Options {
	c.optsMu.RLock()
	defer c.optsMu.RUnlock()
	return c.opts
}

// Start subscribes to trigger entities and arms the time triggers.
func (c *Coordinator) Start() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("coordinator already started")
	}
	if c.ctx.Err() != nil {
		c.ctx, c.cancel = context.WithCancel(context.Background())
	}

	opts := c.options()
	c.logger.Info("Starting coordinator",
		zap.Int("zones", len(opts.ActiveZones())),
		zap.Bool("read_only", c.readOnly))

	if err := c.registerListenersLocked(opts); err != nil {
		c.teardownLocked()
		return err
	}
	c.started = true

	c.logger.Info("Coordinator started",
		zap.Int("subscriptions", len(c.subscriptions)),
		zap.Int("schedules", len(c.schedules)))
	return nil
}

// Stop removes listeners, cancels in-flight cycles and waits for them to exit.
func (c *Coordinator) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.logger.Info("Stopping coordinator")

	c.mu.Lock()
	c.teardownLocked()
	if c.proactiveTimer != nil {
		c.proactiveTimer.Stop()
		c.proactiveTimer = nil
	}
	c.started = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("Coordinator stopped")
}

// UpdateOptions swaps the options and re-registers all listeners with them.
// The boost window and any pending proactive trigger are kept.
func (c *Coordinator) UpdateOptions(opts *config.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.optsMu.Lock()
	c.opts = opts
	c.optsMu.Unlock()

	if !c.started {
		return nil
	}

	c.logger.Info("Options changed, re-registering listeners")
	c.teardownLocked()
	if err := c.registerListenersLocked(opts); err != nil {
		return fmt.Errorf("failed to re-register listeners: %w", err)
	}
	return nil
}

func (c *Coordinator) registerListenersLocked(opts *config.Options) error {
	seen := make(map[string]bool)
	entities := append(opts.MainTriggerEntities(), opts.WindowSensors()...)
	for _, entityID := range entities {
		if entityID == "" || seen[entityID] {
			continue
		}
		seen[entityID] = true

		sub, err := c.haClient.SubscribeStateChanges(entityID, c.handleStateChange)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", entityID, err)
		}
		c.subscriptions = append(c.subscriptions, sub)
	}

	mainLogic := func(source string) func() {
		return func() { c.dispatch(Trigger{Source: source}) }
	}
	c.scheduleDailyLocked("main_logic_night", nightTrigger, mainLogic(SourceTime))
	c.scheduleDailyLocked("main_logic_morning", morningTrigger, mainLogic(SourceTime))
	c.scheduleDailyLocked("proactive_start", proactiveTrigger, c.dispatchProactive)
	c.scheduleEveryLocked("heartbeat", HeartbeatInterval, mainLogic(SourceHeartbeat))
	return nil
}

func (c *Coordinator) teardownLocked() {
	for _, sub := range c.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	c.subscriptions = nil

	for name, s := range c.schedules {
		s.stop()
		delete(c.schedules, name)
	}
}

// handleStateChange runs on the HA client's receive loop, so the pipeline is
// moved to its own goroutine.
func (c *Coordinator) handleStateChange(entityID string, oldState, newState *ha.State) {
	source := SourceState
	if c.options().IsWindowSensor(entityID) {
		source = SourceWindow
	}
	c.dispatch(Trigger{Source: source, EntityID: entityID, OldState: oldState, NewState: newState})
}

func (c *Coordinator) dispatch(t Trigger) {
	c.goSafe("main_logic", func(ctx context.Context) {
		_, _ = c.TriggerMainLogic(ctx, t)
	})
}

func (c *Coordinator) dispatchProactive() {
	c.goSafe("proactive_start", func(ctx context.Context) {
		_ = c.TriggerProactiveStart(ctx)
	})
}

// track registers a background goroutine with the wait group unless the
// coordinator is stopped, and returns the context it must run under.
func (c *Coordinator) track() (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return nil, false
	}
	c.wg.Add(1)
	return c.ctx, true
}

func (c *Coordinator) goSafe(name string, fn func(ctx context.Context)) {
	ctx, ok := c.track()
	if !ok {
		return
	}
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Unexpected panic in trigger handler",
					zap.String("handler", name),
					zap.Any("panic", r))
			}
		}()
		fn(ctx)
	}()
}

// Running reports whether a decision cycle is in flight.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Status returns the current coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Running:       c.running.Load(),
		Subscriptions: len(c.subscriptions),
		NextRuns:      make(map[string]time.Time, len(c.schedules)),
	}
	if c.boost != nil {
		b := *c.boost
		status.BoostWindow = &b
	}
	if c.lastCycle != nil {
		r := *c.lastCycle
		status.LastCycle = &r
	}
	for name, s := range c.schedules {
		status.NextRuns[name] = s.next
	}
	return status
}
