package scenario

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"climacore/internal/ha"
)

const (
	// EventType is fired on the HA event bus whenever the Brain reports a scenario.
	EventType = "climacore_scenario_update"

	// Unknown is the scenario before the first successful cycle.
	Unknown = "Onbekend"

	// AssetsPath is where the dashboard background images are served.
	AssetsPath = "/climacore_assets"

	fallbackImage = "afwezig.jpg"

	scenarioInput   = "climacore_scenario"
	backgroundInput = "climacore_background_url"
)

// Update is a scenario change as seen by publishers.
type Update struct {
	Scenario      string    `json:"scenario"`
	BackgroundURL string    `json:"background_url"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher forwards scenario updates outside Home Assistant.
type Publisher interface {
	PublishScenario(u Update) error
}

// Tracker keeps the current scenario and mirrors it into Home Assistant.
type Tracker struct {
	haClient   ha.HAClient
	logger     *zap.Logger
	readOnly   bool
	publishers []Publisher
	now        func() time.Time

	mu         sync.RWMutex
	current    string
	background string
	updatedAt  time.Time
}

// NewTracker creates a tracker in the Onbekend scenario.
func NewTracker(haClient ha.HAClient, logger *zap.Logger, readOnly bool) *Tracker {
	return &Tracker{
		haClient:   haClient,
		logger:     logger.Named("scenario"),
		readOnly:   readOnly,
		now:        time.Now,
		current:    Unknown,
		background: BackgroundURL(Unknown),
	}
}

// AddPublisher registers an additional destination for updates.
func (t *Tracker) AddPublisher(p Publisher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishers = append(t.publishers, p)
}

// Current returns the scenario and its background image URL.
func (t *Tracker) Current() (scenario, backgroundURL string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current, t.background
}

// Snapshot returns the current state as an Update.
func (t *Tracker) Snapshot() Update {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Update{Scenario: t.current, BackgroundURL: t.background, Timestamp: t.updatedAt}
}

// Set records a scenario reported by the Brain. Empty names are ignored.
// Publishing failures are logged and never returned.
func (t *Tracker) Set(name string) {
	if name == "" {
		return
	}

	t.mu.Lock()
	previous := t.current
	t.current = name
	t.background = BackgroundURL(name)
	t.updatedAt = t.now()
	update := Update{Scenario: t.current, BackgroundURL: t.background, Timestamp: t.updatedAt}
	publishers := append([]Publisher(nil), t.publishers...)
	t.mu.Unlock()

	t.logger.Info("Scenario updated",
		zap.String("previous", previous),
		zap.String("scenario", name),
		zap.String("background_url", update.BackgroundURL))

	if err := t.haClient.FireEvent(EventType, map[string]interface{}{"scenario": name}); err != nil {
		t.logger.Warn("Failed to fire scenario event", zap.Error(err))
	}

	if t.readOnly {
		t.logger.Info("READ-ONLY: Would update scenario inputs",
			zap.String("scenario", name),
			zap.String("background_url", update.BackgroundURL))
	} else {
		if err := t.haClient.SetInputText(scenarioInput, name); err != nil {
			t.logger.Warn("Failed to update scenario input", zap.Error(err))
		}
		if err := t.haClient.SetInputText(backgroundInput, update.BackgroundURL); err != nil {
			t.logger.Warn("Failed to update background input", zap.Error(err))
		}
	}

	for _, p := range publishers {
		if err := p.PublishScenario(update); err != nil {
			t.logger.Warn("Failed to publish scenario", zap.Error(err))
		}
	}
}

// ImageFilename converts "Thuis - Dag Koud" to "thuis-dag-koud.jpg".
func ImageFilename(name string) string {
	if name == "" || name == Unknown {
		return fallbackImage
	}
	name = strings.ReplaceAll(name, " - ", "-")
	name = strings.ReplaceAll(name, " ", "-")
	return strings.ToLower(name) + ".jpg"
}

// BackgroundURL returns the asset path of the scenario's background image.
func BackgroundURL(name string) string {
	return AssetsPath + "/" + ImageFilename(name)
}
