package coordinator

import (
	"fmt"
	"strings"

	"climacore/internal/config"
	"climacore/internal/ha"
)

// Sensor defaults used when the weather entity has no reading.
const (
	DefaultOutdoorTemp     = 15.0
	DefaultOutdoorHumidity = 50.0
	DefaultIndoorTemp      = 18.0
)

var presenceHomeStates = map[string]bool{"home": true, "on": true, "active": true}

// Payload is the main logic request body sent to the Brain.
type Payload struct {
	Config       map[string]float64     `json:"config"`
	Context      PayloadContext         `json:"context"`
	Sensors      Sensors                `json:"sensors"`
	Persons      map[string]string      `json:"persons"`
	ClimateZones map[string]ZonePayload `json:"climate_zones"`
}

// PayloadContext carries the (possibly simulated) time and the trigger entity.
type PayloadContext struct {
	CurrentTime     string  `json:"current_time"`
	TriggerEntityID *string `json:"trigger_entity_id"`
}

// Sensors is the household-level sensor snapshot.
type Sensors struct {
	OutdoorTemp     float64 `json:"outdoor_temp"`
	OutdoorHumidity float64 `json:"outdoor_humidity"`
	GuestsPresent   string  `json:"gasten_aanwezig"`
	OnTheWayHome    string  `json:"onderweg_naar_huis"`
	SystemChoice    string  `json:"systeem_keuze"`
}

// ZonePayload describes one zone. AllClimateEntities is also used locally to
// resolve action targets.
type ZonePayload struct {
	ClimateEntity      string       `json:"climate_entity"`
	LookupPrefix       string       `json:"lookup_prefix"`
	WindowSensors      []string     `json:"window_sensors"`
	AllClimateEntities []string     `json:"_all_climate_entities"`
	Schedule           ZoneSchedule `json:"schedule"`
}

// ZoneSchedule is the zone's day period.
type ZoneSchedule struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// stateSnapshot indexes one GetAllStates result so a payload is built from a
// single consistent view.
type stateSnapshot map[string]*ha.State

func (c *Coordinator) snapshot() (stateSnapshot, error) {
	states, err := c.haClient.GetAllStates()
	if err != nil {
		return nil, fmt.Errorf("failed to read states: %w", err)
	}
	snap := make(stateSnapshot, len(states))
	for _, s := range states {
		snap[s.EntityID] = s
	}
	return snap, nil
}

// value returns the entity state, or "" when missing, unavailable or unknown.
func (s stateSnapshot) value(entityID string) string {
	if entityID == "" {
		return ""
	}
	st := s[entityID]
	if !st.IsAvailable() {
		return ""
	}
	return st.State
}

func (s stateSnapshot) floatAttr(entityID, name string, def float64) float64 {
	if entityID == "" {
		return def
	}
	return s[entityID].FloatAttribute(name, def)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// BuildPayload assembles the main logic payload from current HA state.
// Building it may clear an expired boost window.
func (c *Coordinator) BuildPayload(triggerEntityID string) (*Payload, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return c.buildPayload(c.options(), snap, triggerEntityID), nil
}

func (c *Coordinator) buildPayload(opts *config.Options, snap stateSnapshot, triggerEntityID string) *Payload {
	cfg := opts.SetpointConfig()
	cfg["fallback_temp"] = opts.FallbackTemp

	ctx := PayloadContext{CurrentTime: c.reportedTime(c.now())}
	if triggerEntityID != "" {
		id := triggerEntityID
		ctx.TriggerEntityID = &id
	}

	return &Payload{
		Config:  cfg,
		Context: ctx,
		Sensors: Sensors{
			OutdoorTemp:     snap.floatAttr(opts.WeatherEntity, "temperature", DefaultOutdoorTemp),
			OutdoorHumidity: snap.floatAttr(opts.WeatherEntity, "humidity", DefaultOutdoorHumidity),
			GuestsPresent:   orDefault(snap.value(opts.GuestsEntity), "off"),
			OnTheWayHome:    orDefault(snap.value(opts.OnTheWayEntity), "off"),
			SystemChoice:    opts.SystemChoice,
		},
		Persons:      buildPersons(opts, snap),
		ClimateZones: buildZones(opts, snap),
	}
}

// buildPersons reports every person as home when any presence tag or Wi-Fi
// tracker says someone is home; otherwise each person's own state decides.
func buildPersons(opts *config.Options, snap stateSnapshot) map[string]string {
	householdHome := false
	for _, tag := range opts.PresenceSensors {
		if presenceHomeStates[snap.value(tag)] {
			householdHome = true
			break
		}
	}
	if !householdHome && opts.HomeWifiSSID != "" {
		for _, sensor := range opts.WifiTrackerSensors {
			if v := snap.value(sensor); v != "" && strings.Contains(v, opts.HomeWifiSSID) {
				householdHome = true
				break
			}
		}
	}

	persons := make(map[string]string, len(opts.PersonEntities))
	for _, entityID := range opts.PersonEntities {
		if householdHome || snap.value(entityID) == "home" {
			persons[entityID] = "home"
		} else {
			persons[entityID] = "not_home"
		}
	}
	return persons
}

// buildZones keys zones by display name; a later slot with the same name wins.
func buildZones(opts *config.Options, snap stateSnapshot) map[string]ZonePayload {
	zones := make(map[string]ZonePayload)
	for _, slot := range opts.ActiveZones() {
		windows := make([]string, 0, len(slot.WindowSensors))
		for _, sensor := range slot.WindowSensors {
			if v := snap.value(sensor); v != "" {
				windows = append(windows, v)
			}
		}

		zones[slot.DisplayName()] = ZonePayload{
			ClimateEntity:      slot.ClimateEntities[0],
			LookupPrefix:       slot.LookupPrefix,
			WindowSensors:      windows,
			AllClimateEntities: append([]string(nil), slot.ClimateEntities...),
			Schedule:           ZoneSchedule{Start: slot.DayStart, End: slot.NightStart},
		}
	}
	return zones
}
