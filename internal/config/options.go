package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"climacore/internal/clock"
)

// MaxZones is the number of zone slots (zone_1 .. zone_10).
const MaxZones = 10

// Option defaults
const (
	DefaultSystemChoice        = "Ambisense/MyPyllant"
	DefaultProactiveTargetTime = "06:00:00"
	DefaultNightStartTime      = "23:00:00"
	DefaultMinutesPerDegree    = 30.0
	DefaultFallbackTemp        = 18.0
	DefaultDayStart            = "06:00:00"
	DefaultNightStart          = "22:00:00"
	DefaultLookupPrefix        = "woonkamer"
)

// Options is the user configuration of the bridge: which entities trigger a
// decision cycle, how zones map to climate entities, and the setpoint tables
// forwarded to the Brain.
type Options struct {
	WeatherEntity      string          `yaml:"weather_entity" json:"weather_entity"`
	GuestsEntity       string          `yaml:"gasten_entity" json:"gasten_entity"`
	OnTheWayEntity     string          `yaml:"onderweg_entity" json:"onderweg_entity"`
	SystemChoice       string          `yaml:"systeem_keuze_direct" json:"systeem_keuze_direct"`
	PersonEntities     []string        `yaml:"person_entities" json:"person_entities"`
	PresenceSensors    []string        `yaml:"presence_sensors" json:"presence_sensors"`
	HomeWifiSSID       string          `yaml:"home_wifi_ssid" json:"home_wifi_ssid"`
	WifiTrackerSensors []string        `yaml:"wifi_tracker_sensors" json:"wifi_tracker_sensors"`
	ProactiveTarget    string          `yaml:"proactive_target_time" json:"proactive_target_time"`
	NightStartTime     string          `yaml:"night_start_time" json:"night_start_time"`
	MinutesPerDegree   float64         `yaml:"minutes_per_degree" json:"minutes_per_degree"`
	FallbackTemp       float64         `yaml:"fallback_temp" json:"fallback_temp"`
	Zones              map[string]Zone `yaml:"zones" json:"zones"`

	// Setpoints holds temp_<group>_<scenario> overrides.
	Setpoints map[string]float64 `yaml:"setpoints" json:"setpoints"`
}

// Zone groups climate entities that share a schedule and setpoint table.
type Zone struct {
	Name            string   `yaml:"zone_name" json:"zone_name"`
	ClimateEntities []string `yaml:"climate_entities" json:"climate_entities"`
	WindowSensors   []string `yaml:"window_sensors" json:"window_sensors"`
	DayStart        string   `yaml:"day_start" json:"day_start"`
	NightStart      string   `yaml:"night_start" json:"night_start"`
	LookupPrefix    string   `yaml:"lookup_prefix" json:"lookup_prefix"`
}

// ZoneSlot is a configured zone together with its slot number.
type ZoneSlot struct {
	Slot int
	Zone
}

// DisplayName returns the zone name, falling back to "Zone N".
func (z ZoneSlot) DisplayName() string {
	if name := strings.TrimSpace(z.Name); name != "" {
		return name
	}
	return fmt.Sprintf("Zone %d", z.Slot)
}

// ApplyDefaults fills unset options with the same defaults the setup wizard offers.
func (o *Options) ApplyDefaults() {
	if o.SystemChoice == "" {
		o.SystemChoice = DefaultSystemChoice
	}
	if o.ProactiveTarget == "" {
		o.ProactiveTarget = DefaultProactiveTargetTime
	}
	if o.NightStartTime == "" {
		o.NightStartTime = DefaultNightStartTime
	}
	if o.MinutesPerDegree == 0 {
		o.MinutesPerDegree = DefaultMinutesPerDegree
	}
	if o.FallbackTemp == 0 {
		o.FallbackTemp = DefaultFallbackTemp
	}
	if o.Zones == nil {
		o.Zones = make(map[string]Zone)
	}
	for key, zone := range o.Zones {
		if zone.DayStart == "" {
			zone.DayStart = DefaultDayStart
		}
		if zone.NightStart == "" {
			zone.NightStart = DefaultNightStart
		}
		if zone.LookupPrefix == "" {
			zone.LookupPrefix = DefaultLookupPrefix
		}
		o.Zones[key] = zone
	}
	if o.Setpoints == nil {
		o.Setpoints = make(map[string]float64)
	}
}

// Validate checks value ranges and time formats. It expects ApplyDefaults to have run.
func (o *Options) Validate() error {
	for _, field := range []struct{ name, value string }{
		{"proactive_target_time", o.ProactiveTarget},
		{"night_start_time", o.NightStartTime},
	} {
		if _, err := clock.ParseTimeOfDay(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}

	if o.MinutesPerDegree < 5 || o.MinutesPerDegree > 90 {
		return fmt.Errorf("minutes_per_degree must be between 5 and 90, got %v", o.MinutesPerDegree)
	}
	if o.FallbackTemp < 10 || o.FallbackTemp > 25 {
		return fmt.Errorf("fallback_temp must be between 10 and 25, got %v", o.FallbackTemp)
	}

	if len(o.Zones) > MaxZones {
		return fmt.Errorf("at most %d zones are supported, got %d", MaxZones, len(o.Zones))
	}
	for key, zone := range o.Zones {
		if _, err := slotNumber(key); err != nil {
			return err
		}
		if _, err := clock.ParseTimeOfDay(zone.DayStart); err != nil {
			return fmt.Errorf("%s.day_start: %w", key, err)
		}
		if _, err := clock.ParseTimeOfDay(zone.NightStart); err != nil {
			return fmt.Errorf("%s.night_start: %w", key, err)
		}
		if !IsSetpointGroup(zone.LookupPrefix) {
			return fmt.Errorf("%s.lookup_prefix: unknown setpoint group %q", key, zone.LookupPrefix)
		}
	}

	for key, value := range o.Setpoints {
		if !strings.HasPrefix(key, "temp_") {
			return fmt.Errorf("setpoint %q must start with temp_", key)
		}
		if value < 10 || value > 25 {
			return fmt.Errorf("setpoint %s must be between 10 and 25, got %v", key, value)
		}
	}

	return nil
}

func slotNumber(key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(key, "zone_"))
	if !strings.HasPrefix(key, "zone_") || err != nil || n < 1 || n > MaxZones {
		return 0, fmt.Errorf("invalid zone slot %q (expected zone_1 .. zone_%d)", key, MaxZones)
	}
	return n, nil
}

// ZoneSlots returns every configured zone slot ordered by slot number.
func (o *Options) ZoneSlots() []ZoneSlot {
	slots := make([]ZoneSlot, 0, len(o.Zones))
	for key, zone := range o.Zones {
		n, err := slotNumber(key)
		if err != nil {
			continue
		}
		slots = append(slots, ZoneSlot{Slot: n, Zone: zone})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Slot < slots[j].Slot })
	return slots
}

// ActiveZones returns the slots that control at least one climate entity.
func (o *Options) ActiveZones() []ZoneSlot {
	var active []ZoneSlot
	for _, slot := range o.ZoneSlots() {
		if len(slot.ClimateEntities) > 0 {
			active = append(active, slot)
		}
	}
	return active
}

// WindowSensors returns window sensors of all zone slots in slot order.
func (o *Options) WindowSensors() []string {
	var sensors []string
	for _, slot := range o.ZoneSlots() {
		sensors = append(sensors, slot.WindowSensors...)
	}
	return sensors
}

// IsWindowSensor reports whether entityID is a window sensor of any zone.
func (o *Options) IsWindowSensor(entityID string) bool {
	for _, zone := range o.Zones {
		for _, sensor := range zone.WindowSensors {
			if sensor == entityID {
				return true
			}
		}
	}
	return false
}

// MainTriggerEntities returns the non-window entities whose changes start a cycle.
func (o *Options) MainTriggerEntities() []string {
	var entities []string
	entities = append(entities, o.PersonEntities...)
	for _, single := range []string{o.WeatherEntity, o.GuestsEntity, o.OnTheWayEntity} {
		if single != "" {
			entities = append(entities, single)
		}
	}
	entities = append(entities, o.PresenceSensors...)
	entities = append(entities, o.WifiTrackerSensors...)
	return entities
}

// ZoneByPrefix returns the first active slot (in slot order) using the setpoint group.
func (o *Options) ZoneByPrefix(prefix string) (ZoneSlot, bool) {
	for _, slot := range o.ActiveZones() {
		if slot.LookupPrefix == prefix {
			return slot, true
		}
	}
	return ZoneSlot{}, false
}

// SetpointConfig returns the full temp_* table sent to the Brain: defaults
// for every group and scenario overridden by configured values.
func (o *Options) SetpointConfig() map[string]float64 {
	table := DefaultSetpoints()
	for key, value := range o.Setpoints {
		table[key] = value
	}
	return table
}

// Clone returns a deep copy so readers can hold a snapshot across reloads.
func (o *Options) Clone() *Options {
	c := *o
	c.PersonEntities = append([]string(nil), o.PersonEntities...)
	c.PresenceSensors = append([]string(nil), o.PresenceSensors...)
	c.WifiTrackerSensors = append([]string(nil), o.WifiTrackerSensors...)
	c.Zones = make(map[string]Zone, len(o.Zones))
	for k, z := range o.Zones {
		z.ClimateEntities = append([]string(nil), z.ClimateEntities...)
		z.WindowSensors = append([]string(nil), z.WindowSensors...)
		c.Zones[k] = z
	}
	c.Setpoints = make(map[string]float64, len(o.Setpoints))
	for k, v := range o.Setpoints {
		c.Setpoints[k] = v
	}
	return &c
}
