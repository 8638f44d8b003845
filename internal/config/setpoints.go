package config

import "strings"

// SetpointGroups are the lookup prefixes a zone can use.
var SetpointGroups = []string{"woonkamer", "badkamer", "keuken", "slaapkamer_1", "slaapkamer_2", "slaapkamer_3"}

// Scenarios are the setpoint columns of each group.
var Scenarios = []string{"afwezig", "voorverwarming", "dag_fris", "dag_koud", "dag_mild_warm", "nacht_fris", "nacht_koud", "nacht_mild_warm"}

var (
	livingDefaults = map[string]float64{
		"afwezig": 15.0, "voorverwarming": 20.0,
		"dag_fris": 21.0, "dag_koud": 21.5, "dag_mild_warm": 20.5,
		"nacht_fris": 17.0, "nacht_koud": 17.0, "nacht_mild_warm": 17.0,
	}
	bathroomDefaults = map[string]float64{
		"afwezig": 15.0, "voorverwarming": 22.0,
		"dag_fris": 23.0, "dag_koud": 23.5, "dag_mild_warm": 22.5,
		"nacht_fris": 18.0, "nacht_koud": 18.0, "nacht_mild_warm": 18.0,
	}
	bedroomDefaults = map[string]float64{
		"afwezig": 15.0, "voorverwarming": 17.0,
		"dag_fris": 18.0, "dag_koud": 18.5, "dag_mild_warm": 17.5,
		"nacht_fris": 16.0, "nacht_koud": 16.0, "nacht_mild_warm": 16.0,
	}
)

// IsSetpointGroup reports whether prefix names a known setpoint group.
func IsSetpointGroup(prefix string) bool {
	for _, g := range SetpointGroups {
		if g == prefix {
			return true
		}
	}
	return false
}

// SetpointKey builds the flat option key, e.g. temp_woonkamer_dag_koud.
func SetpointKey(group, scenario string) string {
	return "temp_" + group + "_" + scenario
}

func groupDefaults(group string) map[string]float64 {
	switch {
	case strings.Contains(group, "badkamer"):
		return bathroomDefaults
	case strings.Contains(group, "slaapkamer"):
		return bedroomDefaults
	default:
		return livingDefaults
	}
}

// DefaultSetpoints returns a fresh table of every group/scenario default.
func DefaultSetpoints() map[string]float64 {
	table := make(map[string]float64, len(SetpointGroups)*len(Scenarios))
	for _, group := range SetpointGroups {
		defaults := groupDefaults(group)
		for _, scenario := range Scenarios {
			table[SetpointKey(group, scenario)] = defaults[scenario]
		}
	}
	return table
}
