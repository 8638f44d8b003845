package brain

import (
	"encoding/json"
	"strings"
)

// MainLogicResponse is the Brain's decision for one cycle.
type MainLogicResponse struct {
	Actions  []Action `json:"actions"`
	Scenario string   `json:"scenario,omitempty"`
}

// Action is a single instruction. Service is either "delay",
// "persistent_notification.<name>" or "<domain>.<service>" applied to the
// climate entities of the zone named by Entity.
type Action struct {
	Service string                 `json:"service"`
	Entity  string                 `json:"entity,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// SplitService splits "domain.service". ok is false when either part is missing.
func (a Action) SplitService() (domain, service string, ok bool) {
	domain, service, found := strings.Cut(a.Service, ".")
	if !found || domain == "" || service == "" {
		return "", "", false
	}
	return domain, service, true
}

// ProactiveStartResponse carries the calculated pre-heat start ("HH:MM:SS").
type ProactiveStartResponse struct {
	CalculatedStartTime string          `json:"calculated_start_time,omitempty"`
	Info                json.RawMessage `json:"info,omitempty"`
}
