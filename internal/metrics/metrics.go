package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Suppression reasons
const (
	SuppressedPersonAttributeOnly = "person_attribute_only"
	SuppressedWindowFlap          = "window_flap"
	SuppressedBusy                = "busy"
)

// Cycle outcomes
const (
	OutcomeSuccess         = "success"
	OutcomeAuthError       = "auth_error"
	OutcomeConnectionError = "connection_error"
	OutcomeTimeout         = "timeout"
	OutcomeError           = "error"
)

// Action outcomes
const (
	ActionExecuted = "executed"
	ActionFailed   = "failed"
	ActionSkipped  = "skipped"
)

var (
	triggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "climacore_triggers_total",
		Help: "Triggers received by source (state, window, time, heartbeat, proactive, manual)",
	}, []string{"source"})

	triggersSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "climacore_triggers_suppressed_total",
		Help: "Triggers dropped before a decision cycle started, by reason",
	}, []string{"reason"})

	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "climacore_cycles_total",
		Help: "Completed decision cycles by outcome",
	}, []string{"outcome"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "climacore_actions_total",
		Help: "Brain actions by outcome",
	}, []string{"outcome"})

	brainRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "climacore_brain_request_duration_seconds",
		Help:    "Latency of Brain gateway requests by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"endpoint"})

	boostWindowActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "climacore_boost_window_active",
		Help: "1 while a proactive boost window is installed",
	})
)

// RecordTrigger counts a received trigger.
func RecordTrigger(source string) {
	triggersTotal.WithLabelValues(normalizeSource(source)).Inc()
}

// RecordSuppressed counts a trigger that did not start a cycle.
func RecordSuppressed(reason string) {
	triggersSuppressedTotal.WithLabelValues(normalize(reason,
		SuppressedPersonAttributeOnly, SuppressedWindowFlap, SuppressedBusy)).Inc()
}

// RecordCycle counts a finished decision cycle.
func RecordCycle(outcome string) {
	cyclesTotal.WithLabelValues(normalize(outcome,
		OutcomeSuccess, OutcomeAuthError, OutcomeConnectionError, OutcomeTimeout, OutcomeError)).Inc()
}

// RecordAction counts one executed, failed or skipped action.
func RecordAction(outcome string) {
	actionsTotal.WithLabelValues(normalize(outcome, ActionExecuted, ActionFailed, ActionSkipped)).Inc()
}

// ObserveBrainRequest records a Brain request latency. Its signature matches
// brain.Observer.
func ObserveBrainRequest(endpoint string, d time.Duration) {
	endpoint = strings.TrimPrefix(endpoint, "/api/v1/")
	brainRequestDuration.WithLabelValues(normalize(endpoint, "main_logic", "proactive_start")).Observe(d.Seconds())
}

// SetBoostWindowActive updates the boost window gauge.
func SetBoostWindowActive(active bool) {
	if active {
		boostWindowActive.Set(1)
		return
	}
	boostWindowActive.Set(0)
}

func normalizeSource(source string) string {
	return normalize(source, "state", "window", "time", "heartbeat", "proactive", "manual")
}

func normalize(value string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return "unknown"
}
