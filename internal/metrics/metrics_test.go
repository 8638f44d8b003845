package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTrigger_IncrementsCounter(t *testing.T) {
	initial := testutil.ToFloat64(triggersTotal.WithLabelValues("window"))

	RecordTrigger("window")

	assert.Equal(t, initial+1, testutil.ToFloat64(triggersTotal.WithLabelValues("window")))
}

func TestRecordSuppressed_NormalizesLabels(t *testing.T) {
	busy := testutil.ToFloat64(triggersSuppressedTotal.WithLabelValues("busy"))
	unknown := testutil.ToFloat64(triggersSuppressedTotal.WithLabelValues("unknown"))

	RecordSuppressed(" BUSY ")
	RecordSuppressed("cosmic_rays")

	assert.Equal(t, busy+1, testutil.ToFloat64(triggersSuppressedTotal.WithLabelValues("busy")))
	assert.Equal(t, unknown+1, testutil.ToFloat64(triggersSuppressedTotal.WithLabelValues("unknown")))
}

func TestRecordCycleAndAction(t *testing.T) {
	cycles := testutil.ToFloat64(cyclesTotal.WithLabelValues(OutcomeTimeout))
	failed := testutil.ToFloat64(actionsTotal.WithLabelValues(ActionFailed))

	RecordCycle(OutcomeTimeout)
	RecordAction(ActionFailed)

	assert.Equal(t, cycles+1, testutil.ToFloat64(cyclesTotal.WithLabelValues(OutcomeTimeout)))
	assert.Equal(t, failed+1, testutil.ToFloat64(actionsTotal.WithLabelValues(ActionFailed)))
}

func TestObserveBrainRequest(t *testing.T) {
	ObserveBrainRequest("/api/v1/main_logic", 250*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(brainRequestDuration), 1)
}

func TestSetBoostWindowActive(t *testing.T) {
	SetBoostWindowActive(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(boostWindowActive))
	SetBoostWindowActive(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(boostWindowActive))
}
