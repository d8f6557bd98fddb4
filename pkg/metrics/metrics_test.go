package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/subtaskscheduler/pkg/metrics"
)

func TestNewRegistryRegistersEveryMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewRegistry(reg)
	require.NotNil(t, r)

	// A Vec collector only shows up in Gather output once it has at
	// least one labeled child, so create one for each.
	r.SubtasksFailed.WithLabelValues("none")
	r.SubtasksRescheduled.WithLabelValues("none")
	r.QueueDepth.WithLabelValues("A/numa-0")
	r.FreeSlots.WithLabelValues("A/numa-0")

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}

	assert.Contains(t, names, "subtaskscheduler_subtasks_submitted_total")
	assert.Contains(t, names, "subtaskscheduler_subtasks_succeeded_total")
	assert.Contains(t, names, "subtaskscheduler_subtasks_failed_total")
	assert.Contains(t, names, "subtaskscheduler_subtasks_rescheduled_total")
	assert.Contains(t, names, "subtaskscheduler_subtasks_speculated_total")
	assert.Contains(t, names, "subtaskscheduler_queue_depth")
	assert.Contains(t, names, "subtaskscheduler_free_slots")
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewRegistry(reg)

	r.SubtasksSubmitted.Inc()
	r.SubtasksSubmitted.Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(r.SubtasksSubmitted))
}

func TestQueueDepthGaugeLabeledByBand(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.NewRegistry(reg)

	r.QueueDepth.WithLabelValues("A/numa-0").Set(3)

	assert.Equal(t, float64(3), testutil.ToFloat64(r.QueueDepth.WithLabelValues("A/numa-0")))
}
