// Package metrics declares the Prometheus instrumentation the
// scheduling core exposes.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Namespace is the common Prometheus namespace for every metric this
// module registers.
const Namespace = "subtaskscheduler"

// Registry bundles the counters and gauges named in the Observability
// section: subtask lifecycle counters plus per-band queue/slot gauges.
type Registry struct {
	SubtasksSubmitted   prometheus.Counter
	SubtasksSucceeded   prometheus.Counter
	SubtasksFailed      *prometheus.CounterVec
	SubtasksRescheduled *prometheus.CounterVec
	SubtasksSpeculated  prometheus.Counter

	QueueDepth *prometheus.GaugeVec
	FreeSlots  *prometheus.GaugeVec
}

// NewRegistry builds a Registry and registers every metric against reg.
// Passing a fresh prometheus.NewRegistry() is typical for tests; the
// default prometheus.DefaultRegisterer is typical in production.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SubtasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "subtasks_submitted_total",
			Help:      "Total subtasks accepted by submit().",
		}),
		SubtasksSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "subtasks_succeeded_total",
			Help:      "Total subtasks that reached SUCCEEDED.",
		}),
		SubtasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "subtasks_failed_total",
			Help:      "Total subtasks that reached FAILED, labeled by cause.",
		}, []string{"cause"}),
		SubtasksRescheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "subtasks_rescheduled_total",
			Help:      "Total PENDING re-entries after a FAILED/band-lost event, labeled by cause.",
		}, []string{"cause"}),
		SubtasksSpeculated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "subtasks_speculated_total",
			Help:      "Total speculative duplicates issued.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_depth",
			Help:      "Current BandQueue depth per band.",
		}, []string{"band"}),
		FreeSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "free_slots",
			Help:      "Current free execution slots per band.",
		}, []string{"band"}),
	}

	reg.MustRegister(
		r.SubtasksSubmitted,
		r.SubtasksSucceeded,
		r.SubtasksFailed,
		r.SubtasksRescheduled,
		r.SubtasksSpeculated,
		r.QueueDepth,
		r.FreeSlots,
	)
	return r
}
