// Package metrics holds the process-wide Prometheus instruments.
// Collectors are created at package load so call sites can increment
// them unconditionally; Register wires them into the default registry
// exactly once, from wherever the /metrics endpoint is mounted.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsInserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "weave_events_inserted_total",
		Help: "Events appended to the graph store, by origin.",
	}, []string{"source"})

	ConflictsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "weave_conflicts_resolved_total",
		Help: "Concurrent-write conflicts resolved during merge.",
	}, []string{"policy", "winner"})

	SyncFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "weave_sync_failures_total",
		Help: "Sync rounds that ended in a transport or protocol failure.",
	})

	GuardFirings = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "weave_guard_firings_total",
		Help: "Dataflow guard firings that derived at least one event.",
	})

	PendingEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "weave_pending_events",
		Help: "Events waiting in the pending-dependency queue.",
	})

	StoreEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "weave_store_events",
		Help: "Events currently held in the graph store.",
	})
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call
// from multiple entry points.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EventsInserted,
			ConflictsResolved,
			SyncFailures,
			GuardFirings,
			PendingEvents,
			StoreEvents,
		)
	})
}
