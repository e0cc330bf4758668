package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postvault_items_discovered_total",
		Help: "New items registered by discovery runs.",
	}, []string{"source"})

	PhaseOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postvault_phase_outcomes_total",
		Help: "Per-phase item processing outcomes.",
	}, []string{"source", "phase", "outcome"})

	MediaDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postvault_media_deduplicated_total",
		Help: "Media puts that matched an already-stored hash.",
	})

	MediaReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postvault_media_reclaimed_total",
		Help: "Media files removed by reclamation sweeps.",
	})

	MediaBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postvault_media_bytes_freed_total",
		Help: "Bytes freed by reclamation sweeps.",
	})
)
