package world

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	worldTick = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multiblock_world_tick",
		Help: "Current world tick.",
	})
	stepSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "multiblock_world_step_seconds",
		Help:    "Duration of one world tick.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
	editsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiblock_world_edits_total",
		Help: "Applied and rejected world edits.",
	}, []string{"op", "result"})
	editQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multiblock_world_edit_queue_depth",
		Help: "Edits waiting for the next tick.",
	})
	observersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multiblock_world_observers",
		Help: "Connected observer sessions.",
	})
	observerDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multiblock_world_observer_drops_total",
		Help: "Observer messages dropped because a session queue was full.",
	})
	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiblock_world_snapshots_total",
		Help: "Snapshots exported to the sink.",
	}, []string{"result"})
)
