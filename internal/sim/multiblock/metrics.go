package multiblock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiblock_validations_total",
		Help: "Validation passes by structure kind and result",
	}, []string{"kind", "result"})

	assimilationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiblock_assimilations_total",
		Help: "Controller merges by structure kind",
	}, []string{"kind"})

	liveControllers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "multiblock_live_controllers",
		Help: "Registered controllers by structure kind",
	}, []string{"kind"})

	contractViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multiblock_contract_violations_total",
		Help: "Calls aborted because they broke the engine contract",
	})

	splitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiblock_splits_total",
		Help: "Parts detached by connectivity checks, by structure kind",
	}, []string{"kind"})
)
