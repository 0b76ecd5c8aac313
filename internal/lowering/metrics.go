package lowering

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	layersLowered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anvil_layers_lowered_total",
		Help: "Operations successfully lowered into layers",
	}, []string{"op"})

	loweringFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anvil_lowering_failures_total",
		Help: "Rejected operations by status",
	}, []string{"status"})

	loweringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "anvil_lowering_seconds",
		Help:    "Time spent validating and assembling one operation",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	})

	layerComputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anvil_layer_computes_total",
		Help: "Layer executions by operation and outcome",
	}, []string{"op", "status"})
)
