package kernels

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anvil_kernel_lookup_misses_total",
		Help: "Kernel table lookups with no entry for the operand type signature",
	}, []string{"kind"})

	stageCompute = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anvil_stage_compute_seconds",
		Help:    "Kernel execution time by stage kind and acceleration mode",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	}, []string{"kind", "mode"})

	saturations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anvil_kernel_saturations_total",
		Help: "Outputs clamped by saturating kernels",
	}, []string{"kind"})
)
