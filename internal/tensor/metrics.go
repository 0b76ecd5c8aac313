package tensor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anvil_validation_failures_total",
		Help: "Total number of operand and parameter validation failures",
	}, []string{"status"})

	tensorsValidated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anvil_tensors_validated_total",
		Help: "Total number of tensors that passed validation",
	})
)
