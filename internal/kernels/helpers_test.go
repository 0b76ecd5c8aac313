package kernels

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Histogram != nil {
		return float64(*metric.Histogram.SampleCount)
	}
	return 0
}

// mk builds a tensor holding vals.
func mk[T any](layout shape.Layout, typ dtype.DataType, vals []T, extents ...uint32) *tensor.Tensor {
	size := len(vals) * int(typ.Size())
	buf := tensor.AlignedBuffer(size, catalog.BufferAlignment)
	copy(tensor.View[T](buf), vals)
	return &tensor.Tensor{
		Shape:  shape.Must(layout, extents...),
		Mode:   dtype.Of(typ),
		Buffer: buf,
		Size:   uint64(size),
	}
}

// zeros builds an output tensor of the given shape.
func zeros(layout shape.Layout, typ dtype.DataType, extents ...uint32) *tensor.Tensor {
	s := shape.Must(layout, extents...)
	size := int(s.Count()) * int(typ.Size())
	return &tensor.Tensor{
		Shape:  s,
		Mode:   dtype.Of(typ),
		Buffer: tensor.AlignedBuffer(size, catalog.BufferAlignment),
		Size:   uint64(size),
	}
}

// runModes runs a fresh job through every kernel registered for
// (kind, sig) and returns the jobs by mode.
func runModes(t *testing.T, kind catalog.Kind, sig Signature, build func() *Job) map[accel.Mode]*Job {
	t.Helper()
	table, err := Default().Lookup(kind, sig)
	require.NoError(t, err)
	out := make(map[accel.Mode]*Job, len(table.Kernels))
	for mode, k := range table.Kernels {
		job := build()
		require.NoError(t, k.Run(job), "mode %s", mode)
		out[mode] = job
	}
	return out
}
