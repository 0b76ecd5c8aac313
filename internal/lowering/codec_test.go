package lowering

import (
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/kernels"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/tensor"
	"github.com/23skdu/longbow-anvil/internal/transform"
)

func TestCodecRoundTripLowers(t *testing.T) {
	b, err := EncodeOperation(affineOp())
	require.NoError(t, err)
	op, err := DecodeOperation(b)
	require.NoError(t, err)

	assert.Equal(t, transform.OpFullyConnectedAffine, op.Kind)
	require.Len(t, op.Operands, 5)
	assert.Nil(t, op.Operands[catalog.OperandOutput].Data)
	assert.Zero(t, tensor.Address(op.Operands[catalog.OperandInput].Data)%catalog.BufferAlignment)

	l, err := newEngine(t).Lower(op)
	require.NoError(t, err)
	out := tensor.AlignedBuffer(4, catalog.BufferAlignment)
	require.NoError(t, l.Compute(accel.ModeAuto, nil, &transform.ExecConfig{Buffers: transform.Buffers{catalog.OperandOutput: out}}))
	assert.Equal(t, []int16{40, math.MinInt16}, tensor.View[int16](out))
}

func TestDecodeFoldsNames(t *testing.T) {
	raw, err := cbor.Marshal(map[string]any{
		"kind": "Transposition",
		"operands": []any{
			map[string]any{"layout": "hw", "dims": []uint32{2, 3}, "type": "INT16", "data": make([]byte, 12)},
			map[string]any{"layout": "HW", "dims": []uint32{3, 2}, "type": "Int16", "mode": "DEFAULT"},
		},
	})
	require.NoError(t, err)
	op, err := DecodeOperation(raw)
	require.NoError(t, err)
	assert.Equal(t, transform.OpTransposition, op.Kind)
	assert.Equal(t, shape.Layout("HW"), op.Operands[0].Shape.Layout)
	assert.Equal(t, dtype.TypeInt16, op.Operands[1].Type)
}

func TestDecodeErrors(t *testing.T) {
	_, err := DecodeOperation([]byte{0xff})
	assert.Error(t, err)

	raw, _ := cbor.Marshal(map[string]any{"kind": "softmax"})
	_, err = DecodeOperation(raw)
	assert.ErrorContains(t, err, "softmax")

	raw, _ = cbor.Marshal(map[string]any{
		"kind":     "copy",
		"operands": []any{map[string]any{"layout": "HW", "dims": []uint32{1, 8}, "type": "float32"}},
	})
	_, err = DecodeOperation(raw)
	assert.ErrorContains(t, err, "float32")
}

func TestDecodedParametersApply(t *testing.T) {
	op := Operation{
		Kind: transform.OpConvolution,
		Operands: []*tensor.Descriptor{
			desc("NHWD", dtype.TypeInt16, make([]int16, 32), 1, 1, 32, 1),
			{Shape: shape.Must("NHWD", 1, 1, 4, 4), Type: dtype.TypeInt32},
			desc("NHWD", dtype.TypeInt16, make([]int16, 32), 4, 1, 8, 1),
			desc("N", dtype.TypeInt32, make([]int32, 4), 4),
		},
		Parameters: []any{
			shape.Must("HW", 1, 2),
			transform.BiasDefault,
			kernels.PoolingMax,
			kernels.HW{H: 1, W: 3},
			[]uint32{1, 3},
		},
	}
	b, err := EncodeOperation(op)
	require.NoError(t, err)
	decoded, err := DecodeOperation(b)
	require.NoError(t, err)

	l, err := newEngine(t).Lower(decoded)
	require.NoError(t, err)
	stages := l.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, kernels.HW{H: 1, W: 2}, stages[0].Params.Stride)
	assert.Equal(t, kernels.PoolingMax, stages[1].Params.Pooling)
	assert.Equal(t, kernels.HW{H: 1, W: 3}, stages[1].Params.Window)
}

func TestParameterValues(t *testing.T) {
	n, err := scalarParam(uint64(7))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), n)
	_, err = scalarParam(-1)
	assert.Error(t, err)
	_, err = scalarParam(1.5)
	assert.Error(t, err)
	_, err = scalarParam("7")
	assert.Error(t, err)

	s, err := shapeParam([]any{uint64(2), uint64(3)})
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3}, s.Extents())
	_, err = shapeParam([]int{1, 2, 3})
	assert.Error(t, err)

	for _, name := range []string{"PerStride", "per-stride", "PER_STRIDE"} {
		m, err := biasModeParam(name)
		require.NoError(t, err, name)
		assert.Equal(t, transform.BiasPerStride, m)
	}
	_, err = biasModeParam("sideways")
	assert.Equal(t, modelerr.StatusBiasMode, modelerr.StatusOf(err))

	p, err := poolingParam("MAX")
	require.NoError(t, err)
	assert.Equal(t, kernels.PoolingMax, p)
}

func TestInvalidParameterTagged(t *testing.T) {
	op := affineOp()
	op.Parameters = []any{"per_stride", struct{}{}}
	_, err := newEngine(t).Lower(op)
	require.Error(t, err)
	m, ok := modelerr.AsModelError(err)
	require.True(t, ok)
	assert.Equal(t, catalog.ParamBiasVectorIndex, m.ParameterIndex)
	assert.Equal(t, modelerr.ErrorArgumentInvalid, m.Reason)
}

func TestPlanRecord(t *testing.T) {
	e := newEngine(t)
	l, err := e.Lower(affineOp())
	require.NoError(t, err)

	rec := PlanRecord(memory.NewGoAllocator(), l)
	defer rec.Release()
	assert.Equal(t, int64(2), rec.NumRows())
	assert.Equal(t, int64(len(PlanSchema.Fields())), rec.NumCols())

	kinds := rec.Column(2).(*array.String)
	assert.Equal(t, "affine", kinds.Value(0))
	assert.Equal(t, "activation", kinds.Value(1))

	bytes := rec.Column(7).(*array.Uint64)
	assert.Equal(t, uint64(8), bytes.Value(0))

	selected := rec.Column(9).(*array.String)
	_, want, err := kernels.Select(l.Stages()[0].Table, accel.ModeAuto, e.Detector())
	require.NoError(t, err)
	assert.Equal(t, want.String(), selected.Value(0))
	assert.Equal(t, accel.Mode{Tier: accel.TierGeneric, Saturating: true}.String(), selected.Value(1))
}
