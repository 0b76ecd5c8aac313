package transform

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/kernels"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

func newContext(gen catalog.Generation) *Context {
	return &Context{
		Env:        tensor.NewEnv(),
		Catalog:    catalog.Default(),
		Dispatch:   kernels.Default(),
		Detector:   accel.NewDetector(accel.Features{SSE42: true, AVX: true, AVX2: true}),
		Generation: gen,
	}
}

func desc[T any](layout shape.Layout, typ dtype.DataType, vals []T, extents ...uint32) *tensor.Descriptor {
	buf := tensor.AlignedBuffer(len(vals)*int(typ.Size()), catalog.BufferAlignment)
	copy(tensor.View[T](buf), vals)
	return &tensor.Descriptor{Shape: shape.Must(layout, extents...), Type: typ, Data: buf}
}

func empty(layout shape.Layout, typ dtype.DataType, extents ...uint32) *tensor.Descriptor {
	return &tensor.Descriptor{Shape: shape.Must(layout, extents...), Type: typ}
}

// Negative inputs clamp to MinInt16, the rest pass through.
var rectifier = []kernels.PwlSegment{
	{XBase: math.MinInt32, YBase: math.MinInt16, Slope: 0},
	{XBase: 0, YBase: 0, Slope: 256},
}

func affineOperands() []*tensor.Descriptor {
	weights := make([]int16, 16)
	for i := 0; i < 8; i++ {
		weights[i] = 1
	}
	weights[8] = 1
	return []*tensor.Descriptor{
		catalog.OperandInput:      desc("HW", dtype.TypeInt16, []int16{1, 2, 3, 4, 5, 6, 7, 8}, 8, 1),
		catalog.OperandOutput:     empty("HW", dtype.TypeInt16, 2, 1),
		catalog.OperandWeights:    desc("HW", dtype.TypeInt16, weights, 2, 8),
		catalog.OperandBias:       desc("H", dtype.TypeInt32, []int32{4, -10}, 2),
		catalog.OperandActivation: desc("H", dtype.TypePwlSegment, rectifier, 2),
	}
}

func TestAffineWithActivation(t *testing.T) {
	p, err := NewPipeline(newContext(catalog.Gen3_0), OpFullyConnectedAffine, affineOperands(), Config{})
	require.NoError(t, err)
	assert.Equal(t, []catalog.Kind{catalog.KindAffine, catalog.KindActivation}, p.Kinds())
	assert.Same(t, p.Stages[0].Output, p.Stages[1].Input)
	assert.Equal(t, 64, p.ScratchSize())

	out := tensor.AlignedBuffer(4, catalog.BufferAlignment)
	cfg := &ExecConfig{Buffers: Buffers{catalog.OperandOutput: out}}
	require.NoError(t, p.Run(accel.ModeAuto, nil, cfg))
	assert.Equal(t, []int16{40, math.MinInt16}, tensor.View[int16](out))
	assert.Equal(t, []accel.Mode{
		{Tier: accel.TierAVX2, Saturating: true},
		{Tier: accel.TierGeneric, Saturating: true},
	}, cfg.Modes)

	// Run never rebinds the pipeline.
	assert.Nil(t, p.Output().Buffer)
}

func TestOperandLookup(t *testing.T) {
	p, err := NewPipeline(newContext(catalog.Gen3_0), OpFullyConnectedAffine, affineOperands(), Config{})
	require.NoError(t, err)
	for _, role := range []int{catalog.OperandInput, catalog.OperandOutput, catalog.OperandWeights, catalog.OperandBias, catalog.OperandActivation} {
		_, ok := p.Operand(role)
		assert.True(t, ok, "role %d", role)
	}
	_, ok := p.Operand(catalog.OperandWeightScaleFactors)
	assert.False(t, ok)
}

func TestUpdateBuffersIdempotent(t *testing.T) {
	p, err := NewPipeline(newContext(catalog.Gen3_0), OpFullyConnectedAffine, affineOperands(), Config{})
	require.NoError(t, err)
	weights, _ := p.Operand(catalog.OperandWeights)
	weightsBuf := weights.Buffer

	in, _ := p.Operand(catalog.OperandInput)
	input := in.Buffer
	out := tensor.AlignedBuffer(4, catalog.BufferAlignment)
	scratch := tensor.AlignedBuffer(p.ScratchSize(), catalog.BufferAlignment)
	buffers := Buffers{
		catalog.OperandInput:   input,
		catalog.OperandOutput:  out,
		catalog.OperandScratch: scratch,
		catalog.OperandWeights: tensor.AlignedBuffer(32, catalog.BufferAlignment),
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, p.UpdateBuffers(buffers))
		assert.Equal(t, tensor.Address(out), tensor.Address(p.Output().Buffer))
		assert.Equal(t, tensor.Address(scratch), tensor.Address(p.Stages[0].Output.Buffer))
		assert.Equal(t, tensor.Address(weightsBuf), tensor.Address(weights.Buffer))
	}

	cfg := &ExecConfig{}
	require.NoError(t, p.RunHidden(accel.Mode{Tier: accel.TierGeneric}, cfg))
	assert.Equal(t, []int16{40, math.MinInt16}, tensor.View[int16](out))
}

func TestUpdateBuffersAllOrNothing(t *testing.T) {
	p, err := NewPipeline(newContext(catalog.Gen3_0), OpFullyConnectedAffine, affineOperands(), Config{})
	require.NoError(t, err)
	out := tensor.AlignedBuffer(4, catalog.BufferAlignment)

	err = p.UpdateBuffers(Buffers{
		catalog.OperandOutput:  out,
		catalog.OperandScratch: tensor.AlignedBuffer(4, catalog.BufferAlignment),
	})
	require.Error(t, err)
	assert.Equal(t, modelerr.StatusMemoryOutOfBounds, modelerr.StatusOf(err))
	m, _ := modelerr.AsModelError(err)
	assert.Equal(t, catalog.OperandScratch, m.OperandIndex)
	assert.Nil(t, p.Output().Buffer)

	err = p.UpdateBuffers(Buffers{catalog.OperandOutput: out[1:]})
	assert.Equal(t, modelerr.StatusMemoryAlignment, modelerr.StatusOf(err))
}

func TestConcurrentRuns(t *testing.T) {
	p, err := NewPipeline(newContext(catalog.Gen3_0), OpFullyConnectedAffine, affineOperands(), Config{})
	require.NoError(t, err)
	var wg sync.WaitGroup
	outs := make([][]byte, 8)
	for i := range outs {
		outs[i] = tensor.AlignedBuffer(4, catalog.BufferAlignment)
		wg.Add(1)
		go func(buf []byte) {
			defer wg.Done()
			assert.NoError(t, p.Run(accel.ModeAuto, nil, &ExecConfig{Buffers: Buffers{catalog.OperandOutput: buf}}))
		}(outs[i])
	}
	wg.Wait()
	for _, buf := range outs {
		assert.Equal(t, []int16{40, math.MinInt16}, tensor.View[int16](buf))
	}
}

func TestBiasModeGroupingRejected(t *testing.T) {
	p, err := NewPipeline(newContext(catalog.Gen3_0), OpFullyConnectedAffine, affineOperands(), Config{BiasMode: BiasGrouping})
	require.Error(t, err)
	assert.Nil(t, p)
	assert.Equal(t, modelerr.StatusBiasMode, modelerr.StatusOf(err))
	m, _ := modelerr.AsModelError(err)
	assert.Equal(t, catalog.ParamBiasMode, m.ParameterIndex)
}

func TestMultibiasInt8NeedsScaleFactors(t *testing.T) {
	ops := affineOperands()
	ops[catalog.OperandInput] = desc("HW", dtype.TypeInt16, make([]int16, 16), 16, 1)
	ops[catalog.OperandWeights] = desc("HW", dtype.TypeInt8, make([]int8, 32), 2, 16)
	ops[catalog.OperandBias] = desc("HW", dtype.TypeInt32, make([]int32, 4), 2, 2)
	ctx := newContext(catalog.Gen3_0)

	_, err := NewPipeline(ctx, OpFullyConnectedAffine, ops, Config{BiasMode: BiasPerStride})
	require.Error(t, err)
	m, _ := modelerr.AsModelError(err)
	assert.Equal(t, catalog.OperandWeightScaleFactors, m.OperandIndex)
	assert.Equal(t, modelerr.ErrorArgumentMissing, m.Reason)

	ops = append(ops, desc("H", dtype.TypeWeightScaleFactor, []kernels.WeightScaleFactor{{Multiplier: 1}, {Multiplier: 1}}, 2))
	p, err := NewPipeline(ctx, OpFullyConnectedAffine, ops, Config{BiasMode: BiasPerStride, BiasVectorIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, catalog.KindAffineMultibias, p.Stages[0].Kind)

	_, err = NewPipeline(ctx, OpFullyConnectedAffine, ops, Config{BiasMode: BiasPerStride, BiasVectorIndex: 2})
	assert.Equal(t, modelerr.StatusBiasIndex, modelerr.StatusOf(err))
}

func TestWeightVolumeMismatch(t *testing.T) {
	ops := affineOperands()
	ops[catalog.OperandWeights] = desc("HW", dtype.TypeInt16, make([]int16, 32), 2, 16)
	_, err := NewPipeline(newContext(catalog.Gen3_0), OpFullyConnectedAffine, ops, Config{})
	require.Error(t, err)
	m, _ := modelerr.AsModelError(err)
	assert.Equal(t, modelerr.StatusWeightVolume, modelerr.StatusOf(err))
	assert.Equal(t, catalog.OperandWeights, m.OperandIndex)
	assert.Equal(t, 1, m.DimensionIndex)
}

func TestUnsortedSegmentsRejected(t *testing.T) {
	ops := affineOperands()
	ops[catalog.OperandActivation] = desc("H", dtype.TypePwlSegment, []kernels.PwlSegment{rectifier[1], rectifier[0]}, 2)
	_, err := NewPipeline(newContext(catalog.Gen3_0), OpFullyConnectedAffine, ops, Config{})
	assert.Equal(t, modelerr.StatusPwlSegments, modelerr.StatusOf(err))
}

func TestRecurrentRequiresActivation(t *testing.T) {
	_, err := NewPipeline(newContext(catalog.Gen3_0), OpRecurrent, []*tensor.Descriptor{
		desc("HW", dtype.TypeInt16, make([]int16, 16), 2, 8),
		empty("HW", dtype.TypeInt16, 2, 32),
	}, Config{Delay: 1})
	require.Error(t, err)
	m, _ := modelerr.AsModelError(err)
	assert.Equal(t, catalog.OperandActivation, m.OperandIndex)
}

func TestRecurrentDelayBoundedByFrames(t *testing.T) {
	ops := []*tensor.Descriptor{
		desc("HW", dtype.TypeInt16, make([]int16, 16), 2, 8),
		empty("HW", dtype.TypeInt16, 2, 32),
		desc("HW", dtype.TypeInt16, make([]int16, 32*40), 32, 40),
		desc("H", dtype.TypeInt32, make([]int32, 32), 32),
		desc("H", dtype.TypePwlSegment, rectifier, 2),
	}
	ctx := newContext(catalog.Gen3_0)
	p, err := NewPipeline(ctx, OpRecurrent, ops, Config{Delay: 2})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), p.Stages[0].Params.Delay)

	_, err = NewPipeline(ctx, OpRecurrent, ops, Config{Delay: 3})
	assert.Equal(t, modelerr.StatusDelay, modelerr.StatusOf(err))
}

func TestOutputExtent(t *testing.T) {
	tests := []struct {
		in, window, pad, stride uint32
		want                    uint32
		ok                      bool
	}{
		{32, 8, 0, 2, 13, true},
		{5, 2, 1, 1, 6, true},
		{13, 3, 0, 3, 4, true},
		{4, 8, 1, 1, 0, false},
		{4, 2, 0, 0, 0, false},
	}
	for _, tt := range tests {
		got, ok := OutputExtent(tt.in, tt.window, tt.pad, tt.stride)
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.want, got)
	}
}

func convOperands(outW uint32) []*tensor.Descriptor {
	return []*tensor.Descriptor{
		desc("NHWD", dtype.TypeInt16, make([]int16, 32), 1, 1, 32, 1),
		empty("NHWD", dtype.TypeInt32, 1, 1, outW, 4),
		desc("NHWD", dtype.TypeInt16, make([]int16, 32), 4, 1, 8, 1),
		desc("N", dtype.TypeInt32, make([]int32, 4), 4),
	}
}

func TestConvolutionOutputShape(t *testing.T) {
	ctx := newContext(catalog.Gen3_0)
	cfg := Config{Stride: shape.Must("HW", 1, 2)}
	p, err := NewPipeline(ctx, OpConvolution, convOperands(13), cfg)
	require.NoError(t, err)
	assert.Equal(t, uint32(13), p.Output().Dim(shape.W))
	assert.Equal(t, kernels.HW{H: 1, W: 2}, p.Stages[0].Params.Stride)

	_, err = NewPipeline(ctx, OpConvolution, convOperands(12), cfg)
	require.Error(t, err)
	assert.Equal(t, modelerr.StatusOutputVolume, modelerr.StatusOf(err))
	m, _ := modelerr.AsModelError(err)
	assert.Equal(t, catalog.OperandOutput, m.OperandIndex)
}

func TestConvolutionPaddingLimit(t *testing.T) {
	cfg := Config{Stride: shape.Must("HW", 1, 2), Padding: shape.Must("HW", 0, 8)}
	_, err := NewPipeline(newContext(catalog.Gen3_0), OpConvolution, convOperands(17), cfg)
	require.Error(t, err)
	assert.Equal(t, modelerr.StatusConvPadding, modelerr.StatusOf(err))
	m, _ := modelerr.AsModelError(err)
	assert.Equal(t, catalog.ParamZeroPadding, m.ParameterIndex)
}

func TestConvolutionPooling(t *testing.T) {
	ops := convOperands(13)
	ops[catalog.OperandOutput] = empty("NHWD", dtype.TypeInt32, 1, 1, 4, 4)
	cfg := Config{
		Stride:     shape.Must("HW", 1, 2),
		Pooling:    kernels.PoolingMax,
		PoolWindow: shape.Must("HW", 1, 3),
		PoolStride: shape.Must("HW", 1, 3),
	}
	p, err := NewPipeline(newContext(catalog.Gen3_0), OpConvolution, ops, cfg)
	require.NoError(t, err)
	assert.Equal(t, []catalog.Kind{catalog.KindConvolution, catalog.KindPooling}, p.Kinds())
}

// pooledConvolution convolves a ramp input with one unit filter and three
// bias-only filters, then pools windows of three output columns.
func pooledConvolution(out *tensor.Descriptor) []*tensor.Descriptor {
	ramp := make([]int16, 32)
	for i := range ramp {
		ramp[i] = int16(i)
	}
	filters := make([]int16, 32)
	filters[0] = 1
	return []*tensor.Descriptor{
		catalog.OperandInput:   desc("NHWD", dtype.TypeInt16, ramp, 1, 1, 32, 1),
		catalog.OperandOutput:  out,
		catalog.OperandFilters: desc("NHWD", dtype.TypeInt16, filters, 4, 1, 8, 1),
		catalog.OperandBias:    desc("N", dtype.TypeInt32, []int32{0, 5, -3, 7}, 4),
	}
}

func TestConvolutionPoolingValues(t *testing.T) {
	for _, tc := range []struct {
		mode kernels.PoolingMode
		want []int32
	}{
		{kernels.PoolingMax, []int32{4, 5, -3, 7, 10, 5, -3, 7, 16, 5, -3, 7, 22, 5, -3, 7}},
		{kernels.PoolingSum, []int32{6, 15, -9, 21, 24, 15, -9, 21, 42, 15, -9, 21, 60, 15, -9, 21}},
	} {
		t.Run(tc.mode.String(), func(t *testing.T) {
			cfg := Config{
				Stride:     shape.Must("HW", 1, 2),
				Pooling:    tc.mode,
				PoolWindow: shape.Must("HW", 1, 3),
				PoolStride: shape.Must("HW", 1, 3),
			}
			ops := pooledConvolution(empty("NHWD", dtype.TypeInt32, 1, 1, 4, 4))
			p, err := NewPipeline(newContext(catalog.Gen3_0), OpConvolution, ops, cfg)
			require.NoError(t, err)
			for _, mode := range []accel.Mode{accel.ModeAuto, accel.SoftwareModes()[0]} {
				out := tensor.AlignedBuffer(64, catalog.BufferAlignment)
				require.NoError(t, p.Run(mode, nil, &ExecConfig{Buffers: Buffers{catalog.OperandOutput: out}}))
				assert.Equal(t, tc.want, tensor.View[int32](out), "mode %s", mode)
			}
		})
	}
}

func TestConvolutionPoolingOutputLayout(t *testing.T) {
	cfg := Config{
		Stride:     shape.Must("HW", 1, 2),
		Pooling:    kernels.PoolingMax,
		PoolWindow: shape.Must("HW", 1, 3),
		PoolStride: shape.Must("HW", 1, 3),
	}
	for name, out := range map[string]*tensor.Descriptor{
		"rank":  empty("HW", dtype.TypeInt32, 4, 4),
		"order": empty("NHDW", dtype.TypeInt32, 1, 1, 4, 4),
		"depth": empty("NHWD", dtype.TypeInt32, 1, 1, 2, 8),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewPipeline(newContext(catalog.Gen3_0), OpConvolution, pooledConvolution(out), cfg)
			require.Error(t, err)
			assert.Equal(t, modelerr.StatusOutputVolume, modelerr.StatusOf(err))
			m, ok := modelerr.AsModelError(err)
			require.True(t, ok)
			assert.Equal(t, catalog.OperandOutput, m.OperandIndex)
		})
	}
}

func TestLegacyPoolingNeedsActivation(t *testing.T) {
	cfg := Config{Pooling: kernels.PoolingSum, PoolWindow: shape.Must("HW", 1, 2)}
	_, err := NewPipeline(newContext(catalog.Gen2_0), OpConvolution, convOperands(25), cfg)
	require.Error(t, err)
	m, _ := modelerr.AsModelError(err)
	assert.Equal(t, catalog.OperandActivation, m.OperandIndex)
	assert.Equal(t, modelerr.ErrorArgumentMissing, m.Reason)
}

func TestConvolutionUnsupportedGeneration(t *testing.T) {
	_, err := NewPipeline(newContext(catalog.Gen1_0), OpConvolution, convOperands(25), Config{})
	assert.Equal(t, modelerr.StatusDeviceVersionUnsupported, modelerr.StatusOf(err))
}

func TestCopyOutputTypeMustMatch(t *testing.T) {
	ops := []*tensor.Descriptor{
		desc("HW", dtype.TypeInt16, make([]int16, 32), 2, 16),
		empty("HW", dtype.TypeInt8, 2, 16),
	}
	_, err := NewPipeline(newContext(catalog.Gen3_0), OpCopy, ops, Config{})
	require.Error(t, err)
	m, _ := modelerr.AsModelError(err)
	assert.Equal(t, catalog.OperandOutput, m.OperandIndex)
	assert.Equal(t, modelerr.ItemOperandType, m.Item)
}

func TestCopyShape(t *testing.T) {
	vals := make([]int16, 32)
	for i := range vals {
		vals[i] = int16(i)
	}
	ops := []*tensor.Descriptor{
		desc("HW", dtype.TypeInt16, vals, 2, 16),
		empty("HW", dtype.TypeInt16, 2, 16),
	}
	ctx := newContext(catalog.Gen3_0)
	p, err := NewPipeline(ctx, OpCopy, ops, Config{CopyShape: shape.Must("HW", 1, 8)})
	require.NoError(t, err)
	out := tensor.AlignedBuffer(64, catalog.BufferAlignment)
	require.NoError(t, p.Run(accel.ModeAuto, nil, &ExecConfig{Buffers: Buffers{catalog.OperandOutput: out}}))
	got := tensor.View[int16](out)
	assert.Equal(t, vals[:8], got[:8])
	assert.Equal(t, make([]int16, 24), got[8:])

	_, err = NewPipeline(ctx, OpCopy, ops, Config{CopyShape: shape.Must("HW", 3, 8)})
	assert.Equal(t, modelerr.StatusCopyShape, modelerr.StatusOf(err))
}

func TestTransposeShape(t *testing.T) {
	ops := []*tensor.Descriptor{
		desc("HW", dtype.TypeInt16, make([]int16, 6), 2, 3),
		empty("HW", dtype.TypeInt16, 2, 3),
	}
	_, err := NewPipeline(newContext(catalog.Gen3_0), OpTransposition, ops, Config{})
	assert.Equal(t, modelerr.StatusTransposeShape, modelerr.StatusOf(err))
}

func TestGmmShapes(t *testing.T) {
	ops := []*tensor.Descriptor{
		desc("HW", dtype.TypeUint8, make([]uint8, 24), 1, 24),
		empty("HW", dtype.TypeUint32, 2, 1),
		desc("HWD", dtype.TypeUint8, make([]uint8, 2*1*24), 2, 1, 24),
		desc("HWD", dtype.TypeUint16, make([]uint16, 2*1*24), 2, 1, 24),
		desc("HW", dtype.TypeUint32, make([]uint32, 2), 2, 1),
	}
	ctx := newContext(catalog.Gen3_0)
	p, err := NewPipeline(ctx, OpGmm, ops, Config{MaxScore: math.MaxUint32})
	require.NoError(t, err)
	assert.Equal(t, catalog.KindGmm, p.Stages[0].Kind)

	ops[catalog.OperandInverseCovariances] = desc("HWD", dtype.TypeUint16, make([]uint16, 2*2*24), 2, 2, 24)
	_, err = NewPipeline(ctx, OpGmm, ops, Config{MaxScore: 1})
	assert.Equal(t, modelerr.StatusGmmVarWidth, modelerr.StatusOf(err))
}

func TestUnknownOperation(t *testing.T) {
	_, err := NewPipeline(newContext(catalog.Gen3_0), OpKind(99), nil, Config{})
	assert.Equal(t, modelerr.StatusLayerKind, modelerr.StatusOf(err))
}

func TestParseOpKind(t *testing.T) {
	for _, k := range OpKinds() {
		got, err := ParseOpKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseOpKind("softmax")
	assert.Error(t, err)
}
