package transform

import (
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/kernels"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

func (b *builder) affine() error {
	kind := catalog.KindAffine
	switch b.cfg.BiasMode {
	case BiasDefault:
	case BiasPerStride:
		kind = catalog.KindAffineMultibias
	default:
		return modelerr.ForParameter(catalog.ParamBiasMode, func() error {
			return modelerr.Invalid(modelerr.StatusBiasMode, modelerr.ItemParameters, modelerr.ErrorNotInSet, int64(b.cfg.BiasMode))
		})
	}

	in, inCheck, err := b.operand(kind, catalog.OperandInput)
	if err != nil {
		return err
	}
	w, _, err := b.operand(kind, catalog.OperandWeights)
	if err != nil {
		return err
	}
	if err := expectDim(catalog.OperandWeights, w, shape.W, in.Dim(shape.H), modelerr.StatusWeightVolume); err != nil {
		return err
	}
	bias, err := b.bias(kind)
	if err != nil {
		return err
	}
	outputs, batch := w.Dim(shape.H), in.Dim(shape.W)
	if !bias.Disabled() {
		if err := expectDim(catalog.OperandBias, bias, shape.H, outputs, modelerr.StatusBiasVolume); err != nil {
			return err
		}
	}

	stage := &Stage{
		Kind:       kind,
		Input:      in,
		Operands:   map[int]*tensor.Tensor{catalog.OperandWeights: w, catalog.OperandBias: bias},
		inputCheck: inCheck,
	}
	if kind == catalog.KindAffineMultibias {
		idx := b.cfg.BiasVectorIndex
		if err := b.scalar(kind, catalog.ParamBiasVectorIndex, idx); err != nil {
			return err
		}
		err := modelerr.ForParameter(catalog.ParamBiasVectorIndex, func() error {
			return modelerr.ExpectInRange(int64(idx), 0, int64(bias.Dim(shape.W))-1, modelerr.StatusBiasIndex, modelerr.ItemParameters)
		})
		if err != nil {
			return err
		}
		stage.Params.BiasVectorIndex = idx
		if w.Mode.Type == dtype.TypeInt8 {
			if !b.present(catalog.OperandWeightScaleFactors) {
				return modelerr.Missing(catalog.OperandWeightScaleFactors)
			}
			wsf, _, err := b.operand(kind, catalog.OperandWeightScaleFactors)
			if err != nil {
				return err
			}
			if err := expectDim(catalog.OperandWeightScaleFactors, wsf, shape.H, outputs, modelerr.StatusWeightVolume); err != nil {
				return err
			}
			stage.Operands[catalog.OperandWeightScaleFactors] = wsf
		}
	}

	if b.present(catalog.OperandActivation) {
		mid, err := b.link(kind, catalog.KindActivation, shape.Must("HW", outputs, batch), dtype.TypeInt32)
		if err != nil {
			return err
		}
		stage.Output = mid
		if err := b.add(stage); err != nil {
			return err
		}
		return b.activation(mid)
	}
	out, outCheck, err := b.operand(kind, catalog.OperandOutput)
	if err != nil {
		return err
	}
	if err := expectDim(catalog.OperandOutput, out, shape.H, outputs, modelerr.StatusOutputVolume); err != nil {
		return err
	}
	if err := expectDim(catalog.OperandOutput, out, shape.W, batch, modelerr.StatusGrouping); err != nil {
		return err
	}
	stage.Output, stage.outputCheck = out, outCheck
	return b.add(stage)
}

func (b *builder) diagonal() error {
	kind := catalog.KindAffineDiagonal
	in, inCheck, err := b.operand(kind, catalog.OperandInput)
	if err != nil {
		return err
	}
	rows, batch := in.Dim(shape.H), in.Dim(shape.W)
	w, _, err := b.operand(kind, catalog.OperandWeights)
	if err != nil {
		return err
	}
	if err := expectDim(catalog.OperandWeights, w, shape.H, rows, modelerr.StatusWeightVolume); err != nil {
		return err
	}
	bias, err := b.bias(kind)
	if err != nil {
		return err
	}
	if !bias.Disabled() {
		if err := expectDim(catalog.OperandBias, bias, shape.H, rows, modelerr.StatusBiasVolume); err != nil {
			return err
		}
	}
	stage := &Stage{
		Kind:       kind,
		Input:      in,
		Operands:   map[int]*tensor.Tensor{catalog.OperandWeights: w, catalog.OperandBias: bias},
		inputCheck: inCheck,
	}
	if b.present(catalog.OperandActivation) {
		mid, err := b.link(kind, catalog.KindActivation, shape.Must("HW", rows, batch), dtype.TypeInt32)
		if err != nil {
			return err
		}
		stage.Output = mid
		if err := b.add(stage); err != nil {
			return err
		}
		return b.activation(mid)
	}
	out, outCheck, err := b.operand(kind, catalog.OperandOutput)
	if err != nil {
		return err
	}
	if err := expectDim(catalog.OperandOutput, out, shape.H, rows, modelerr.StatusOutputVolume); err != nil {
		return err
	}
	if err := expectDim(catalog.OperandOutput, out, shape.W, batch, modelerr.StatusGrouping); err != nil {
		return err
	}
	stage.Output, stage.outputCheck = out, outCheck
	return b.add(stage)
}

func (b *builder) recurrent() error {
	kind := catalog.KindRecurrent
	if !b.present(catalog.OperandActivation) {
		return modelerr.Missing(catalog.OperandActivation)
	}
	in, inCheck, err := b.operand(kind, catalog.OperandInput)
	if err != nil {
		return err
	}
	out, outCheck, err := b.operand(kind, catalog.OperandOutput)
	if err != nil {
		return err
	}
	frames, outputs := in.Dim(shape.H), out.Dim(shape.W)
	if err := expectDim(catalog.OperandOutput, out, shape.H, frames, modelerr.StatusGrouping); err != nil {
		return err
	}
	w, _, err := b.operand(kind, catalog.OperandWeights)
	if err != nil {
		return err
	}
	if err := expectDim(catalog.OperandWeights, w, shape.H, outputs, modelerr.StatusWeightVolume); err != nil {
		return err
	}
	if err := expectDim(catalog.OperandWeights, w, shape.W, in.Dim(shape.W)+outputs, modelerr.StatusWeightVolume); err != nil {
		return err
	}
	bias, err := b.bias(kind)
	if err != nil {
		return err
	}
	if !bias.Disabled() {
		if err := expectDim(catalog.OperandBias, bias, shape.H, outputs, modelerr.StatusBiasVolume); err != nil {
			return err
		}
	}
	segs, _, err := b.operand(kind, catalog.OperandActivation)
	if err != nil {
		return err
	}
	if !kernels.SegmentsSorted(tensor.View[kernels.PwlSegment](segs.Buffer)) {
		return modelerr.ForOperand(catalog.OperandActivation, func() error {
			return modelerr.Invalid(modelerr.StatusPwlSegments, modelerr.ItemData, modelerr.ErrorNotTrue, int64(segs.Count()))
		})
	}
	delay := b.cfg.Delay
	if err := b.scalar(kind, catalog.ParamDelay, delay); err != nil {
		return err
	}
	err = modelerr.ForParameter(catalog.ParamDelay, func() error {
		return modelerr.ExpectInRange(int64(delay), 1, int64(frames), modelerr.StatusDelay, modelerr.ItemParameters)
	})
	if err != nil {
		return err
	}
	return b.add(&Stage{
		Kind:   kind,
		Input:  in,
		Output: out,
		Operands: map[int]*tensor.Tensor{
			catalog.OperandWeights:    w,
			catalog.OperandBias:       bias,
			catalog.OperandActivation: segs,
		},
		Params:      kernels.Params{Delay: delay},
		inputCheck:  inCheck,
		outputCheck: outCheck,
	})
}

// OutputExtent is the extent of a sliding window over in with padding on
// both sides: floor((in + 2*pad - window) / stride) + 1. It reports false
// when the window does not fit.
func OutputExtent(in, window, pad, stride uint32) (uint32, bool) {
	span := in + 2*pad
	if window == 0 || stride == 0 || window > span {
		return 0, false
	}
	return (span-window)/stride + 1, true
}

func (b *builder) convolution() error {
	kind := catalog.KindConvolution
	if b.cfg.BiasMode != BiasDefault {
		return modelerr.ForParameter(catalog.ParamConvBiasMode, func() error {
			return modelerr.Invalid(modelerr.StatusBiasMode, modelerr.ItemParameters, modelerr.ErrorNotInSet, int64(b.cfg.BiasMode))
		})
	}
	pooling := b.cfg.Pooling
	if pooling < kernels.PoolingNone || pooling > kernels.PoolingSum {
		return modelerr.ForParameter(catalog.ParamPoolingMode, func() error {
			return modelerr.Invalid(modelerr.StatusPoolType, modelerr.ItemParameters, modelerr.ErrorNotInSet, int64(pooling))
		})
	}
	in, inCheck, err := b.operand(kind, catalog.OperandInput)
	if err != nil {
		return err
	}
	activated := b.present(catalog.OperandActivation)
	if pooling != kernels.PoolingNone && !activated && b.ctx.Generation < catalog.Gen3_0 {
		return modelerr.Missing(catalog.OperandActivation)
	}
	f, _, err := b.operand(kind, catalog.OperandFilters)
	if err != nil {
		return err
	}
	if err := expectDim(catalog.OperandFilters, f, shape.D, in.Dim(shape.D), modelerr.StatusConvFilterVolume); err != nil {
		return err
	}
	filters := f.Dim(shape.N)
	bias, err := b.bias(kind)
	if err != nil {
		return err
	}
	if !bias.Disabled() {
		if err := expectDim(catalog.OperandBias, bias, shape.N, filters, modelerr.StatusBiasVolume); err != nil {
			return err
		}
	}
	stride, err := b.parameter(kind, catalog.ParamConvStride, b.cfg.Stride, 1)
	if err != nil {
		return err
	}
	pad, err := b.parameter(kind, catalog.ParamZeroPadding, b.cfg.Padding, 0)
	if err != nil {
		return err
	}
	kH, kW := f.Dim(shape.H), f.Dim(shape.W)
	err = modelerr.ForParameter(catalog.ParamZeroPadding, func() error {
		if err := modelerr.ForDimension(0, func() error {
			return modelerr.ExpectInRange(int64(pad.H), 0, int64(kH)-1, modelerr.StatusConvPadding, modelerr.ItemParameters)
		}); err != nil {
			return err
		}
		return modelerr.ForDimension(1, func() error {
			return modelerr.ExpectInRange(int64(pad.W), 0, int64(kW)-1, modelerr.StatusConvPadding, modelerr.ItemParameters)
		})
	})
	if err != nil {
		return err
	}
	outH, okH := OutputExtent(in.Dim(shape.H), kH, pad.H, stride.H)
	outW, okW := OutputExtent(in.Dim(shape.W), kW, pad.W, stride.W)
	if !okH || !okW {
		return modelerr.ForOperand(catalog.OperandFilters, func() error {
			return modelerr.Invalid(modelerr.StatusConvFilterVolume, modelerr.ItemShapeDimensions, modelerr.ErrorAboveRange, int64(max(kH, kW)))
		})
	}
	convOut := shape.Must("NHWD", 1, outH, outW, filters)
	conv := &Stage{
		Kind:       kind,
		Input:      in,
		Operands:   map[int]*tensor.Tensor{catalog.OperandFilters: f, catalog.OperandBias: bias},
		Params:     kernels.Params{Stride: stride, Padding: pad},
		inputCheck: inCheck,
	}

	if pooling == kernels.PoolingNone && !activated {
		out, outCheck, err := b.operand(kind, catalog.OperandOutput)
		if err != nil {
			return err
		}
		if err := expectShape(out, convOut); err != nil {
			return err
		}
		conv.Output, conv.outputCheck = out, outCheck
		return b.add(conv)
	}

	next := catalog.KindActivation
	if pooling != kernels.PoolingNone {
		next = catalog.KindPooling
	}
	mid, err := b.link(kind, next, convOut, dtype.TypeInt32)
	if err != nil {
		return err
	}
	conv.Output = mid
	if err := b.add(conv); err != nil {
		return err
	}
	if pooling == kernels.PoolingNone {
		return b.activation(mid)
	}
	return b.pooling(mid, activated)
}

func (b *builder) pooling(in *tensor.Tensor, activated bool) error {
	win, err := b.parameter(catalog.KindPooling, catalog.ParamPoolingWindow, b.cfg.PoolWindow, 1)
	if err != nil {
		return err
	}
	stride := win
	if b.cfg.PoolStride.Rank() > 0 {
		if stride, err = b.parameter(catalog.KindPooling, catalog.ParamPoolingStride, b.cfg.PoolStride, 1); err != nil {
			return err
		}
	}
	outH, okH := OutputExtent(in.Dim(shape.H), win.H, 0, stride.H)
	outW, okW := OutputExtent(in.Dim(shape.W), win.W, 0, stride.W)
	if !okH || !okW {
		return modelerr.ForParameter(catalog.ParamPoolingWindow, func() error {
			return modelerr.Invalid(modelerr.StatusPoolSize, modelerr.ItemParameters, modelerr.ErrorAboveRange, int64(max(win.H, win.W)))
		})
	}
	pooled := shape.Must("NHWD", 1, outH, outW, in.Dim(shape.D))
	stage := &Stage{
		Kind:   catalog.KindPooling,
		Input:  in,
		Params: kernels.Params{Pooling: b.cfg.Pooling, Window: win, PoolStride: stride},
	}
	if activated {
		mid, err := b.link(catalog.KindPooling, catalog.KindActivation, pooled, dtype.TypeInt32)
		if err != nil {
			return err
		}
		stage.Output = mid
		if err := b.add(stage); err != nil {
			return err
		}
		return b.activation(mid)
	}
	out, outCheck, err := b.operand(catalog.KindPooling, catalog.OperandOutput)
	if err != nil {
		return err
	}
	if err := expectShape(out, pooled); err != nil {
		return err
	}
	stage.Output, stage.outputCheck = out, outCheck
	return b.add(stage)
}

// expectShape checks the layout and every extent of out against want.
func expectShape(out *tensor.Tensor, want shape.Shape) error {
	err := modelerr.ForOperand(catalog.OperandOutput, func() error {
		return modelerr.ExpectEqual(int64(out.Shape.Rank()), int64(want.Rank()), modelerr.StatusOutputVolume, modelerr.ItemShapeRank)
	})
	if err != nil {
		return err
	}
	for i, d := range want.Dims {
		if out.Shape.Layout.Index(d.Tag) != i {
			return modelerr.ForOperand(catalog.OperandOutput, func() error {
				return modelerr.ForDimension(i, func() error {
					return modelerr.Invalid(modelerr.StatusOutputVolume, modelerr.ItemShapeDimensions, modelerr.ErrorNotEqual, int64(out.Shape.Dims[i].Extent))
				})
			})
		}
	}
	for _, d := range want.Dims {
		if err := expectDim(catalog.OperandOutput, out, d.Tag, d.Extent, modelerr.StatusOutputVolume); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) copy() error {
	kind := catalog.KindCopy
	in, inCheck, err := b.operand(kind, catalog.OperandInput)
	if err != nil {
		return err
	}
	out, outCheck, err := b.operand(kind, catalog.OperandOutput)
	if err != nil {
		return err
	}
	cs := b.cfg.CopyShape
	if cs.Rank() == 0 {
		cs = shape.Must("HW", min(in.Dim(shape.H), out.Dim(shape.H)), min(in.Dim(shape.W), out.Dim(shape.W)))
	}
	caps, err := b.caps(kind)
	if err != nil {
		return err
	}
	limits, _ := caps.Parameter(catalog.ParamCopyShape)
	cs, err = tensor.NewParameter(limits, cs, catalog.ParamCopyShape)
	if err != nil {
		return err
	}
	rows, cols := cs.Extent(shape.H), cs.Extent(shape.W)
	err = modelerr.ForParameter(catalog.ParamCopyShape, func() error {
		if err := modelerr.ForDimension(0, func() error {
			return modelerr.ExpectInRange(int64(rows), 1, int64(min(in.Dim(shape.H), out.Dim(shape.H))), modelerr.StatusCopyShape, modelerr.ItemParameters)
		}); err != nil {
			return err
		}
		return modelerr.ForDimension(1, func() error {
			return modelerr.ExpectInRange(int64(cols), 1, int64(min(in.Dim(shape.W), out.Dim(shape.W))), modelerr.StatusCopyShape, modelerr.ItemParameters)
		})
	})
	if err != nil {
		return err
	}
	return b.add(&Stage{
		Kind:        kind,
		Input:       in,
		Output:      out,
		Params:      kernels.Params{CopyRows: rows, CopyColumns: cols},
		inputCheck:  inCheck,
		outputCheck: outCheck,
	})
}

func (b *builder) transpose() error {
	kind := catalog.KindTranspose
	in, inCheck, err := b.operand(kind, catalog.OperandInput)
	if err != nil {
		return err
	}
	out, outCheck, err := b.operand(kind, catalog.OperandOutput)
	if err != nil {
		return err
	}
	if err := expectDim(catalog.OperandOutput, out, shape.H, in.Dim(shape.W), modelerr.StatusTransposeShape); err != nil {
		return err
	}
	if err := expectDim(catalog.OperandOutput, out, shape.W, in.Dim(shape.H), modelerr.StatusTransposeShape); err != nil {
		return err
	}
	return b.add(&Stage{
		Kind:        kind,
		Input:       in,
		Output:      out,
		inputCheck:  inCheck,
		outputCheck: outCheck,
	})
}

func (b *builder) gmm() error {
	kind := catalog.KindGmm
	in, inCheck, err := b.operand(kind, catalog.OperandInput)
	if err != nil {
		return err
	}
	means, _, err := b.operand(kind, catalog.OperandMeans)
	if err != nil {
		return err
	}
	if err := expectDim(catalog.OperandMeans, means, shape.D, in.Dim(shape.W), modelerr.StatusGmmMeanWidth); err != nil {
		return err
	}
	states, mixtures := means.Dim(shape.H), means.Dim(shape.W)
	icov, _, err := b.operand(kind, catalog.OperandInverseCovariances)
	if err != nil {
		return err
	}
	for _, d := range means.Shape.Dims {
		if err := expectDim(catalog.OperandInverseCovariances, icov, d.Tag, d.Extent, modelerr.StatusGmmVarWidth); err != nil {
			return err
		}
	}
	consts, _, err := b.operand(kind, catalog.OperandConstants)
	if err != nil {
		return err
	}
	if err := expectDim(catalog.OperandConstants, consts, shape.H, states, modelerr.StatusGmmConstWidth); err != nil {
		return err
	}
	if err := expectDim(catalog.OperandConstants, consts, shape.W, mixtures, modelerr.StatusGmmConstWidth); err != nil {
		return err
	}
	out, outCheck, err := b.operand(kind, catalog.OperandOutput)
	if err != nil {
		return err
	}
	if err := expectDim(catalog.OperandOutput, out, shape.H, states, modelerr.StatusGmmStateCount); err != nil {
		return err
	}
	if err := expectDim(catalog.OperandOutput, out, shape.W, in.Dim(shape.H), modelerr.StatusGrouping); err != nil {
		return err
	}
	if err := b.scalar(kind, catalog.ParamMaximumScore, b.cfg.MaxScore); err != nil {
		return err
	}
	return b.add(&Stage{
		Kind:   kind,
		Input:  in,
		Output: out,
		Operands: map[int]*tensor.Tensor{
			catalog.OperandMeans:              means,
			catalog.OperandInverseCovariances: icov,
			catalog.OperandConstants:          consts,
		},
		Params:      kernels.Params{MaxScore: b.cfg.MaxScore},
		inputCheck:  inCheck,
		outputCheck: outCheck,
	})
}
