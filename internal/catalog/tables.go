package catalog

import (
	"math"

	"github.com/23skdu/longbow-anvil/internal/dtype"
	st "github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/shape"
)

// Shorthands for the tables below.
const (
	tN = shape.N
	tH = shape.H
	tW = shape.W
	tD = shape.D

	i8  = dtype.TypeInt8
	i16 = dtype.TypeInt16
	i32 = dtype.TypeInt32
	u8  = dtype.TypeUint8
	u16 = dtype.TypeUint16
	u32 = dtype.TypeUint32
	cb  = dtype.TypeCompoundBias
	pwl = dtype.TypePwlSegment
	wsf = dtype.TypeWeightScaleFactor
)

const (
	maxElements   = 65528
	maxGrouping   = 8
	maxSegments   = 128
	minSegments   = 2
	maxRnnOutputs = 2048
	maxGmmStates  = 262144
	maxMixtures   = 4096
)

type dims = map[shape.Tag]RangeLimits

// Input element counts must fill whole 16-byte lines: 8 int16 or 16 int8 values.
var lineMultiplier = MultiplierMap{0: 8, 1: 16, 2: 8}

func buildTables() Table {
	return Table{
		KindAffine:          affineTables(),
		KindAffineMultibias: multibiasTables(),
		KindAffineDiagonal:  diagonalTables(),
		KindActivation:      activationTables(),
		KindRecurrent:       recurrentTables(),
		KindConvolution:     convolutionTables(),
		KindPooling:         poolingTables(),
		KindCopy:            copyTables(),
		KindTranspose:       transposeTables(),
		KindGmm:             gmmTables(),
	}
}

func affineInput(m []dtype.DataMode) *TensorLimits {
	return tensor("HW", dims{
		tH: dimWidth(8, maxElements, lineMultiplier, st.StatusInputVolume),
		tW: dim(1, maxGrouping, st.StatusGrouping),
	}, m, st.StatusInputBytes)
}

func affineOutput(m []dtype.DataMode) *TensorLimits {
	return tensor("HW", dims{
		tH: dim(1, maxElements, st.StatusOutputVolume),
		tW: dim(1, maxGrouping, st.StatusGrouping),
	}, m, st.StatusOutputBytes)
}

func affineWeights(m []dtype.DataMode) *TensorLimits {
	return tensor("HW", dims{
		tH: dim(1, maxElements, st.StatusWeightVolume),
		tW: dimWidth(8, maxElements, lineMultiplier, st.StatusWeightVolume),
	}, m, st.StatusWeightBytes)
}

func vector(max uint32, vs st.Status, m []dtype.DataMode, ms st.Status) *TensorLimits {
	return tensor("H", dims{tH: dim(1, max, vs)}, m, ms)
}

func affineTables() map[Generation]*Capabilities {
	return map[Generation]*Capabilities{
		Gen0_9: {
			Operands: map[int]*TensorLimits{
				OperandInput:   affineInput(modes(i16)),
				OperandOutput:  affineOutput(modes(i32)),
				OperandWeights: affineWeights(modes(i8, i16)),
				OperandBias:    vector(maxElements, st.StatusBiasVolume, modes(i32, cb), st.StatusBiasBytes),
			},
		},
		Gen3_0: {
			Operands: map[int]*TensorLimits{
				OperandInput:   affineInput(modes(i8, i16)),
				OperandOutput:  affineOutput(modes(i32)),
				OperandWeights: affineWeights(modes(i8, i16)),
				OperandBias:    vector(maxElements, st.StatusBiasVolume, withDisabled(modes(i8, i16, i32, cb)), st.StatusBiasBytes),
			},
		},
	}
}

func multibiasBias(m []dtype.DataMode) *TensorLimits {
	return tensor("HW", dims{
		tH: dim(1, maxElements, st.StatusBiasVolume),
		tW: dim(1, math.MaxUint16, st.StatusBiasVolume),
	}, m, st.StatusBiasBytes)
}

func multibiasTables() map[Generation]*Capabilities {
	scalars := map[int]*RangeLimits{
		ParamBiasVectorIndex: {Min: 0, Max: math.MaxUint16 - 1, Status: st.StatusBiasIndex},
	}
	return map[Generation]*Capabilities{
		Gen2_0: {
			Operands: map[int]*TensorLimits{
				OperandInput:              affineInput(modes(i16)),
				OperandOutput:             affineOutput(modes(i32)),
				OperandWeights:            affineWeights(modes(i8, i16)),
				OperandBias:               multibiasBias(modes(i32)),
				OperandWeightScaleFactors: vector(maxElements, st.StatusWeightVolume, modes(wsf), st.StatusWeightBytes),
			},
			Scalars: scalars,
		},
		Gen3_0: {
			Operands: map[int]*TensorLimits{
				OperandInput:              affineInput(modes(i8, i16)),
				OperandOutput:             affineOutput(modes(i32)),
				OperandWeights:            affineWeights(modes(i8, i16)),
				OperandBias:               multibiasBias(modes(i8, i16, i32)),
				OperandWeightScaleFactors: vector(maxElements, st.StatusWeightVolume, modes(wsf), st.StatusWeightBytes),
			},
			Scalars: scalars,
		},
	}
}

func diagonalTables() map[Generation]*Capabilities {
	return map[Generation]*Capabilities{
		Gen0_9: {
			Operands: map[int]*TensorLimits{
				OperandInput:   affineInput(modes(i16)),
				OperandOutput:  affineOutput(modes(i32)),
				OperandWeights: vector(maxElements, st.StatusWeightVolume, modes(i8, i16), st.StatusWeightBytes),
				OperandBias:    vector(maxElements, st.StatusBiasVolume, modes(i32, cb), st.StatusBiasBytes),
			},
		},
		Gen3_0: {
			Operands: map[int]*TensorLimits{
				OperandInput:   affineInput(modes(i8, i16)),
				OperandOutput:  affineOutput(modes(i32)),
				OperandWeights: vector(maxElements, st.StatusWeightVolume, modes(i8, i16), st.StatusWeightBytes),
				OperandBias:    vector(maxElements, st.StatusBiasVolume, modes(i8, i16, i32, cb), st.StatusBiasBytes),
			},
		},
	}
}

func segments() *TensorLimits {
	return tensor("H", dims{tH: dim(minSegments, maxSegments, st.StatusPwlSegments)}, modes(pwl), st.StatusPwlSegments)
}

// Activation follows whichever stage feeds it, so input and output accept
// any layout and only constrain element types.
func activationTables() map[Generation]*Capabilities {
	return map[Generation]*Capabilities{
		Gen0_9: {
			Operands: map[int]*TensorLimits{
				OperandInput:      tensor(shape.AnyLayout, nil, modes(i32), st.StatusInputBytes),
				OperandOutput:     tensor(shape.AnyLayout, nil, modes(i16), st.StatusOutputBytes),
				OperandActivation: segments(),
			},
		},
		Gen3_0: {
			Operands: map[int]*TensorLimits{
				OperandInput:      tensor(shape.AnyLayout, nil, modes(i32), st.StatusInputBytes),
				OperandOutput:     tensor(shape.AnyLayout, nil, modes(i8, i16, i32), st.StatusOutputBytes),
				OperandActivation: segments(),
			},
		},
	}
}

func recurrentTables() map[Generation]*Capabilities {
	build := func(in, out, bias []dtype.DataMode) *Capabilities {
		return &Capabilities{
			Operands: map[int]*TensorLimits{
				OperandInput: tensor("HW", dims{
					tH: dim(1, maxGrouping, st.StatusGrouping),
					tW: dimWidth(8, maxElements, lineMultiplier, st.StatusInputVolume),
				}, in, st.StatusInputBytes),
				OperandOutput: tensor("HW", dims{
					tH: dim(1, maxGrouping, st.StatusGrouping),
					tW: dimMul(32, maxRnnOutputs, 32, st.StatusOutputVolume),
				}, out, st.StatusOutputBytes),
				OperandWeights: tensor("HW", dims{
					tH: dimMul(32, maxRnnOutputs, 32, st.StatusWeightVolume),
					tW: dimMul(40, maxElements+maxRnnOutputs, 8, st.StatusWeightVolume),
				}, modes(i8, i16), st.StatusWeightBytes),
				OperandBias:       vector(maxRnnOutputs, st.StatusBiasVolume, bias, st.StatusBiasBytes),
				OperandActivation: segments(),
			},
			Scalars: map[int]*RangeLimits{
				ParamDelay: {Min: 1, Max: maxGrouping, Status: st.StatusDelay},
			},
		}
	}
	return map[Generation]*Capabilities{
		Gen0_9: build(modes(i16), modes(i16), modes(i32, cb)),
		Gen3_0: build(modes(i8, i16), modes(i8, i16), modes(i8, i16, i32, cb)),
	}
}

func convolutionTables() map[Generation]*Capabilities {
	legacy := &Capabilities{
		Operands: map[int]*TensorLimits{
			OperandInput: tensor("NHWD", dims{
				tN: dim(1, 1, st.StatusGrouping),
				tH: dim(1, 1, st.StatusInputVolume),
				tW: dimMul(16, maxElements, 8, st.StatusInputVolume),
				tD: dim(1, 1, st.StatusInputVolume),
			}, modes(i16), st.StatusInputBytes),
			OperandFilters: tensor("NHWD", dims{
				tN: dimMul(4, 65532, 4, st.StatusConvFilterCount),
				tH: dim(1, 1, st.StatusConvFilterVolume),
				tW: dimMul(8, 768, 8, st.StatusConvFilterVolume),
				tD: dim(1, 1, st.StatusConvFilterVolume),
			}, modes(i16), st.StatusWeightBytes),
			OperandBias: tensor("N", dims{
				tN: dimMul(4, 65532, 4, st.StatusBiasVolume),
			}, modes(i32), st.StatusBiasBytes),
			OperandOutput: tensor("NHWD", dims{
				tN: dim(1, 1, st.StatusGrouping),
				tH: dim(1, 1, st.StatusOutputVolume),
				tW: dim(1, math.MaxUint16, st.StatusOutputVolume),
				tD: dimMul(4, 65532, 4, st.StatusOutputVolume),
			}, modes(i32), st.StatusOutputBytes),
		},
		Parameters: map[int]*ComponentLimits{
			ParamConvStride: component("HW", dims{
				tH: dim(1, 1, st.StatusConvFilterStride),
				tW: dim(1, 768, st.StatusConvFilterStride),
			}),
			ParamZeroPadding: component("HW", dims{
				tH: dim(0, 0, st.StatusConvPadding),
				tW: dim(0, 0, st.StatusConvPadding),
			}),
		},
	}
	full := &Capabilities{
		Operands: map[int]*TensorLimits{
			OperandInput: tensor("NHWD", dims{
				tN: dim(1, 1, st.StatusGrouping),
				tH: dim(1, math.MaxUint16, st.StatusInputVolume),
				tW: dim(1, math.MaxUint16, st.StatusInputVolume),
				tD: dim(1, 2048, st.StatusInputVolume),
			}, modes(i8, i16), st.StatusInputBytes),
			OperandFilters: tensor("NHWD", dims{
				tN: dim(1, 8192, st.StatusConvFilterCount),
				tH: dim(1, 255, st.StatusConvFilterVolume),
				tW: dim(1, 255, st.StatusConvFilterVolume),
				tD: dim(1, 2048, st.StatusConvFilterVolume),
			}, modes(i8, i16), st.StatusWeightBytes),
			OperandBias: tensor("N", dims{
				tN: dim(1, 8192, st.StatusBiasVolume),
			}, withDisabled(modes(i8, i16, i32)), st.StatusBiasBytes),
			OperandOutput: tensor("NHWD", dims{
				tN: dim(1, 1, st.StatusGrouping),
				tH: dim(1, math.MaxUint16, st.StatusOutputVolume),
				tW: dim(1, math.MaxUint16, st.StatusOutputVolume),
				tD: dim(1, 8192, st.StatusOutputVolume),
			}, modes(i32), st.StatusOutputBytes),
		},
		Parameters: map[int]*ComponentLimits{
			ParamConvStride: component("HW", dims{
				tH: dim(1, 255, st.StatusConvFilterStride),
				tW: dim(1, 255, st.StatusConvFilterStride),
			}),
			ParamZeroPadding: component("HW", dims{
				tH: dim(0, 255, st.StatusConvPadding),
				tW: dim(0, 255, st.StatusConvPadding),
			}),
		},
	}
	return map[Generation]*Capabilities{
		Gen2_0: legacy,
		Gen3_0: full,
	}
}

func poolingTables() map[Generation]*Capabilities {
	build := func(maxH, maxW uint32) *Capabilities {
		return &Capabilities{
			Operands: map[int]*TensorLimits{
				OperandInput:  tensor(shape.AnyLayout, nil, modes(i32), st.StatusInputBytes),
				OperandOutput: tensor(shape.AnyLayout, nil, modes(i32), st.StatusOutputBytes),
			},
			Parameters: map[int]*ComponentLimits{
				ParamPoolingWindow: component("HW", dims{
					tH: dim(1, maxH, st.StatusPoolSize),
					tW: dim(1, maxW, st.StatusPoolSize),
				}),
				ParamPoolingStride: component("HW", dims{
					tH: dim(1, maxH, st.StatusPoolStride),
					tW: dim(1, maxW, st.StatusPoolStride),
				}),
			},
		}
	}
	return map[Generation]*Capabilities{
		Gen2_0: build(1, 6),
		Gen3_0: build(255, 255),
	}
}

func copyTables() map[Generation]*Capabilities {
	build := func(m []dtype.DataMode) *Capabilities {
		io := func(ms st.Status) *TensorLimits {
			return tensor("HW", dims{
				tH: dim(1, maxGrouping, st.StatusGrouping),
				tW: dimWidth(8, maxElements, lineMultiplier, st.StatusCopyShape),
			}, m, ms)
		}
		return &Capabilities{
			Operands: map[int]*TensorLimits{
				OperandInput:  io(st.StatusInputBytes),
				OperandOutput: io(st.StatusOutputBytes),
			},
			Parameters: map[int]*ComponentLimits{
				ParamCopyShape: component("HW", dims{
					tH: dim(1, maxGrouping, st.StatusCopyShape),
					tW: dimMul(8, maxElements, 8, st.StatusCopyShape),
				}),
			},
		}
	}
	return map[Generation]*Capabilities{
		Gen0_9: build(modes(i16)),
		Gen3_0: build(modes(i8, i16)),
	}
}

func transposeTables() map[Generation]*Capabilities {
	build := func(m []dtype.DataMode) *Capabilities {
		io := func(ms st.Status) *TensorLimits {
			return tensor("HW", dims{
				tH: dim(1, maxElements, st.StatusTransposeShape),
				tW: dim(1, maxElements, st.StatusTransposeShape),
			}, m, ms)
		}
		return &Capabilities{
			Operands: map[int]*TensorLimits{
				OperandInput:  io(st.StatusInputBytes),
				OperandOutput: io(st.StatusOutputBytes),
			},
		}
	}
	return map[Generation]*Capabilities{
		Gen0_9: build(modes(i16)),
		Gen3_0: build(modes(i8, i16)),
	}
}

func gmmTables() map[Generation]*Capabilities {
	feature := dimMul(24, 96, 8, st.StatusGmmMeanWidth)
	states := dim(1, maxGmmStates, st.StatusGmmStateCount)
	mixtures := dim(1, maxMixtures, st.StatusGmmMixtureCount)
	return map[Generation]*Capabilities{
		Gen0_9: {
			Operands: map[int]*TensorLimits{
				OperandInput: tensor("HW", dims{
					tH: dim(1, maxGrouping, st.StatusGrouping),
					tW: feature,
				}, modes(u8), st.StatusInputBytes),
				OperandOutput: tensor("HW", dims{
					tH: states,
					tW: dim(1, maxGrouping, st.StatusGrouping),
				}, modes(u32), st.StatusOutputBytes),
				OperandMeans: tensor("HWD", dims{
					tH: states, tW: mixtures, tD: feature,
				}, modes(u8), st.StatusGmmMeanWidth),
				OperandInverseCovariances: tensor("HWD", dims{
					tH: states, tW: mixtures, tD: feature,
				}, modes(u8, u16), st.StatusGmmVarWidth),
				OperandConstants: tensor("HW", dims{
					tH: states, tW: mixtures,
				}, modes(u32), st.StatusGmmConstWidth),
			},
			Scalars: map[int]*RangeLimits{
				ParamMaximumScore: {Min: 1, Max: math.MaxUint32, Status: st.StatusGmmMaxScore},
			},
		},
	}
}
