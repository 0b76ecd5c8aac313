package lowering

import (
	"math"

	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/tensor"
	"github.com/23skdu/longbow-anvil/internal/transform"
)

// Operation is an abstract operation descriptor. Operands and Parameters
// are positional; a nil entry is an absent optional slot.
type Operation struct {
	Kind       transform.OpKind
	Operands   []*tensor.Descriptor
	Parameters []any
}

// ParamSlot describes one parameter position.
type ParamSlot struct {
	Name string
	set  func(cfg *transform.Config, v any) error
}

// Meta is the slot layout of one operation kind. The maximum counts are
// the lengths of Operands and Parameters.
type Meta struct {
	Operands      []string
	MinOperands   int
	Parameters    []ParamSlot
	MinParameters int
}

// MaxOperands is the number of operand slots.
func (m Meta) MaxOperands() int { return len(m.Operands) }

// MaxParameters is the number of parameter slots.
func (m Meta) MaxParameters() int { return len(m.Parameters) }

// Role returns the role name of operand slot i.
func (m Meta) Role(i int) string {
	if i == catalog.OperandScratch {
		return "scratch"
	}
	if i < 0 || i >= len(m.Operands) {
		return ""
	}
	return m.Operands[i]
}

var (
	biasModeSlot = ParamSlot{Name: "bias_mode", set: func(c *transform.Config, v any) (err error) {
		c.BiasMode, err = biasModeParam(v)
		return err
	}}
	biasIndexSlot = ParamSlot{Name: "bias_vector_index", set: func(c *transform.Config, v any) (err error) {
		c.BiasVectorIndex, err = scalarParam(v)
		return err
	}}
	delaySlot = ParamSlot{Name: "delay", set: func(c *transform.Config, v any) (err error) {
		c.Delay, err = scalarParam(v)
		return err
	}}
	strideSlot = ParamSlot{Name: "stride", set: func(c *transform.Config, v any) (err error) {
		c.Stride, err = shapeParam(v)
		return err
	}}
	poolingSlot = ParamSlot{Name: "pooling_mode", set: func(c *transform.Config, v any) (err error) {
		c.Pooling, err = poolingParam(v)
		return err
	}}
	poolWindowSlot = ParamSlot{Name: "pooling_window", set: func(c *transform.Config, v any) (err error) {
		c.PoolWindow, err = shapeParam(v)
		return err
	}}
	poolStrideSlot = ParamSlot{Name: "pooling_stride", set: func(c *transform.Config, v any) (err error) {
		c.PoolStride, err = shapeParam(v)
		return err
	}}
	paddingSlot = ParamSlot{Name: "zero_padding", set: func(c *transform.Config, v any) (err error) {
		c.Padding, err = shapeParam(v)
		return err
	}}
	copyShapeSlot = ParamSlot{Name: "copy_shape", set: func(c *transform.Config, v any) (err error) {
		c.CopyShape, err = shapeParam(v)
		return err
	}}
	maxScoreSlot = ParamSlot{Name: "maximum_score", set: func(c *transform.Config, v any) (err error) {
		c.MaxScore, err = scalarParam(v)
		return err
	}}
)

var affineOperands = []string{"input", "output", "weights", "bias", "activation"}

// Metadata is the fixed slot table of every operation kind.
var Metadata = map[transform.OpKind]Meta{
	transform.OpFullyConnectedAffine: {
		Operands:    []string{"input", "output", "weights", "bias", "activation", "weight_scale_factors"},
		MinOperands: 3,
		Parameters:  []ParamSlot{biasModeSlot, biasIndexSlot},
	},
	transform.OpElementWiseAffine: {
		Operands:    affineOperands,
		MinOperands: 3,
	},
	transform.OpRecurrent: {
		Operands:      affineOperands,
		MinOperands:   3,
		Parameters:    []ParamSlot{delaySlot},
		MinParameters: 1,
	},
	transform.OpConvolution: {
		Operands:      []string{"input", "output", "filters", "bias", "activation"},
		MinOperands:   3,
		Parameters:    []ParamSlot{strideSlot, {Name: "bias_mode", set: biasModeSlot.set}, poolingSlot, poolWindowSlot, poolStrideSlot, paddingSlot},
		MinParameters: 1,
	},
	transform.OpCopy: {
		Operands:    []string{"input", "output"},
		MinOperands: 2,
		Parameters:  []ParamSlot{copyShapeSlot},
	},
	transform.OpTransposition: {
		Operands:    []string{"input", "output"},
		MinOperands: 2,
	},
	transform.OpGmm: {
		Operands:    []string{"input", "output", "means", "inverse_covariances", "constants"},
		MinOperands: 5,
		Parameters:  []ParamSlot{maxScoreSlot},
	},
}

func (m Meta) checkCounts(operands, params int) error {
	if err := modelerr.ExpectInRange(int64(operands), int64(m.MinOperands), int64(m.MaxOperands()),
		modelerr.StatusLayerConfig, modelerr.ItemOperandsCount); err != nil {
		return err
	}
	return modelerr.ExpectInRange(int64(params), int64(m.MinParameters), int64(m.MaxParameters()),
		modelerr.StatusLayerConfig, modelerr.ItemParametersCount)
}

// config applies every present parameter. Absent maximum score means no cap.
func (m Meta) config(params []any) (transform.Config, error) {
	cfg := transform.Config{MaxScore: math.MaxUint32}
	for i, v := range params {
		if v == nil {
			continue
		}
		slot := m.Parameters[i]
		if err := modelerr.ForParameter(i, func() error { return slot.set(&cfg, v) }); err != nil {
			return transform.Config{}, err
		}
	}
	return cfg, nil
}
