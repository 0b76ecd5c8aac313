package transform

import (
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/kernels"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

// builder accumulates stages for one operation. Nothing it builds is kept
// when any step fails.
type builder struct {
	ctx    *Context
	op     OpKind
	descs  []*tensor.Descriptor
	cfg    Config
	stages []*Stage
	links  []link
}

// link is a stage output that feeds another stage, with the validator
// that checks buffers bound to it.
type link struct {
	t     *tensor.Tensor
	check *tensor.Validator
}

// NewPipeline validates the operands of op and assembles its stages.
// Operands are indexed by operand role.
func NewPipeline(ctx *Context, op OpKind, operands []*tensor.Descriptor, cfg Config) (*Pipeline, error) {
	b := &builder{ctx: ctx, op: op, descs: operands, cfg: cfg}
	var err error
	switch op {
	case OpFullyConnectedAffine:
		err = b.affine()
	case OpElementWiseAffine:
		err = b.diagonal()
	case OpRecurrent:
		err = b.recurrent()
	case OpConvolution:
		err = b.convolution()
	case OpCopy:
		err = b.copy()
	case OpTransposition:
		err = b.transpose()
	case OpGmm:
		err = b.gmm()
	default:
		err = modelerr.Invalid(modelerr.StatusLayerKind, modelerr.ItemOperationType, modelerr.ErrorNotInSet, int64(op))
	}
	if err != nil {
		return nil, err
	}
	if err := b.checkOutputType(); err != nil {
		return nil, err
	}
	for i, s := range b.stages {
		log.Debug().Str("op", op.String()).Int("stage", i).Stringer("kind", s.Kind).
			Stringer("signature", s.Table.Signature).Msg("Stage built")
	}
	return &Pipeline{Op: op, Stages: b.stages, ctx: ctx, links: b.links}, nil
}

func (b *builder) desc(role int) *tensor.Descriptor {
	if role < len(b.descs) {
		return b.descs[role]
	}
	return nil
}

func (b *builder) present(role int) bool {
	return b.desc(role) != nil
}

func (b *builder) caps(kind catalog.Kind) (*catalog.Capabilities, error) {
	caps, _, err := b.ctx.Catalog.Resolve(kind, b.ctx.Generation)
	return caps, err
}

func (b *builder) validator(kind catalog.Kind, role int, allowNil bool) (*tensor.Validator, error) {
	return tensor.NewValidator(b.ctx.Env, b.ctx.Catalog, kind, b.ctx.Generation, role, allowNil)
}

// operand validates the caller's descriptor for role against kind.
// Input and output tolerate a nil buffer until buffers are wired.
func (b *builder) operand(kind catalog.Kind, role int) (*tensor.Tensor, *tensor.Validator, error) {
	allowNil := role == catalog.OperandInput || role == catalog.OperandOutput
	v, err := b.validator(kind, role, allowNil)
	if err != nil {
		return nil, nil, err
	}
	t, err := tensor.NewOperand(v, b.desc(role))
	return t, v, err
}

// bias validates the bias operand; an absent bias is a disabled one.
func (b *builder) bias(kind catalog.Kind) (*tensor.Tensor, error) {
	v, err := b.validator(kind, catalog.OperandBias, false)
	if err != nil {
		return nil, err
	}
	d := b.desc(catalog.OperandBias)
	if d == nil {
		d = &tensor.Descriptor{Mode: dtype.ModeDisabled}
	}
	return tensor.NewOperand(v, d)
}

// link creates the internal tensor between producer and consumer and
// checks it against both sides' limits.
func (b *builder) link(producer, consumer catalog.Kind, s shape.Shape, t dtype.DataType) (*tensor.Tensor, error) {
	out, err := b.validator(producer, catalog.OperandOutput, true)
	if err != nil {
		return nil, err
	}
	l, err := tensor.NewInternal(out, s, dtype.Of(t), nil)
	if err != nil {
		return nil, err
	}
	in, err := b.validator(consumer, catalog.OperandInput, true)
	if err != nil {
		return nil, err
	}
	if err := in.Validate(l.Clone()); err != nil {
		return nil, modelerr.ForOperand(catalog.OperandInput, func() error { return err })
	}
	l.Buffer = tensor.AlignedBuffer(int(l.Size), catalog.BufferAlignment)
	b.links = append(b.links, link{t: l, check: out})
	return l, nil
}

// add binds a stage to its kernel table.
func (b *builder) add(s *Stage) error {
	table, err := b.ctx.Dispatch.Lookup(s.Kind, signature(s))
	if err != nil {
		return err
	}
	s.Table = table
	if s.Operands == nil {
		s.Operands = map[int]*tensor.Tensor{}
	}
	b.stages = append(b.stages, s)
	return nil
}

func signature(s *Stage) kernels.Signature {
	typeOf := func(role int) dtype.DataType {
		if t := s.Operands[role]; t != nil {
			return t.Mode.Type
		}
		return dtype.TypeNone
	}
	in := s.Input.Mode.Type
	switch s.Kind {
	case catalog.KindGmm:
		return kernels.Pack(in, typeOf(catalog.OperandInverseCovariances), typeOf(catalog.OperandConstants))
	case catalog.KindActivation, catalog.KindPooling, catalog.KindCopy, catalog.KindTranspose:
		return kernels.Pack(in, dtype.TypeNone, dtype.TypeNone)
	default:
		return kernels.Pack(in, typeOf(catalog.OperandWeights), typeOf(catalog.OperandBias))
	}
}

// activation appends the activation stage reading in and writing the
// operation output.
func (b *builder) activation(in *tensor.Tensor) error {
	segs, _, err := b.operand(catalog.KindActivation, catalog.OperandActivation)
	if err != nil {
		return err
	}
	if !kernels.SegmentsSorted(tensor.View[kernels.PwlSegment](segs.Buffer)) {
		return modelerr.ForOperand(catalog.OperandActivation, func() error {
			return modelerr.Invalid(modelerr.StatusPwlSegments, modelerr.ItemData, modelerr.ErrorNotTrue, int64(segs.Count()))
		})
	}
	out, outCheck, err := b.operand(catalog.KindActivation, catalog.OperandOutput)
	if err != nil {
		return err
	}
	if err := expectVolume(out, in.Count()); err != nil {
		return err
	}
	return b.add(&Stage{
		Kind:        catalog.KindActivation,
		Input:       in,
		Output:      out,
		Operands:    map[int]*tensor.Tensor{catalog.OperandActivation: segs},
		outputCheck: outCheck,
	})
}

// finalType returns the type a stage's kernel writes when that type does
// not follow the declared output.
func finalType(s *Stage) (dtype.DataType, bool) {
	switch s.Kind {
	case catalog.KindAffine, catalog.KindAffineMultibias, catalog.KindAffineDiagonal,
		catalog.KindConvolution, catalog.KindPooling:
		return dtype.TypeInt32, true
	case catalog.KindCopy, catalog.KindTranspose:
		return s.Input.Mode.Type, true
	case catalog.KindGmm:
		return dtype.TypeUint32, true
	}
	return 0, false
}

// checkOutputType rejects an operation whose last stage cannot produce
// the declared output type.
func (b *builder) checkOutputType() error {
	last := b.stages[len(b.stages)-1]
	want, fixed := finalType(last)
	if !fixed || last.Output.Mode.Type == want {
		return nil
	}
	return modelerr.ForOperand(catalog.OperandOutput, func() error {
		return modelerr.Invalid(modelerr.StatusOutputBytes, modelerr.ItemOperandType, modelerr.ErrorNotEqual, int64(last.Output.Mode.Type))
	})
}

// expectVolume checks that the declared output holds exactly n elements.
func expectVolume(out *tensor.Tensor, n uint64) error {
	return modelerr.ForOperand(catalog.OperandOutput, func() error {
		return modelerr.ExpectEqual(int64(out.Count()), int64(n), modelerr.StatusOutputVolume, modelerr.ItemShapeDimensions)
	})
}

// expectDim checks one extent of operand role against an expected value.
func expectDim(role int, t *tensor.Tensor, tag shape.Tag, want uint32, s modelerr.Status) error {
	return modelerr.ForOperand(role, func() error {
		return modelerr.ForDimension(t.Shape.Layout.Index(tag), func() error {
			return modelerr.ExpectEqual(int64(t.Dim(tag)), int64(want), s, modelerr.ItemShapeDimensions)
		})
	})
}

// parameter validates a two dimensional parameter. A zero shape defaults
// to fill in every axis.
func (b *builder) parameter(kind catalog.Kind, role int, s shape.Shape, fill uint32) (kernels.HW, error) {
	caps, err := b.caps(kind)
	if err != nil {
		return kernels.HW{}, err
	}
	limits, ok := caps.Parameter(role)
	if !ok {
		return kernels.HW{}, modelerr.NewStatus(modelerr.StatusNotImplemented, "%s has no limits for parameter %d", kind, role)
	}
	if s.Rank() == 0 {
		s = shape.Must("HW", fill, fill)
	}
	v, err := tensor.NewParameter(limits, s, role)
	if err != nil {
		return kernels.HW{}, err
	}
	return kernels.HW{H: v.Extent(shape.H), W: v.Extent(shape.W)}, nil
}

// scalar validates a scalar parameter.
func (b *builder) scalar(kind catalog.Kind, role int, value uint32) error {
	caps, err := b.caps(kind)
	if err != nil {
		return err
	}
	limits, ok := caps.Scalar(role)
	if !ok {
		return modelerr.NewStatus(modelerr.StatusNotImplemented, "%s has no limits for parameter %d", kind, role)
	}
	return tensor.NewScalar(limits, value, role)
}
