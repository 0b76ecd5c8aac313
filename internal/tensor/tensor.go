// Package tensor builds validated tensors: a shape, a data mode and a buffer
// that satisfy the capability limits of one operand role.
package tensor

import (
	"errors"

	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/shape"
)

// Descriptor is a caller-declared operand before validation.
type Descriptor struct {
	Shape shape.Shape
	Type  dtype.DataType
	Mode  dtype.TensorMode
	Data  []byte
}

// Tensor is a validated operand.
type Tensor struct {
	Shape  shape.Shape
	Mode   dtype.DataMode
	Buffer []byte
	Size   uint64
}

// Count returns the element count of the shape.
func (t *Tensor) Count() uint64 {
	return t.Shape.Count()
}

// Disabled reports whether the operand is switched off.
func (t *Tensor) Disabled() bool {
	return t.Mode.Mode == dtype.ModeDisabled
}

// Dim returns the extent of tag.
func (t *Tensor) Dim(tag shape.Tag) uint32 {
	return t.Shape.Extent(tag)
}

// Clone returns a copy sharing the buffer.
func (t *Tensor) Clone() *Tensor {
	c := *t
	c.Shape = t.Shape.Clone()
	return &c
}

func byteSize(s shape.Shape, m dtype.DataMode) uint64 {
	switch m.Mode {
	case dtype.ModeDisabled:
		return 0
	case dtype.ModeConstantScalar:
		return uint64(m.Size)
	default:
		return s.Count() * uint64(m.Size)
	}
}

// Validator binds one operand role of one kind at one device generation to
// its resolved limits.
type Validator struct {
	Generation     catalog.Generation
	Kind           catalog.Kind
	Role           int
	Order          shape.Layout
	AllowNilBuffer bool

	limits *catalog.TensorLimits
	env    *Env
}

// NewValidator resolves the limits of role for kind at gen.
func NewValidator(env *Env, cat *catalog.Catalog, kind catalog.Kind, gen catalog.Generation, role int, allowNil bool) (*Validator, error) {
	caps, _, err := cat.Resolve(kind, gen)
	if err != nil {
		return nil, err
	}
	limits, ok := caps.Operand(role)
	if !ok {
		// Every kind declares its roles; a missing one is a corrupted table.
		return nil, modelerr.NewStatus(modelerr.StatusNotImplemented, "%s has no limits for operand %d", kind, role)
	}
	return &Validator{
		Generation:     gen,
		Kind:           kind,
		Role:           role,
		Order:          limits.Order,
		AllowNilBuffer: allowNil,
		limits:         limits,
		env:            env,
	}, nil
}

// Limits returns the resolved limits.
func (v *Validator) Limits() *catalog.TensorLimits {
	return v.limits
}

// Validate checks t in place. A wildcard shape is first reshaped to the
// catalog order. Failures are *modelerr.ValidationError values.
func (v *Validator) Validate(t *Tensor) error {
	err := v.validate(t)
	if err != nil {
		validationFailures.WithLabelValues(modelerr.StatusOf(err).String()).Inc()
		return err
	}
	tensorsValidated.Inc()
	return nil
}

func (v *Validator) validate(t *Tensor) error {
	if t.Mode.Mode != dtype.ModeDisabled {
		s, err := ValidateShape(&v.limits.ComponentLimits, t.Shape, t.Mode.Size)
		if err != nil {
			return err
		}
		t.Shape = s
	}

	if !v.limits.AllowsMode(t.Mode) {
		if t.Mode.Mode == dtype.ModeDisabled {
			return modelerr.Invalid(v.limits.ModeStatus, modelerr.ItemOperandMode, modelerr.ErrorNotInSet, int64(t.Mode.Mode))
		}
		return modelerr.Invalid(v.limits.ModeStatus, modelerr.ItemOperandType, modelerr.ErrorNotInSet, int64(t.Mode.Type))
	}

	t.Size = byteSize(t.Shape, t.Mode)
	return v.validateBuffer(t)
}

func (v *Validator) validateBuffer(t *Tensor) error {
	if t.Mode.Mode == dtype.ModeDisabled {
		if t.Buffer != nil {
			return modelerr.Invalid(modelerr.StatusNullArgumentRequired, modelerr.ItemData, modelerr.ErrorNullRequired, int64(Address(t.Buffer)))
		}
		return nil
	}
	if t.Buffer == nil {
		if v.AllowNilBuffer {
			return nil
		}
		return modelerr.Invalid(modelerr.StatusNullArgumentNotAllowed, modelerr.ItemData, modelerr.ErrorNullNotAllowed, 0)
	}
	align := v.env.Alignment(v.limits.Alignment)
	if align > 1 && Address(t.Buffer)%uintptr(align) != 0 {
		return modelerr.Invalid(v.limits.AlignmentStatus, modelerr.ItemAlignment, modelerr.ErrorNotAligned, int64(align))
	}
	if uint64(len(t.Buffer)) < t.Size {
		return modelerr.Invalid(modelerr.StatusMemoryOutOfBounds, modelerr.ItemData, modelerr.ErrorBelowRange, int64(len(t.Buffer)))
	}
	if !v.env.inBounds(t.Buffer[:t.Size]) {
		return modelerr.Invalid(modelerr.StatusMemoryOutOfBounds, modelerr.ItemMemoryRegion, modelerr.ErrorNotInSet, int64(Address(t.Buffer)))
	}
	return nil
}

// ValidateShape checks order and every dimension of s against limits and
// returns s reshaped to the required order. elemSize selects the
// width-specific multiplier.
func ValidateShape(limits *catalog.ComponentLimits, s shape.Shape, elemSize uint32) (shape.Shape, error) {
	if limits.Order != shape.AnyLayout {
		reshaped, err := s.Reshape(limits.Order)
		if err != nil {
			return s, shapeError(limits, s, err)
		}
		s = reshaped
	}
	for i, d := range s.Dims {
		r, ok := limits.Dims[d.Tag]
		if !ok {
			continue
		}
		err := modelerr.ForDimension(i, func() error {
			if err := modelerr.ExpectInRange(int64(d.Extent), int64(r.Min), int64(r.Max), r.Status, modelerr.ItemShapeDimensions); err != nil {
				return err
			}
			return modelerr.ExpectMultiple(int64(d.Extent), int64(r.Multiplier(elemSize)), r.Status, modelerr.ItemShapeDimensions)
		})
		if err != nil {
			return s, err
		}
	}
	return s, nil
}

func shapeError(limits *catalog.ComponentLimits, s shape.Shape, err error) error {
	status := modelerr.StatusLayerConfig
	if len(limits.Order) > 0 {
		if r, ok := limits.Dims[shape.Tag(limits.Order[0])]; ok {
			status = r.Status
		}
	}
	if errors.Is(err, shape.ErrRank) {
		return modelerr.Invalid(status, modelerr.ItemShapeRank, modelerr.ErrorNotEqual, int64(s.Rank()))
	}
	return modelerr.Invalid(status, modelerr.ItemLayout, modelerr.ErrorNotEqual, int64(len(s.Layout)))
}

// NewOperand validates a caller-declared operand for the validator's role.
// Failures are tagged with the role as operand index.
func NewOperand(v *Validator, d *Descriptor) (*Tensor, error) {
	var t *Tensor
	err := modelerr.ForOperand(v.Role, func() error {
		if d == nil {
			return modelerr.Missing(v.Role)
		}
		t = &Tensor{
			Shape:  d.Shape.Clone(),
			Mode:   dtype.NewDataMode(d.Type, d.Mode),
			Buffer: d.Data,
		}
		return v.Validate(t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewInternal validates a tensor whose shape was derived by the engine,
// such as a stage output bound to a scratch buffer.
func NewInternal(v *Validator, s shape.Shape, mode dtype.DataMode, buf []byte) (*Tensor, error) {
	return NewOperand(v, &Descriptor{Shape: s, Type: mode.Type, Mode: mode.Mode, Data: buf})
}

// NewParameter validates internal dimensions such as stride or padding
// against a parameter limit set. Failures are tagged with the parameter index.
func NewParameter(limits *catalog.ComponentLimits, s shape.Shape, role int) (shape.Shape, error) {
	var out shape.Shape
	err := modelerr.ForParameter(role, func() error {
		var err error
		out, err = ValidateShape(limits, s, 0)
		return err
	})
	if err != nil {
		validationFailures.WithLabelValues(modelerr.StatusOf(err).String()).Inc()
		return s, err
	}
	return out, nil
}

// NewScalar validates a scalar parameter against its range.
func NewScalar(limits *catalog.RangeLimits, value uint32, role int) error {
	err := modelerr.ForParameter(role, func() error {
		if err := modelerr.ExpectInRange(int64(value), int64(limits.Min), int64(limits.Max), limits.Status, modelerr.ItemParameters); err != nil {
			return err
		}
		return modelerr.ExpectMultiple(int64(value), int64(limits.Multiplier(0)), limits.Status, modelerr.ItemParameters)
	})
	if err != nil {
		validationFailures.WithLabelValues(modelerr.StatusOf(err).String()).Inc()
	}
	return err
}
