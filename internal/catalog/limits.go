package catalog

import (
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/shape"
)

// MultiplierMap holds the multiple-of constraint per element byte width.
// Key 0 is the default used when no width-specific entry exists.
type MultiplierMap map[uint32]uint32

// RangeLimits bounds one dimension or scalar parameter.
type RangeLimits struct {
	Min         uint32
	Max         uint32
	Multipliers MultiplierMap
	Status      modelerr.Status
}

// Multiplier returns the multiple-of constraint for elements of size bytes.
func (r RangeLimits) Multiplier(size uint32) uint32 {
	if m, ok := r.Multipliers[size]; ok {
		return m
	}
	if m, ok := r.Multipliers[0]; ok {
		return m
	}
	return 1
}

// ComponentLimits constrains a shape: the required order and per-tag ranges.
// An AnyLayout order accepts whatever layout the shape already carries;
// tags without an entry are unconstrained.
type ComponentLimits struct {
	Order shape.Layout
	Dims  map[shape.Tag]RangeLimits
}

// TensorLimits adds allowed data modes and buffer alignment to ComponentLimits.
type TensorLimits struct {
	ComponentLimits
	Modes           []dtype.DataMode
	ModeStatus      modelerr.Status
	Alignment       uint32
	AlignmentStatus modelerr.Status
}

// AllowsMode reports whether m is in the allowed set.
func (t *TensorLimits) AllowsMode(m dtype.DataMode) bool {
	for _, allowed := range t.Modes {
		if allowed.Equal(m) {
			return true
		}
	}
	return false
}

// AllowsDisabled reports whether the operand may be switched off.
func (t *TensorLimits) AllowsDisabled() bool {
	return t.AllowsMode(dtype.Disabled())
}

// Capabilities is every limit of one kind at one device generation.
type Capabilities struct {
	Operands   map[int]*TensorLimits
	Parameters map[int]*ComponentLimits
	Scalars    map[int]*RangeLimits
}

// Operand returns the limits of the operand role.
func (c *Capabilities) Operand(role int) (*TensorLimits, bool) {
	l, ok := c.Operands[role]
	return l, ok
}

// Parameter returns the limits of a shape-valued parameter.
func (c *Capabilities) Parameter(role int) (*ComponentLimits, bool) {
	l, ok := c.Parameters[role]
	return l, ok
}

// Scalar returns the limits of a scalar parameter.
func (c *Capabilities) Scalar(role int) (*RangeLimits, bool) {
	l, ok := c.Scalars[role]
	return l, ok
}

func dim(min, max uint32, s modelerr.Status) RangeLimits {
	return RangeLimits{Min: min, Max: max, Multipliers: MultiplierMap{0: 1}, Status: s}
}

func dimMul(min, max, mul uint32, s modelerr.Status) RangeLimits {
	return RangeLimits{Min: min, Max: max, Multipliers: MultiplierMap{0: mul}, Status: s}
}

func dimWidth(min, max uint32, muls MultiplierMap, s modelerr.Status) RangeLimits {
	return RangeLimits{Min: min, Max: max, Multipliers: muls, Status: s}
}

func modes(types ...dtype.DataType) []dtype.DataMode {
	out := make([]dtype.DataMode, 0, len(types))
	for _, t := range types {
		out = append(out, dtype.Of(t))
	}
	return out
}

func withDisabled(m []dtype.DataMode) []dtype.DataMode {
	return append(m, dtype.Disabled())
}

func tensor(order shape.Layout, d map[shape.Tag]RangeLimits, m []dtype.DataMode, ms modelerr.Status) *TensorLimits {
	return &TensorLimits{
		ComponentLimits: ComponentLimits{Order: order, Dims: d},
		Modes:           m,
		ModeStatus:      ms,
		Alignment:       BufferAlignment,
		AlignmentStatus: modelerr.StatusMemoryAlignment,
	}
}

func component(order shape.Layout, d map[shape.Tag]RangeLimits) *ComponentLimits {
	return &ComponentLimits{Order: order, Dims: d}
}
