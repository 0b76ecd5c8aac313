// Package dtype holds element types, tensor storage modes and their byte sizes.
package dtype

import (
	"fmt"
	"math"
)

// DataType is an operand element type.
type DataType int

const (
	TypeNone DataType = iota
	TypeBoolean
	TypeInt4
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint4
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	// TypeCompoundBias is an int32 bias followed by a uint8 weight multiplier, padded to 8 bytes.
	TypeCompoundBias
	// TypePwlSegment is {int32 xBase, int16 yBase, int16 slope}.
	TypePwlSegment
	// TypeWeightScaleFactor is {uint32 multiplier, uint32 reserved}.
	TypeWeightScaleFactor

	typeCount
)

var (
	sizeTable  [typeCount]uint32
	nameTable  [typeCount]string
	rangeTable [typeCount][2]int64
)

func init() {
	set := func(t DataType, name string, size uint32, min, max int64) {
		sizeTable[t] = size
		nameTable[t] = name
		rangeTable[t] = [2]int64{min, max}
	}
	set(TypeNone, "none", 0, 0, 0)
	set(TypeBoolean, "boolean", 1, 0, 1)
	set(TypeInt4, "int4", 1, -8, 7)
	set(TypeInt8, "int8", 1, math.MinInt8, math.MaxInt8)
	set(TypeInt16, "int16", 2, math.MinInt16, math.MaxInt16)
	set(TypeInt32, "int32", 4, math.MinInt32, math.MaxInt32)
	set(TypeInt64, "int64", 8, math.MinInt64, math.MaxInt64)
	set(TypeUint4, "uint4", 1, 0, 15)
	set(TypeUint8, "uint8", 1, 0, math.MaxUint8)
	set(TypeUint16, "uint16", 2, 0, math.MaxUint16)
	set(TypeUint32, "uint32", 4, 0, math.MaxUint32)
	set(TypeUint64, "uint64", 8, 0, math.MaxInt64)
	set(TypeCompoundBias, "compound_bias", 8, math.MinInt32, math.MaxInt32)
	set(TypePwlSegment, "pwl_segment", 8, 0, 0)
	set(TypeWeightScaleFactor, "weight_scale_factor", 8, 0, math.MaxUint32)
}

// Size returns the element size in bytes.
func (t DataType) Size() uint32 {
	if t < 0 || t >= typeCount {
		return 0
	}
	return sizeTable[t]
}

// Range returns the representable value range used for output saturation.
func (t DataType) Range() (min, max int64) {
	if t < 0 || t >= typeCount {
		return 0, 0
	}
	return rangeTable[t][0], rangeTable[t][1]
}

func (t DataType) String() string {
	if t < 0 || t >= typeCount {
		return fmt.Sprintf("DataType(%d)", int(t))
	}
	return nameTable[t]
}

// Types returns every element type in declaration order.
func Types() []DataType {
	out := make([]DataType, typeCount)
	for i := range out {
		out[i] = DataType(i)
	}
	return out
}

// Modes returns every storage mode.
func Modes() []TensorMode {
	return []TensorMode{ModeDefault, ModeExternal, ModeDisabled, ModeConstantScalar}
}

// ParseDataType resolves a lower case type name.
func ParseDataType(name string) (DataType, error) {
	for t := TypeNone; t < typeCount; t++ {
		if nameTable[t] == name {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("unknown data type %q", name)
}

// TensorMode is the storage mode of an operand.
type TensorMode int

const (
	ModeDefault TensorMode = iota
	ModeExternal
	ModeDisabled
	ModeConstantScalar
)

func (m TensorMode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeExternal:
		return "external"
	case ModeDisabled:
		return "disabled"
	case ModeConstantScalar:
		return "constant_scalar"
	default:
		return fmt.Sprintf("TensorMode(%d)", int(m))
	}
}

// ParseTensorMode resolves a lower case mode name.
func ParseTensorMode(name string) (TensorMode, error) {
	for m := ModeDefault; m <= ModeConstantScalar; m++ {
		if m.String() == name {
			return m, nil
		}
	}
	return ModeDefault, fmt.Errorf("unknown tensor mode %q", name)
}

// DataMode is an element type paired with its storage mode.
type DataMode struct {
	Type DataType
	Mode TensorMode
	Size uint32
}

// NewDataMode normalizes the type for modes that imply one:
// disabled implies none, constant-scalar implies int32.
func NewDataMode(t DataType, m TensorMode) DataMode {
	switch m {
	case ModeDisabled:
		t = TypeNone
	case ModeConstantScalar:
		t = TypeInt32
	}
	return DataMode{Type: t, Mode: m, Size: t.Size()}
}

// Of is NewDataMode with the default storage mode.
func Of(t DataType) DataMode {
	return NewDataMode(t, ModeDefault)
}

// Disabled is the canonical disabled data mode.
func Disabled() DataMode {
	return NewDataMode(TypeNone, ModeDisabled)
}

// Equal compares type and mode. External storage is interchangeable with
// default storage for capability checks.
func (d DataMode) Equal(o DataMode) bool {
	return d.Type == o.Type && d.storage() == o.storage()
}

func (d DataMode) storage() TensorMode {
	if d.Mode == ModeExternal {
		return ModeDefault
	}
	return d.Mode
}

func (d DataMode) String() string {
	if d.Mode == ModeDefault {
		return d.Type.String()
	}
	return d.Type.String() + "/" + d.Mode.String()
}
