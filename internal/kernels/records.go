package kernels

import (
	"sort"

	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/simd"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

// CompoundBias is an int32 bias with a per-row weight multiplier.
type CompoundBias struct {
	Bias       int32
	Multiplier uint8
	_          [3]uint8
}

// PwlSegment is one piece of a piecewise-linear activation. The low two
// bits of XBase select the slope shift: ((XBase & 3) + 1) * 8.
type PwlSegment struct {
	XBase int32
	YBase int16
	Slope int16
}

// Base returns XBase with the shift bits masked out.
func (s PwlSegment) Base() int64 {
	return int64(s.XBase &^ 3)
}

// Shift returns the right shift applied to the slope product.
func (s PwlSegment) Shift() uint {
	return uint((s.XBase&3)+1) * 8
}

// Eval applies the piecewise-linear function to x. Values below the first
// segment take its YBase.
func Eval(segs []PwlSegment, x int64) int64 {
	k := sort.Search(len(segs), func(i int) bool { return segs[i].Base() > x }) - 1
	if k < 0 {
		return int64(segs[0].YBase)
	}
	s := segs[k]
	return int64(s.YBase) + ((x-s.Base())*int64(s.Slope))>>s.Shift()
}

// SegmentsSorted reports whether segment bases are non-decreasing.
func SegmentsSorted(segs []PwlSegment) bool {
	return sort.SliceIsSorted(segs, func(i, j int) bool { return segs[i].Base() < segs[j].Base() })
}

// WeightScaleFactor scales the dot product of one output row of an
// int8 multibias affine transform.
type WeightScaleFactor struct {
	Multiplier uint32
	_          uint32
}

// ints is a typed view of an integer buffer.
type ints struct {
	typ dtype.DataType
	i8  []int8
	i16 []int16
	i32 []int32
	u8  []uint8
	u16 []uint16
	u32 []uint32
	n   int
}

func intsOf(t *tensor.Tensor) ints {
	if t == nil || t.Disabled() || t.Buffer == nil {
		return ints{}
	}
	a := ints{typ: t.Mode.Type}
	switch t.Mode.Type {
	case dtype.TypeInt8:
		a.i8 = tensor.View[int8](t.Buffer)
		a.n = len(a.i8)
	case dtype.TypeInt16:
		a.i16 = tensor.View[int16](t.Buffer)
		a.n = len(a.i16)
	case dtype.TypeInt32:
		a.i32 = tensor.View[int32](t.Buffer)
		a.n = len(a.i32)
	case dtype.TypeUint8:
		a.u8 = t.Buffer
		a.n = len(a.u8)
	case dtype.TypeUint16:
		a.u16 = tensor.View[uint16](t.Buffer)
		a.n = len(a.u16)
	case dtype.TypeUint32:
		a.u32 = tensor.View[uint32](t.Buffer)
		a.n = len(a.u32)
	}
	return a
}

func (a ints) Len() int {
	return a.n
}

func (a ints) At(i int) int64 {
	switch {
	case a.i8 != nil:
		return int64(a.i8[i])
	case a.i16 != nil:
		return int64(a.i16[i])
	case a.i32 != nil:
		return int64(a.i32[i])
	case a.u8 != nil:
		return int64(a.u8[i])
	case a.u16 != nil:
		return int64(a.u16[i])
	case a.u32 != nil:
		return int64(a.u32[i])
	}
	return 0
}

func (a ints) Set(i int, v int64) {
	switch {
	case a.i8 != nil:
		a.i8[i] = int8(v)
	case a.i16 != nil:
		a.i16[i] = int16(v)
	case a.i32 != nil:
		a.i32[i] = int32(v)
	case a.u8 != nil:
		a.u8[i] = uint8(v)
	case a.u16 != nil:
		a.u16[i] = uint16(v)
	case a.u32 != nil:
		a.u32[i] = uint32(v)
	}
}

// floats widens the first n elements to float64.
func (a ints) floats(n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n && i < a.n; i++ {
		out[i] = float64(a.At(i))
	}
	return out
}

// gather copies column col of a row-major matrix with row length stride.
func (a ints) gather(dst []int32, col, stride int) {
	switch {
	case a.i8 != nil:
		simd.Gather(dst, a.i8, col, stride)
	case a.i16 != nil:
		simd.Gather(dst, a.i16, col, stride)
	case a.i32 != nil:
		simd.Gather(dst, a.i32, col, stride)
	case a.u8 != nil:
		simd.Gather(dst, a.u8, col, stride)
	case a.u16 != nil:
		simd.Gather(dst, a.u16, col, stride)
	default:
		for i := range dst {
			dst[i] = int32(a.At(col + i*stride))
		}
	}
}

// dot computes the dot product of a[off:off+len(v)] with v.
func (a ints) dot(off int, v []int32, lanes int) int64 {
	end := off + len(v)
	switch {
	case a.i8 != nil:
		return simd.Dot(a.i8[off:end], v, lanes)
	case a.i16 != nil:
		return simd.Dot(a.i16[off:end], v, lanes)
	case a.i32 != nil:
		return simd.Dot(a.i32[off:end], v, lanes)
	}
	var sum int64
	for i, x := range v {
		sum += a.At(off+i) * int64(x)
	}
	return sum
}

// mulAdd computes dst[i] += a[i]*v[i].
func (a ints) mulAdd(dst []int64, v []int32, lanes int) {
	switch {
	case a.i8 != nil:
		simd.MulAdd(dst, a.i8, v, lanes)
	case a.i16 != nil:
		simd.MulAdd(dst, a.i16, v, lanes)
	default:
		for i := range dst {
			dst[i] += a.At(i) * int64(v[i])
		}
	}
}

// rowTerms yields the bias and multiplier of each output row.
type rowTerms struct {
	vals   ints
	cb     []CompoundBias
	scales []WeightScaleFactor
	stride int
	offset int
}

func newRowTerms(bias, scales *tensor.Tensor, stride, offset int) rowTerms {
	r := rowTerms{stride: max(stride, 1), offset: offset}
	if bias != nil && !bias.Disabled() && bias.Buffer != nil {
		if bias.Mode.Type == dtype.TypeCompoundBias {
			r.cb = tensor.View[CompoundBias](bias.Buffer)
		} else {
			r.vals = intsOf(bias)
		}
	}
	if scales != nil && scales.Buffer != nil {
		r.scales = tensor.View[WeightScaleFactor](scales.Buffer)
	}
	return r
}

func (r rowTerms) at(row int) (bias, mult int64) {
	mult = 1
	if r.scales != nil {
		mult = int64(r.scales[row].Multiplier)
	}
	switch {
	case r.cb != nil:
		c := r.cb[row]
		return int64(c.Bias), mult * int64(c.Multiplier)
	case r.vals.n > 0:
		return r.vals.At(row*r.stride + r.offset), mult
	}
	return 0, mult
}
