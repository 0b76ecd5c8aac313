package kernels

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/shape"
)

// convLayout is the NHWD geometry of a convolution stage.
type convLayout struct {
	inH, inW, depth int
	filters, kH, kW int
	outH, outW      int
	stride, pad     HW
	terms           rowTerms
}

func convGeometry(j *Job) (convLayout, error) {
	if err := j.require(catalog.OperandFilters); err != nil {
		return convLayout{}, err
	}
	f := j.Operand(catalog.OperandFilters)
	g := convLayout{
		inH:     int(j.Input.Dim(shape.H)),
		inW:     int(j.Input.Dim(shape.W)),
		depth:   int(j.Input.Dim(shape.D)),
		filters: int(f.Dim(shape.N)),
		kH:      int(f.Dim(shape.H)),
		kW:      int(f.Dim(shape.W)),
		outH:    int(j.Output.Dim(shape.H)),
		outW:    int(j.Output.Dim(shape.W)),
		stride:  j.Params.Stride,
		pad:     j.Params.Padding,
		terms:   newRowTerms(j.Operand(catalog.OperandBias), nil, 1, 0),
	}
	if g.stride.H == 0 {
		g.stride.H = 1
	}
	if g.stride.W == 0 {
		g.stride.W = 1
	}
	return g, nil
}

func (g convLayout) patchLen() int {
	return g.kH * g.kW * g.depth
}

// patch copies the receptive field of output position (y, x) into dst in
// filter order, with zeros for padded positions.
func (g convLayout) patch(dst []int32, in ints, y, x int) {
	n := 0
	for i := 0; i < g.kH; i++ {
		h := y*int(g.stride.H) + i - int(g.pad.H)
		for k := 0; k < g.kW; k++ {
			w := x*int(g.stride.W) + k - int(g.pad.W)
			if h < 0 || h >= g.inH || w < 0 || w >= g.inW {
				clear(dst[n : n+g.depth])
				n += g.depth
				continue
			}
			base := (h*g.inW + w) * g.depth
			for c := 0; c < g.depth; c++ {
				dst[n] = int32(in.At(base + c))
				n++
			}
		}
	}
}

// genericConvolution lowers the convolution to one matrix product over
// the unrolled input patches.
type genericConvolution struct {
	sat bool
}

func (k genericConvolution) Run(j *Job) error {
	g, err := convGeometry(j)
	if err != nil {
		return err
	}
	plen := g.patchLen()
	positions := g.outH * g.outW
	in := intsOf(j.Input)
	p := mat.NewDense(positions, plen, nil)
	buf := make([]int32, plen)
	for y := 0; y < g.outH; y++ {
		for x := 0; x < g.outW; x++ {
			g.patch(buf, in, y, x)
			row := y*g.outW + x
			for i, v := range buf {
				p.Set(row, i, float64(v))
			}
		}
	}
	fm := mat.NewDense(g.filters, plen, intsOf(j.Operand(catalog.OperandFilters)).floats(g.filters*plen))
	var y mat.Dense
	y.Mul(p, fm.T())

	out := intsOf(j.Output)
	for pos := 0; pos < positions; pos++ {
		for f := 0; f < g.filters; f++ {
			bias, mult := g.terms.at(f)
			j.put(out, pos*g.filters+f, int64(math.Round(y.At(pos, f)))*mult+bias, k.sat)
		}
	}
	return nil
}

type vectorConvolution struct {
	lanes int
	sat   bool
}

func (k vectorConvolution) Run(j *Job) error {
	g, err := convGeometry(j)
	if err != nil {
		return err
	}
	plen := g.patchLen()
	in := intsOf(j.Input)
	filters := intsOf(j.Operand(catalog.OperandFilters))
	out := intsOf(j.Output)
	buf := make([]int32, plen)
	for y := 0; y < g.outH; y++ {
		for x := 0; x < g.outW; x++ {
			g.patch(buf, in, y, x)
			pos := y*g.outW + x
			for f := 0; f < g.filters; f++ {
				bias, mult := g.terms.at(f)
				j.put(out, pos*g.filters+f, filters.dot(f*plen, buf, k.lanes)*mult+bias, k.sat)
			}
		}
	}
	return nil
}
