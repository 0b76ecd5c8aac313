package kernels

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

// recurrentLayout is the geometry of a recurrent stage: frames of inputs
// rows, each producing outputs values that feed back delay frames later.
type recurrentLayout struct {
	frames  int
	inputs  int
	outputs int
	delay   int
	terms   rowTerms
	segs    []PwlSegment
}

func recurrentGeometry(j *Job) (recurrentLayout, error) {
	if err := j.require(catalog.OperandWeights, catalog.OperandActivation); err != nil {
		return recurrentLayout{}, err
	}
	g := recurrentLayout{
		frames:  int(j.Input.Dim(shape.H)),
		inputs:  int(j.Input.Dim(shape.W)),
		outputs: int(j.Output.Dim(shape.W)),
		delay:   int(j.Params.Delay),
		terms:   newRowTerms(j.Operand(catalog.OperandBias), nil, 1, 0),
		segs:    tensor.View[PwlSegment](j.Operand(catalog.OperandActivation).Buffer),
	}
	if g.delay < 1 {
		g.delay = 1
	}
	return g, nil
}

// state returns the fed-back output of frame f-delay, zero before the first frame.
func (g recurrentLayout) state(dst []int32, out ints, f int) {
	src := f - g.delay
	for o := range dst {
		if src < 0 {
			dst[o] = 0
			continue
		}
		dst[o] = int32(out.At(src*g.outputs + o))
	}
}

type genericRecurrent struct {
	sat bool
}

func (k genericRecurrent) Run(j *Job) error {
	g, err := recurrentGeometry(j)
	if err != nil {
		return err
	}
	width := g.inputs + g.outputs
	w := intsOf(j.Operand(catalog.OperandWeights))
	wm := mat.NewDense(g.outputs, width, w.floats(g.outputs*width))
	in := intsOf(j.Input)
	out := intsOf(j.Output)
	z := mat.NewVecDense(width, nil)
	state := make([]int32, g.outputs)
	var y mat.VecDense
	for f := 0; f < g.frames; f++ {
		for i := 0; i < g.inputs; i++ {
			z.SetVec(i, float64(in.At(f*g.inputs+i)))
		}
		g.state(state, out, f)
		for o, s := range state {
			z.SetVec(g.inputs+o, float64(s))
		}
		y.MulVec(wm, z)
		for o := 0; o < g.outputs; o++ {
			bias, mult := g.terms.at(o)
			acc := int64(math.Round(y.AtVec(o)))*mult + bias
			j.put(out, f*g.outputs+o, Eval(g.segs, acc), k.sat)
		}
	}
	return nil
}

type vectorRecurrent struct {
	lanes int
	sat   bool
}

func (k vectorRecurrent) Run(j *Job) error {
	g, err := recurrentGeometry(j)
	if err != nil {
		return err
	}
	width := g.inputs + g.outputs
	w := intsOf(j.Operand(catalog.OperandWeights))
	in := intsOf(j.Input)
	out := intsOf(j.Output)
	z := make([]int32, width)
	for f := 0; f < g.frames; f++ {
		in.gather(z[:g.inputs], f*g.inputs, 1)
		g.state(z[g.inputs:], out, f)
		for o := 0; o < g.outputs; o++ {
			bias, mult := g.terms.at(o)
			acc := w.dot(o*width, z, k.lanes)*mult + bias
			j.put(out, f*g.outputs+o, Eval(g.segs, acc), k.sat)
		}
	}
	return nil
}
