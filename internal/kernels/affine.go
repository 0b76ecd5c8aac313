package kernels

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/shape"
)

// affineLayout is the common geometry of the affine family.
type affineLayout struct {
	inputs  int // elements per input vector
	batch   int // interleaved input vectors
	outputs int
	rows    []uint32
	terms   rowTerms
}

func affineGeometry(j *Job, multibias bool) (affineLayout, error) {
	if err := j.require(catalog.OperandWeights); err != nil {
		return affineLayout{}, err
	}
	w := j.Operand(catalog.OperandWeights)
	g := affineLayout{
		inputs:  int(j.Input.Dim(shape.H)),
		batch:   int(j.Input.Dim(shape.W)),
		outputs: int(w.Dim(shape.H)),
	}
	rows, err := j.rows(g.outputs)
	if err != nil {
		return g, err
	}
	g.rows = rows
	bias := j.Operand(catalog.OperandBias)
	if multibias {
		if err := j.require(catalog.OperandBias); err != nil {
			return g, err
		}
		var scales = j.Operand(catalog.OperandWeightScaleFactors)
		if w.Mode.Type != dtype.TypeInt8 {
			scales = nil
		}
		g.terms = newRowTerms(bias, scales, int(bias.Dim(shape.W)), int(j.Params.BiasVectorIndex))
	} else {
		g.terms = newRowTerms(bias, nil, 1, 0)
	}
	return g, nil
}

// genericAffine evaluates the affine family with gonum matrices. Every
// product fits a float64 mantissa, so results are exact.
type genericAffine struct {
	sat       bool
	multibias bool
}

func (k genericAffine) Run(j *Job) error {
	g, err := affineGeometry(j, k.multibias)
	if err != nil {
		return err
	}
	w := intsOf(j.Operand(catalog.OperandWeights))
	x := mat.NewDense(g.inputs, g.batch, intsOf(j.Input).floats(g.inputs*g.batch))
	wm := mat.NewDense(len(g.rows), g.inputs, nil)
	for r, o := range g.rows {
		for i := 0; i < g.inputs; i++ {
			wm.Set(r, i, float64(w.At(int(o)*g.inputs+i)))
		}
	}
	var y mat.Dense
	y.Mul(wm, x)

	out := intsOf(j.Output)
	for r, o := range g.rows {
		bias, mult := g.terms.at(int(o))
		for c := 0; c < g.batch; c++ {
			j.put(out, r*g.batch+c, int64(math.Round(y.At(r, c)))*mult+bias, k.sat)
		}
	}
	return nil
}

// vectorAffine evaluates the affine family with lane-width dot products.
type vectorAffine struct {
	lanes     int
	sat       bool
	multibias bool
}

func (k vectorAffine) Run(j *Job) error {
	g, err := affineGeometry(j, k.multibias)
	if err != nil {
		return err
	}
	w := intsOf(j.Operand(catalog.OperandWeights))
	in := intsOf(j.Input)
	out := intsOf(j.Output)
	col := make([]int32, g.inputs)
	for c := 0; c < g.batch; c++ {
		in.gather(col, c, g.batch)
		for r, o := range g.rows {
			bias, mult := g.terms.at(int(o))
			dot := w.dot(int(o)*g.inputs, col, k.lanes)
			j.put(out, r*g.batch+c, dot*mult+bias, k.sat)
		}
	}
	return nil
}

// genericDiagonal multiplies each input row by one weight.
type genericDiagonal struct {
	sat bool
}

func (k genericDiagonal) Run(j *Job) error {
	g, err := affineGeometry(j, false)
	if err != nil {
		return err
	}
	wv := intsOf(j.Operand(catalog.OperandWeights)).floats(g.inputs)
	d := mat.NewDiagDense(g.inputs, wv)
	x := mat.NewDense(g.inputs, g.batch, intsOf(j.Input).floats(g.inputs*g.batch))
	var y mat.Dense
	y.Mul(d, x)

	out := intsOf(j.Output)
	for o := 0; o < g.inputs; o++ {
		bias, mult := g.terms.at(o)
		for c := 0; c < g.batch; c++ {
			j.put(out, o*g.batch+c, int64(math.Round(y.At(o, c)))*mult+bias, k.sat)
		}
	}
	return nil
}

type vectorDiagonal struct {
	lanes int
	sat   bool
}

func (k vectorDiagonal) Run(j *Job) error {
	g, err := affineGeometry(j, false)
	if err != nil {
		return err
	}
	w := intsOf(j.Operand(catalog.OperandWeights))
	in := intsOf(j.Input)
	out := intsOf(j.Output)
	col := make([]int32, g.inputs)
	acc := make([]int64, g.inputs)
	for c := 0; c < g.batch; c++ {
		in.gather(col, c, g.batch)
		clear(acc)
		w.mulAdd(acc, col, k.lanes)
		for o, v := range acc {
			bias, mult := g.terms.at(o)
			j.put(out, o*g.batch+c, v*mult+bias, k.sat)
		}
	}
	return nil
}
