package kernels

import (
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/simd"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

func extentOr1(t *tensor.Tensor, tag shape.Tag) int {
	if e, ok := t.Shape.Lookup(tag); ok && e > 0 {
		return int(e)
	}
	return 1
}

// activeCount returns how many input elements hold data: with an active
// list only the compacted leading rows do.
func activeCount(j *Job) int {
	n := int(j.Input.Count())
	if len(j.ActiveList) == 0 {
		return n
	}
	rows := extentOr1(j.Input, shape.H)
	return min(n, len(j.ActiveList)*(n/rows))
}

// activation applies the piecewise-linear function element by element.
type activation struct {
	sat bool
}

func (k activation) Run(j *Job) error {
	if err := j.require(catalog.OperandActivation); err != nil {
		return err
	}
	segs := tensor.View[PwlSegment](j.Operand(catalog.OperandActivation).Buffer)
	if len(segs) == 0 {
		return modelerr.Invalid(modelerr.StatusPwlSegments, modelerr.ItemData, modelerr.ErrorBelowRange, 0)
	}
	in := intsOf(j.Input)
	out := intsOf(j.Output)
	n := min(activeCount(j), in.Len(), out.Len())
	for i := 0; i < n; i++ {
		j.put(out, i, Eval(segs, in.At(i)), k.sat)
	}
	return nil
}

// pooling reduces windows of an NHWD map, each depth slice independently.
// The output must be NHWD with the input's depth.
type pooling struct {
	sat bool
}

func (k pooling) Run(j *Job) error {
	if err := j.require(); err != nil {
		return err
	}
	p := j.Params
	inH, inW := extentOr1(j.Input, shape.H), extentOr1(j.Input, shape.W)
	depth := extentOr1(j.Input, shape.D)
	outH, outW := extentOr1(j.Output, shape.H), extentOr1(j.Output, shape.W)
	win, stride := p.Window, p.PoolStride
	if stride.H == 0 {
		stride.H = 1
	}
	if stride.W == 0 {
		stride.W = 1
	}
	in := intsOf(j.Input)
	out := intsOf(j.Output)
	if outH*outW*depth > out.Len() || inH*inW*depth > in.Len() {
		return modelerr.NewStatus(modelerr.StatusOutputVolume, "pooling %dx%dx%d does not fit the output", outH, outW, depth)
	}
	window := make([]int64, 0, int(win.H*win.W))
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			for d := 0; d < depth; d++ {
				window = window[:0]
				for i := 0; i < int(win.H); i++ {
					h := y*int(stride.H) + i
					for w := 0; w < int(win.W); w++ {
						c := x*int(stride.W) + w
						if h < inH && c < inW {
							window = append(window, in.At((h*inW+c)*depth+d))
						}
					}
				}
				var acc int64
				if p.Pooling == PoolingMax {
					acc = simd.Max(window)
				} else {
					acc = simd.Sum(window)
				}
				j.put(out, (y*outW+x)*depth+d, acc, k.sat)
			}
		}
	}
	return nil
}

// copyKernel copies the leading CopyRows x CopyColumns block of the input.
type copyKernel struct{}

func (copyKernel) Run(j *Job) error {
	if err := j.require(); err != nil {
		return err
	}
	size := int(j.Input.Mode.Size)
	inRow := int(j.Input.Dim(shape.W)) * size
	outRow := int(j.Output.Dim(shape.W)) * size
	n := int(j.Params.CopyColumns) * size
	for r := 0; r < int(j.Params.CopyRows); r++ {
		copy(j.Output.Buffer[r*outRow:r*outRow+n], j.Input.Buffer[r*inRow:r*inRow+n])
	}
	return nil
}

// transposeKernel writes out[c][r] = in[r][c].
type transposeKernel struct{}

func (transposeKernel) Run(j *Job) error {
	if err := j.require(); err != nil {
		return err
	}
	size := int(j.Input.Mode.Size)
	rows := int(j.Input.Dim(shape.H))
	cols := int(j.Input.Dim(shape.W))
	src, dst := j.Input.Buffer, j.Output.Buffer
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			from := (r*cols + c) * size
			to := (c*rows + r) * size
			copy(dst[to:to+size], src[from:from+size])
		}
	}
	return nil
}
