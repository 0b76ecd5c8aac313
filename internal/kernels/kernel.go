// Package kernels holds the reference numeric kernels of every transform
// kind and the dispatch table that selects one by operand type signature
// and acceleration mode.
package kernels

import (
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/simd"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

// Kernel runs one transform over the buffers of a Job.
type Kernel interface {
	Run(job *Job) error
}

// PoolingMode selects the reduction of a pooling window.
type PoolingMode int

const (
	PoolingNone PoolingMode = iota
	PoolingMax
	PoolingSum
)

var poolingNames = []string{"none", "max", "sum"}

func (p PoolingMode) String() string {
	if p < 0 || int(p) >= len(poolingNames) {
		return "unknown"
	}
	return poolingNames[p]
}

// HW is a two dimensional extent such as a stride or window.
type HW struct {
	H, W uint32
}

// Params are the scalar settings a kernel reads.
type Params struct {
	BiasVectorIndex uint32
	Delay           uint32
	Stride          HW
	Padding         HW
	Pooling         PoolingMode
	Window          HW
	PoolStride      HW
	MaxScore        uint32
	CopyRows        uint32
	CopyColumns     uint32
}

// Job is the per-invocation view of one stage: its input, output,
// auxiliary operands by role and the active output rows. Kernels write
// only the output buffer and Saturations.
type Job struct {
	Kind       catalog.Kind
	Input      *tensor.Tensor
	Output     *tensor.Tensor
	Operands   map[int]*tensor.Tensor
	Params     Params
	ActiveList []uint32

	// Saturations counts outputs clamped by saturating kernels.
	Saturations uint64
}

// Operand returns the auxiliary operand for role, or nil.
func (j *Job) Operand(role int) *tensor.Tensor {
	if j.Operands == nil {
		return nil
	}
	return j.Operands[role]
}

func (j *Job) require(roles ...int) error {
	if j.Input == nil || j.Input.Buffer == nil {
		return modelerr.Missing(catalog.OperandInput)
	}
	if j.Output == nil || j.Output.Buffer == nil {
		return modelerr.Missing(catalog.OperandOutput)
	}
	for _, r := range roles {
		if t := j.Operand(r); t == nil || (t.Buffer == nil && !t.Disabled()) {
			return modelerr.Missing(r)
		}
	}
	return nil
}

// rows returns the output rows to compute: the active list, or every row.
func (j *Job) rows(total int) ([]uint32, error) {
	if len(j.ActiveList) == 0 {
		out := make([]uint32, total)
		for i := range out {
			out[i] = uint32(i)
		}
		return out, nil
	}
	if err := modelerr.ExpectActiveList(len(j.ActiveList), total); err != nil {
		return nil, err
	}
	for _, r := range j.ActiveList {
		if int(r) >= total {
			return nil, modelerr.Invalid(modelerr.StatusActiveListIndices, modelerr.ItemActiveList, modelerr.ErrorAboveRange, int64(r))
		}
	}
	return j.ActiveList, nil
}

// put stores v at out[i] clamped to the output type range. Every mode
// clamps; only saturating kernels count the clamped values.
func (j *Job) put(out ints, i int, v int64, sat bool) {
	lo, hi := out.typ.Range()
	c, clipped := simd.Saturate(v, lo, hi)
	if clipped && sat {
		j.Saturations++
	}
	out.Set(i, c)
}
