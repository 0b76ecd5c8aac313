// Package transform assembles the ordered stages that implement one
// operation: it validates every operand, derives intermediate shapes,
// binds each stage to its kernel table and wires the buffers between them.
package transform

import (
	"fmt"

	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/kernels"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

// OpKind is an operation kind a caller can lower.
type OpKind int

const (
	OpFullyConnectedAffine OpKind = iota
	OpElementWiseAffine
	OpRecurrent
	OpConvolution
	OpCopy
	OpTransposition
	OpGmm

	opCount
)

var opNames = [opCount]string{
	OpFullyConnectedAffine: "fully_connected_affine",
	OpElementWiseAffine:    "element_wise_affine",
	OpRecurrent:            "recurrent",
	OpConvolution:          "convolution",
	OpCopy:                 "copy",
	OpTransposition:        "transposition",
	OpGmm:                  "gmm",
}

func (k OpKind) String() string {
	if k < 0 || k >= opCount {
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
	return opNames[k]
}

// OpKinds returns every operation kind.
func OpKinds() []OpKind {
	out := make([]OpKind, opCount)
	for i := range out {
		out[i] = OpKind(i)
	}
	return out
}

// ParseOpKind resolves the String form of an operation kind.
func ParseOpKind(name string) (OpKind, error) {
	for i, n := range opNames {
		if n == name {
			return OpKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", name)
}

// BiasMode selects how an affine transform reads its bias.
type BiasMode int

const (
	BiasDefault BiasMode = iota
	BiasPerStride
	BiasGrouping
)

func (m BiasMode) String() string {
	switch m {
	case BiasDefault:
		return "default"
	case BiasPerStride:
		return "per_stride"
	case BiasGrouping:
		return "grouping"
	}
	return fmt.Sprintf("BiasMode(%d)", int(m))
}

// Config carries the typed parameters of an operation. Two dimensional
// parameters are shapes so they can be validated like any other tensor.
type Config struct {
	BiasMode        BiasMode
	BiasVectorIndex uint32
	Delay           uint32
	Stride          shape.Shape
	Padding         shape.Shape
	Pooling         kernels.PoolingMode
	PoolWindow      shape.Shape
	PoolStride      shape.Shape
	CopyShape       shape.Shape
	MaxScore        uint32
}

// Context is what a pipeline is built against.
type Context struct {
	Env        *tensor.Env
	Catalog    *catalog.Catalog
	Dispatch   *kernels.Dispatch
	Detector   *accel.Detector
	Generation catalog.Generation
}

// Stage is one kernel invocation. Input is borrowed from the previous
// stage or the operation; Output and Operands are owned.
type Stage struct {
	Kind     catalog.Kind
	Table    *kernels.Table
	Input    *tensor.Tensor
	Output   *tensor.Tensor
	Operands map[int]*tensor.Tensor
	Params   kernels.Params

	inputCheck  *tensor.Validator
	outputCheck *tensor.Validator
}

// Operand returns the owned auxiliary operand for role, or nil.
func (s *Stage) Operand(role int) *tensor.Tensor {
	return s.Operands[role]
}

func (s *Stage) String() string {
	return fmt.Sprintf("%s(%s -> %s)", s.Kind, s.Input.Shape, s.Output.Shape)
}

// Pipeline is the ordered stage list of one operation.
type Pipeline struct {
	Op     OpKind
	Stages []*Stage

	ctx *Context
	links []link
}

// Input returns the operation input tensor.
func (p *Pipeline) Input() *tensor.Tensor {
	return p.Stages[0].Input
}

// Output returns the operation output tensor.
func (p *Pipeline) Output() *tensor.Tensor {
	return p.Stages[len(p.Stages)-1].Output
}

// Operand returns the tensor bound to an operation operand role, if any
// stage owns it.
func (p *Pipeline) Operand(role int) (*tensor.Tensor, bool) {
	switch role {
	case catalog.OperandInput:
		return p.Input(), true
	case catalog.OperandOutput:
		return p.Output(), true
	}
	for _, s := range p.Stages {
		if t, ok := s.Operands[role]; ok {
			return t, true
		}
	}
	return nil, false
}

// Kinds lists the stage kinds in execution order.
func (p *Pipeline) Kinds() []catalog.Kind {
	out := make([]catalog.Kind, len(p.Stages))
	for i, s := range p.Stages {
		out[i] = s.Kind
	}
	return out
}
