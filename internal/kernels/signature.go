package kernels

import (
	"fmt"

	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
)

// Signature packs the input, weight and bias element types of a stage.
type Signature uint32

// Pack builds a signature. Use Coalesce before looking it up.
func Pack(input, weight, bias dtype.DataType) Signature {
	return Signature(uint32(input)<<16 | uint32(weight)<<8 | uint32(bias))
}

func (s Signature) Input() dtype.DataType  { return dtype.DataType(s >> 16 & 0xff) }
func (s Signature) Weight() dtype.DataType { return dtype.DataType(s >> 8 & 0xff) }
func (s Signature) Bias() dtype.DataType   { return dtype.DataType(s & 0xff) }

func (s Signature) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Input(), s.Weight(), s.Bias())
}

// BiasClass8 is the representative type every coalesced integer bias maps to.
const BiasClass8 = dtype.TypeInt8

// Bias coalescing tables. Each operation keeps its own table; types absent
// from a table stay distinct.
var (
	affineBias = map[dtype.DataType]dtype.DataType{
		dtype.TypeNone:  BiasClass8,
		dtype.TypeInt8:  BiasClass8,
		dtype.TypeInt16: BiasClass8,
		dtype.TypeInt32: BiasClass8,
	}
	diagonalBias = map[dtype.DataType]dtype.DataType{
		dtype.TypeInt8:  BiasClass8,
		dtype.TypeInt16: BiasClass8,
		dtype.TypeInt32: BiasClass8,
	}
	convolutionBias = map[dtype.DataType]dtype.DataType{
		dtype.TypeInt8:  BiasClass8,
		dtype.TypeInt16: BiasClass8,
		dtype.TypeInt32: BiasClass8,
	}
	recurrentBias = map[dtype.DataType]dtype.DataType{
		dtype.TypeInt8:  BiasClass8,
		dtype.TypeInt16: BiasClass8,
		dtype.TypeInt32: BiasClass8,
	}
)

func coalesceWith(table map[dtype.DataType]dtype.DataType, s Signature) Signature {
	b := s.Bias()
	if c, ok := table[b]; ok {
		b = c
	}
	return Pack(s.Input(), s.Weight(), b)
}

// Coalesce maps a signature onto the key its kind registers kernels under.
// Coalesce is idempotent.
func Coalesce(kind catalog.Kind, s Signature) Signature {
	switch kind {
	case catalog.KindAffine, catalog.KindAffineMultibias:
		return coalesceWith(affineBias, s)
	case catalog.KindAffineDiagonal:
		return coalesceWith(diagonalBias, s)
	case catalog.KindConvolution:
		return coalesceWith(convolutionBias, s)
	case catalog.KindRecurrent:
		return coalesceWith(recurrentBias, s)
	case catalog.KindGmm:
		return Pack(s.Input(), s.Weight(), dtype.TypeNone)
	default:
		return Pack(s.Input(), dtype.TypeNone, dtype.TypeNone)
	}
}
