package lowering

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/dtype"
	"github.com/23skdu/longbow-anvil/internal/kernels"
	"github.com/23skdu/longbow-anvil/internal/shape"
	"github.com/23skdu/longbow-anvil/internal/tensor"
	"github.com/23skdu/longbow-anvil/internal/transform"
)

// wireTensor is the CBOR form of an operand descriptor.
type wireTensor struct {
	Layout string   `cbor:"layout"`
	Dims   []uint32 `cbor:"dims"`
	Type   string   `cbor:"type"`
	Mode   string   `cbor:"mode,omitempty"`
	Data   []byte   `cbor:"data,omitempty"`
}

// wireOperation is the CBOR form of an Operation. Absent operands are
// encoded as null.
type wireOperation struct {
	Kind       string        `cbor:"kind"`
	Operands   []*wireTensor `cbor:"operands"`
	Parameters []any         `cbor:"parameters,omitempty"`
}

var (
	upper = cases.Upper(language.Und)

	encMode, _ = cbor.CoreDetEncOptions().EncMode()
)

// DecodeOperation reads a CBOR operation descriptor. Names of kinds,
// types and modes match case-insensitively; operand data is copied into
// buffers with the catalog alignment.
func DecodeOperation(data []byte) (Operation, error) {
	var w wireOperation
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Operation{}, fmt.Errorf("decode operation: %w", err)
	}
	kind, err := opKindByName(w.Kind)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{Kind: kind, Parameters: w.Parameters, Operands: make([]*tensor.Descriptor, len(w.Operands))}
	for i, wt := range w.Operands {
		if wt == nil {
			continue
		}
		d, err := wt.descriptor()
		if err != nil {
			return Operation{}, fmt.Errorf("decode operand %d: %w", i, err)
		}
		op.Operands[i] = d
	}
	return op, nil
}

func (w *wireTensor) descriptor() (*tensor.Descriptor, error) {
	d := &tensor.Descriptor{}
	var err error
	if d.Type, err = dataTypeByName(w.Type); err != nil {
		return nil, err
	}
	if w.Mode != "" {
		if d.Mode, err = tensorModeByName(w.Mode); err != nil {
			return nil, err
		}
	}
	if d.Mode != dtype.ModeDisabled {
		layout := shape.Layout(upper.String(norm.NFKC.String(w.Layout)))
		if d.Shape, err = shape.New(layout, w.Dims...); err != nil {
			return nil, err
		}
	}
	if len(w.Data) > 0 {
		d.Data = tensor.AlignedBuffer(len(w.Data), catalog.BufferAlignment)
		copy(d.Data, w.Data)
	}
	return d, nil
}

// EncodeOperation writes op in the form DecodeOperation reads.
func EncodeOperation(op Operation) ([]byte, error) {
	w := wireOperation{Kind: op.Kind.String(), Operands: make([]*wireTensor, len(op.Operands))}
	for i, d := range op.Operands {
		if d == nil {
			continue
		}
		w.Operands[i] = &wireTensor{
			Layout: string(d.Shape.Layout),
			Dims:   d.Shape.Extents(),
			Type:   d.Type.String(),
			Mode:   d.Mode.String(),
			Data:   d.Data,
		}
	}
	if len(op.Parameters) > 0 {
		w.Parameters = make([]any, len(op.Parameters))
		for i, p := range op.Parameters {
			w.Parameters[i] = wireParam(p)
		}
	}
	b, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode operation: %w", err)
	}
	return b, nil
}

func wireParam(v any) any {
	switch x := v.(type) {
	case shape.Shape:
		return x.Extents()
	case kernels.HW:
		return []uint32{x.H, x.W}
	case transform.BiasMode:
		return x.String()
	case kernels.PoolingMode:
		return x.String()
	}
	return v
}

func opKindByName(name string) (transform.OpKind, error) {
	for _, k := range transform.OpKinds() {
		if canonical(k.String()) == canonical(name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", name)
}

func dataTypeByName(name string) (dtype.DataType, error) {
	for _, t := range dtype.Types() {
		if canonical(t.String()) == canonical(name) {
			return t, nil
		}
	}
	return dtype.TypeNone, fmt.Errorf("unknown data type %q", name)
}

func tensorModeByName(name string) (dtype.TensorMode, error) {
	for _, m := range dtype.Modes() {
		if canonical(m.String()) == canonical(name) {
			return m, nil
		}
	}
	return dtype.ModeDefault, fmt.Errorf("unknown tensor mode %q", name)
}
