package transform

import (
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

// Buffers maps operand roles to caller memory for one configuration.
type Buffers map[int][]byte

func alignUp(n int) int {
	const a = catalog.BufferAlignment
	return (n + a - 1) / a * a
}

// ScratchSize returns the bytes a scratch buffer needs to hold every
// intermediate stage output.
func (p *Pipeline) ScratchSize() int {
	n := 0
	for _, l := range p.links {
		n += alignUp(int(l.t.Size))
	}
	return n
}

// checkBuffer validates buf as the memory of t without modifying t.
func checkBuffer(v *tensor.Validator, t *tensor.Tensor, buf []byte, role int) error {
	if v == nil {
		return nil
	}
	c := t.Clone()
	c.Buffer = buf
	return modelerr.ForOperand(role, func() error { return v.Validate(c) })
}

// splitScratch carves one slice per link out of buf.
func (p *Pipeline) splitScratch(buf []byte) ([][]byte, error) {
	need := p.ScratchSize()
	if len(buf) < need {
		return nil, modelerr.ForOperand(catalog.OperandScratch, func() error {
			return modelerr.Invalid(modelerr.StatusMemoryOutOfBounds, modelerr.ItemData, modelerr.ErrorBelowRange, int64(len(buf)))
		})
	}
	out := make([][]byte, len(p.links))
	off := 0
	for i, l := range p.links {
		size := int(l.t.Size)
		out[i] = buf[off : off+size : off+size]
		if err := checkBuffer(l.check, l.t, out[i], catalog.OperandScratch); err != nil {
			return nil, err
		}
		off += alignUp(size)
	}
	return out, nil
}

// UpdateBuffers rebinds the operation input, output and scratch memory.
// Other roles, such as weights and bias, are never touched. Every buffer is
// validated before any is bound, so a failure leaves the wiring unchanged.
// Calling it again with the same buffers is a no-op.
func (p *Pipeline) UpdateBuffers(buffers Buffers) error {
	first, last := p.Stages[0], p.Stages[len(p.Stages)-1]
	in, hasIn := buffers[catalog.OperandInput]
	if hasIn {
		if err := checkBuffer(first.inputCheck, first.Input, in, catalog.OperandInput); err != nil {
			return err
		}
	}
	out, hasOut := buffers[catalog.OperandOutput]
	if hasOut {
		if err := checkBuffer(last.outputCheck, last.Output, out, catalog.OperandOutput); err != nil {
			return err
		}
	}
	var scratch [][]byte
	if buf, ok := buffers[catalog.OperandScratch]; ok && len(p.links) > 0 {
		var err error
		if scratch, err = p.splitScratch(buf); err != nil {
			return err
		}
	}

	if hasIn {
		first.Input.Buffer = in
	}
	if hasOut {
		last.Output.Buffer = out
	}
	for i, s := range scratch {
		p.links[i].t.Buffer = s
	}
	return nil
}
