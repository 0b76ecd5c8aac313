package transform

import (
	"github.com/23skdu/longbow-anvil/internal/accel"
	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/kernels"
	"github.com/23skdu/longbow-anvil/internal/tensor"
)

// ExecConfig is the per-call state of one execution.
type ExecConfig struct {
	// Buffers overrides the wired input, output and scratch memory for
	// this call only.
	Buffers Buffers

	// Saturations and Modes are filled in by the call.
	Saturations uint64
	Modes       []accel.Mode
}

// Run executes every stage with per-call buffers. Stage state is only
// read, so concurrent calls are safe when each brings its own output and
// scratch. Intermediate outputs without caller scratch get fresh memory.
func (p *Pipeline) Run(mode accel.Mode, active []uint32, cfg *ExecConfig) error {
	if cfg == nil {
		cfg = &ExecConfig{}
	}
	bound, err := p.bind(cfg.Buffers)
	if err != nil {
		return err
	}
	return p.execute(mode, active, cfg, func(t *tensor.Tensor) *tensor.Tensor {
		if c, ok := bound[t]; ok {
			return c
		}
		return t
	})
}

// RunHidden executes every stage on the buffers wired by UpdateBuffers.
func (p *Pipeline) RunHidden(mode accel.Mode, cfg *ExecConfig) error {
	if cfg == nil {
		cfg = &ExecConfig{}
	}
	return p.execute(mode, nil, cfg, func(t *tensor.Tensor) *tensor.Tensor { return t })
}

func (p *Pipeline) execute(mode accel.Mode, active []uint32, cfg *ExecConfig, resolve func(*tensor.Tensor) *tensor.Tensor) error {
	cfg.Modes = cfg.Modes[:0]
	for _, s := range p.Stages {
		job := &kernels.Job{
			Kind:       s.Kind,
			Input:      resolve(s.Input),
			Output:     resolve(s.Output),
			Operands:   s.Operands,
			Params:     s.Params,
			ActiveList: active,
		}
		used, err := kernels.Execute(s.Table, mode, p.ctx.Detector, job)
		if err != nil {
			return err
		}
		cfg.Saturations += job.Saturations
		cfg.Modes = append(cfg.Modes, used)
	}
	return nil
}

// bind builds per-call copies of the input, output and link tensors.
func (p *Pipeline) bind(buffers Buffers) (map[*tensor.Tensor]*tensor.Tensor, error) {
	first, last := p.Stages[0], p.Stages[len(p.Stages)-1]
	bound := make(map[*tensor.Tensor]*tensor.Tensor, len(p.links)+2)
	if buf, ok := buffers[catalog.OperandInput]; ok {
		if err := checkBuffer(first.inputCheck, first.Input, buf, catalog.OperandInput); err != nil {
			return nil, err
		}
		c := first.Input.Clone()
		c.Buffer = buf
		bound[first.Input] = c
	}
	if buf, ok := buffers[catalog.OperandOutput]; ok {
		if err := checkBuffer(last.outputCheck, last.Output, buf, catalog.OperandOutput); err != nil {
			return nil, err
		}
		c := last.Output.Clone()
		c.Buffer = buf
		bound[last.Output] = c
	}
	var scratch [][]byte
	if buf, ok := buffers[catalog.OperandScratch]; ok && len(p.links) > 0 {
		var err error
		if scratch, err = p.splitScratch(buf); err != nil {
			return nil, err
		}
	}
	for i, l := range p.links {
		c := l.t.Clone()
		if scratch != nil {
			c.Buffer = scratch[i]
		} else {
			c.Buffer = tensor.AlignedBuffer(int(l.t.Size), catalog.BufferAlignment)
		}
		bound[l.t] = c
	}
	return bound, nil
}
